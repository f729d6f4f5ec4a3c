package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const MessageMaxBodyLength = 900

var ErrMessageBodyTooLong = fmt.Errorf("message body exceeds %d characters", MessageMaxBodyLength)
var ErrMessageBodyEmpty = errors.New("message body cannot be empty")

// DirectMessage is a persisted DM between two registered users.
type DirectMessage struct {
	ID        int64     `json:"id"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Content   string    `json:"content"`
	SentAt    time.Time `json:"sent_at"`
	Delivered bool      `json:"delivered"` // reached a live session when sent or on a later login
}

func (m *DirectMessage) Validate() error {
	if m.Sender == "" || m.Recipient == "" {
		return errors.New("direct message needs sender and recipient")
	}
	return validateBody(m.Content)
}

// Involves reports whether the message is between a and b, in either direction.
func (m DirectMessage) Involves(a, b string) bool {
	return (m.Sender == a && m.Recipient == b) || (m.Sender == b && m.Recipient == a)
}

// GroupMessage is a persisted message posted to a group.
type GroupMessage struct {
	ID      int64     `json:"id"`
	Group   string    `json:"group"`
	Sender  string    `json:"sender"`
	Content string    `json:"content"`
	SentAt  time.Time `json:"sent_at"`
}

func (m *GroupMessage) Validate() error {
	if m.Group == "" || m.Sender == "" {
		return errors.New("group message needs group and sender")
	}
	return validateBody(m.Content)
}

func validateBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return ErrMessageBodyEmpty
	} else if utf8.RuneCountInString(body) > MessageMaxBodyLength {
		return ErrMessageBodyTooLong
	}
	return nil
}

// Package protocol defines the udpchat datagram grammar.
//
// Every datagram carries one UTF-8 frame whose fields are colon-delimited.
// Client frames decode into a closed set of Command variants via ParseCommand;
// server frames decode into Frame variants via ParseServerFrame. Any client
// frame whose command word is not recognized is plain all-chat text.
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// MaxDatagram is the largest datagram either side reads.
	MaxDatagram = 4096

	// ServerPrefix marks server notices and state broadcasts.
	ServerPrefix = "[Server] "
)

// ErrMalformedFrame is returned when a recognized command word carries the wrong shape.
var ErrMalformedFrame = errors.New("protocol: malformed frame")

func malformed(word, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrMalformedFrame, word, reason)
}

// AuthAction selects the auth flow.
type AuthAction string

const (
	AuthEnter    AuthAction = "enter"
	AuthRegister AuthAction = "register"
	AuthLogin    AuthAction = "login"
)

// GroupAction selects the group operation.
type GroupAction string

const (
	GroupCreate GroupAction = "create"
	GroupManage GroupAction = "manage"
)

// Decision is a file-offer response.
type Decision string

const (
	DecisionAccept  Decision = "ACCEPT"
	DecisionReject  Decision = "REJECT"
	DecisionTimeout Decision = "TIMEOUT" // server-generated, offer expired or peer left
)

func parseDecision(s string) (Decision, bool) {
	switch d := Decision(s); d {
	case DecisionAccept, DecisionReject, DecisionTimeout:
		return d, true
	}
	return "", false
}

func parsePort(word, s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 || n > 65535 {
		return 0, malformed(word, "invalid port "+strconv.Quote(s))
	}
	return n, nil
}

func parseMillis(word, s string) (time.Time, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, malformed(word, "invalid timestamp "+strconv.Quote(s))
	}
	return time.UnixMilli(n), nil
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// splitList splits a comma-separated list, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// cutLast splits s at its last colon.
func cutLast(s string) (before, after string, ok bool) {
	i := strings.LastIndexByte(s, ':')
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+1:], true
}

package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const MaxUsernameLength = 32

var ErrUsernameEmpty = errors.New("username must not be empty")
var ErrUsernameTooLong = fmt.Errorf("username must not exceed %d characters", MaxUsernameLength)
var ErrUsernameInvalidChars = errors.New("username must contain only alphanumeric characters, underscores, or hyphens")
var ErrUsernameReserved = fmt.Errorf("username must not start with %q", GuestPrefix)
var ErrUsernameNumeric = errors.New("username must not be a number")
var ErrCredentialEmpty = errors.New("credential must not be empty")

// User represents a registered user.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Credential   string    `json:"-"` // encoded argon2id digest of the client password hash
	LastSeenPort int       `json:"last_seen_port"`
	CreatedAt    time.Time `json:"created_at"`
}

// ValidateUsername checks that a username is 1-32 ASCII alphanumeric, underscore,
// or hyphen characters and does not collide with the guest namespace. Names
// that parse as integers are refused because DM and typing targets treat
// numbers as ports.
func ValidateUsername(name string) error {
	if len(name) == 0 {
		return ErrUsernameEmpty
	}
	if len(name) > MaxUsernameLength {
		return ErrUsernameTooLong
	}
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' && r != '-' {
			return ErrUsernameInvalidChars
		}
	}
	if strings.HasPrefix(name, GuestPrefix) {
		return ErrUsernameReserved
	}
	if _, err := strconv.Atoi(name); err == nil {
		return ErrUsernameNumeric
	}
	return nil
}

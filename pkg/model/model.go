// Package model defines the core domain types for udpchat.
package model

import (
	"strconv"
	"strings"
)

// GuestPrefix prefixes every guest label.
const GuestPrefix = "Guest_"

// Identity is the name a session is attributed to.
// The zero Identity stands for "not yet authenticated" and is shown as the guest label.
type Identity struct {
	Name       string `json:"name"`
	Registered bool   `json:"registered"`
}

// GuestIdentity returns the guest identity derived from a session ID.
// Guest labels are unique by construction because session IDs are.
func GuestIdentity(sessionID int) Identity {
	return Identity{Name: GuestLabel(sessionID)}
}

// GuestLabel returns "Guest_<sessionID>".
func GuestLabel(sessionID int) string {
	return GuestPrefix + strconv.Itoa(sessionID)
}

// IsGuestLabel reports whether name looks like a guest label.
func IsGuestLabel(name string) bool {
	rest, ok := strings.CutPrefix(name, GuestPrefix)
	if !ok || rest == "" {
		return false
	}
	_, err := strconv.Atoi(rest)
	return err == nil
}

// IsZero reports whether no identity has been assigned.
func (i Identity) IsZero() bool {
	return i.Name == ""
}

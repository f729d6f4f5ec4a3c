package model

import (
	"net"
	"time"
)

// Session represents one live client registration (in-memory only).
// ID is the client's ephemeral UDP source port.
type Session struct {
	ID         int
	Addr       *net.UDPAddr
	Identity   Identity
	LastActive time.Time
}

// Label returns the name the session is shown as: its identity, or its guest label.
func (s Session) Label() string {
	if s.Identity.IsZero() {
		return GuestLabel(s.ID)
	}
	return s.Identity.Name
}

// Registered reports whether the session is bound to a registered user.
func (s Session) Registered() bool {
	return s.Identity.Registered
}

// IP returns the session's IP as a string, or "" if unknown.
func (s Session) IP() string {
	if s.Addr == nil {
		return ""
	}
	return s.Addr.IP.String()
}

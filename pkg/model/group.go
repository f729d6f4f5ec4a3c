package model

import (
	"errors"
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

const MaxGroupNameLength = 64

var ErrGroupNameEmpty = errors.New("group name must not be empty")
var ErrGroupNameTooLong = errors.New("group name too long")
var ErrGroupNameInvalidChars = errors.New("group name must not contain ':' ',' or whitespace")
var ErrGroupOwnerEmpty = errors.New("group owner must not be empty")

// Group is a named chat group. Members always includes Owner.
type Group struct {
	Name      string    `json:"name"`
	Owner     string    `json:"owner"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"created_at"`
}

// NewGroup builds a group with normalized membership.
func NewGroup(name, owner string, members []string) *Group {
	g := &Group{Name: name, Owner: owner}
	g.SetMembers(members)
	return g
}

// SetMembers replaces the member set; the owner is always kept, blanks and
// duplicates are dropped and the result is sorted.
func (g *Group) SetMembers(members []string) {
	set := map[string]bool{g.Owner: true}
	for _, m := range members {
		if m = strings.TrimSpace(m); m != "" {
			set[m] = true
		}
	}
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	slices.Sort(out)
	g.Members = out
}

// HasMember reports whether name belongs to the group.
func (g *Group) HasMember(name string) bool {
	return slices.Contains(g.Members, name)
}

// Validate checks the group name and owner.
func (g *Group) Validate() error {
	if strings.TrimSpace(g.Name) == "" {
		return ErrGroupNameEmpty
	} else if utf8.RuneCountInString(g.Name) > MaxGroupNameLength {
		return ErrGroupNameTooLong
	}
	if strings.ContainsAny(g.Name, ":, \t\n") {
		return ErrGroupNameInvalidChars
	}
	if g.Owner == "" {
		return ErrGroupOwnerEmpty
	}
	return nil
}

package server

import (
	"errors"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/udpchat/udpchat/pkg/model"
)

var (
	ErrIdentityInUse  = errors.New("server: identity already bound to a live session")
	ErrUnknownSession = errors.New("server: unknown session")
)

// Registry owns the live session set. Every method copies sessions in and
// out, so callers never share a *model.Session with the map.
type Registry struct {
	mu       sync.Mutex
	now      func() time.Time
	timeout  time.Duration
	sessions map[int]*model.Session // session ID (client port) -> session
}

// NewRegistry creates a registry whose sessions expire after timeout of silence.
func NewRegistry(timeout time.Duration, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		now:      now,
		timeout:  timeout,
		sessions: make(map[int]*model.Session),
	}
}

// Register creates a session for id with the zero identity. An already-live
// id is touched and its address refreshed instead.
func (r *Registry) Register(id int, addr *net.UDPAddr) (model.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		s.Addr = addr
		s.LastActive = r.now()
		return *s, false
	}
	s := &model.Session{ID: id, Addr: addr, LastActive: r.now()}
	r.sessions[id] = s
	return *s, true
}

// Touch refreshes a session's activity time. It reports whether id is live.
func (r *Registry) Touch(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if ok {
		s.LastActive = r.now()
	}
	return ok
}

// Bind sets a session's identity. A registered name may be held by at most
// one live session; the check and the write happen under one lock.
func (r *Registry) Bind(id int, identity model.Identity) (model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return model.Session{}, ErrUnknownSession
	}
	if identity.Registered {
		for otherID, other := range r.sessions {
			if otherID != id && other.Identity.Registered && other.Identity.Name == identity.Name {
				return model.Session{}, ErrIdentityInUse
			}
		}
	}
	s.Identity = identity
	return *s, nil
}

// Deregister removes id and returns the removed session.
func (r *Registry) Deregister(id int) (model.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return model.Session{}, false
	}
	delete(r.sessions, id)
	return *s, true
}

// Expire removes every session idle for longer than the timeout.
func (r *Registry) Expire() []model.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.timeout)
	var expired []model.Session
	for id, s := range r.sessions {
		if s.LastActive.Before(cutoff) {
			expired = append(expired, *s)
			delete(r.sessions, id)
		}
	}
	sortSessions(expired)
	return expired
}

// Get returns the live session with the given id.
func (r *Registry) Get(id int) (model.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return model.Session{}, false
	}
	return *s, true
}

// Lookup resolves a port number or an identity label to a live session.
func (r *Registry) Lookup(target string) (model.Session, bool) {
	if port, err := strconv.Atoi(target); err == nil {
		return r.Get(port)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.Label() == target {
			return *s, true
		}
	}
	return model.Session{}, false
}

// Roster returns a snapshot of every live session ordered by id.
func (r *Registry) Roster() []model.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	sortSessions(out)
	return out
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func sortSessions(s []model.Session) {
	sort.Slice(s, func(i, j int) bool { return s[i].ID < s[j].ID })
}

// Package store provides an in-memory implementation of the datastore
// interfaces, used by tests and by servers started without a database.
package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/udpchat/udpchat/pkg/datastore"
	"github.com/udpchat/udpchat/pkg/model"
)

// MemoryStore provides an in-memory DataStore implementation.
// It mirrors SQLite behavior for validation and error handling.
type MemoryStore struct {
	mu sync.RWMutex

	now func() time.Time

	nextUserID     int64
	nextDMID       int64
	nextGroupMsgID int64

	usersByUsername map[string]*model.User
	directMessages  []*model.DirectMessage
	groupsByName    map[string]*model.Group
	groupMessages   []*model.GroupMessage
}

var (
	_ datastore.DataStore           = (*MemoryStore)(nil)
	_ datastore.DataProviderFactory = (*MemoryFactory)(nil)
)

// NewMemory creates a MemoryStore using time.Now().UTC().
func NewMemory() *MemoryStore {
	return NewMemoryWithClock(func() time.Time { return time.Now().UTC() })
}

// NewMemoryWithClock creates a MemoryStore with a custom clock.
func NewMemoryWithClock(now func() time.Time) *MemoryStore {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryStore{
		now:             now,
		nextUserID:      1,
		nextDMID:        1,
		nextGroupMsgID:  1,
		usersByUsername: make(map[string]*model.User),
		groupsByName:    make(map[string]*model.Group),
	}
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}

// ---- Users ----

func (s *MemoryStore) CreateUser(username, credential string) (*model.User, error) {
	if err := model.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("store: create user: %w", err)
	}
	if credential == "" {
		return nil, fmt.Errorf("store: create user: %w", model.ErrCredentialEmpty)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.usersByUsername[username]; exists {
		return nil, datastore.ErrUserExists
	}
	user := &model.User{
		ID:         s.nextUserID,
		Username:   username,
		Credential: credential,
		CreatedAt:  s.now().UTC(),
	}
	s.nextUserID++
	s.usersByUsername[username] = user
	copyUser := *user
	return &copyUser, nil
}

func (s *MemoryStore) GetUserByUsername(username string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.usersByUsername[username]
	if !ok {
		return nil, nil
	}
	copyUser := *user
	return &copyUser, nil
}

func (s *MemoryStore) ListUsers() ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]model.User, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (s *MemoryStore) SetLastSeenPort(username string, port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.usersByUsername[username]; ok {
		u.LastSeenPort = port
	}
	return nil
}

// ---- Direct messages ----

func (s *MemoryStore) CreateDirectMessage(message *model.DirectMessage) error {
	if err := message.Validate(); err != nil {
		return fmt.Errorf("store: direct message failed validation: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if message.SentAt.IsZero() {
		message.SentAt = s.now()
	}
	// Persisted timestamps carry millisecond precision, as in SQLite.
	message.SentAt = time.UnixMilli(message.SentAt.UnixMilli())
	message.ID = s.nextDMID
	s.nextDMID++
	stored := *message
	s.directMessages = append(s.directMessages, &stored)
	return nil
}

func (s *MemoryStore) ListDirectMessages(a, b string) ([]model.DirectMessage, error) {
	return s.filterDirectMessages(func(m *model.DirectMessage) bool { return m.Involves(a, b) }), nil
}

func (s *MemoryStore) ListUndelivered(recipient string) ([]model.DirectMessage, error) {
	return s.filterDirectMessages(func(m *model.DirectMessage) bool {
		return m.Recipient == recipient && !m.Delivered
	}), nil
}

func (s *MemoryStore) filterDirectMessages(keep func(*model.DirectMessage) bool) []model.DirectMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.DirectMessage
	for _, m := range s.directMessages {
		if keep(m) {
			out = append(out, *m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].SentAt.Equal(out[j].SentAt) {
			return out[i].SentAt.Before(out[j].SentAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *MemoryStore) MarkDelivered(ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.directMessages {
		if slices.Contains(ids, m.ID) {
			m.Delivered = true
		}
	}
	return nil
}

// DeliverPending drains recipient's offline queue. The store lock is
// released while deliver runs.
func (s *MemoryStore) DeliverPending(recipient string, deliver func(model.DirectMessage) bool) ([]model.DirectMessage, error) {
	pending, err := s.ListUndelivered(recipient)
	if err != nil {
		return nil, err
	}
	var sent []model.DirectMessage
	var ids []int64
	for _, m := range pending {
		if !deliver(m) {
			break
		}
		m.Delivered = true
		sent = append(sent, m)
		ids = append(ids, m.ID)
	}
	if err := s.MarkDelivered(ids); err != nil {
		return nil, err
	}
	return sent, nil
}

// ---- Groups ----

func (s *MemoryStore) CreateGroup(group *model.Group) error {
	if err := group.Validate(); err != nil {
		return fmt.Errorf("store: create group: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.groupsByName[group.Name]; exists {
		return datastore.ErrGroupExists
	}
	group.CreatedAt = s.now().UTC()
	stored := *group
	stored.Members = slices.Clone(group.Members)
	s.groupsByName[group.Name] = &stored
	return nil
}

func (s *MemoryStore) UpdateGroupMembers(name string, members []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groupsByName[name]
	if !ok {
		return datastore.ErrGroupNotFound
	}
	g.Members = slices.Clone(members)
	return nil
}

func (s *MemoryStore) GetGroup(name string) (*model.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groupsByName[name]
	if !ok {
		return nil, nil
	}
	out := *g
	out.Members = slices.Clone(g.Members)
	return &out, nil
}

func (s *MemoryStore) ListGroups() ([]model.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	groups := make([]model.Group, 0, len(s.groupsByName))
	for _, g := range s.groupsByName {
		out := *g
		out.Members = slices.Clone(g.Members)
		groups = append(groups, out)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	return groups, nil
}

// ---- Group messages ----

func (s *MemoryStore) CreateGroupMessage(message *model.GroupMessage) error {
	if err := message.Validate(); err != nil {
		return fmt.Errorf("store: group message failed validation: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if message.SentAt.IsZero() {
		message.SentAt = s.now()
	}
	message.SentAt = time.UnixMilli(message.SentAt.UnixMilli())
	message.ID = s.nextGroupMsgID
	s.nextGroupMsgID++
	stored := *message
	s.groupMessages = append(s.groupMessages, &stored)
	return nil
}

func (s *MemoryStore) ListGroupMessages(group string) ([]model.GroupMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.GroupMessage
	for _, m := range s.groupMessages {
		if m.Group == group {
			out = append(out, *m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SentAt.Before(out[j].SentAt) })
	return out, nil
}

// MemoryFactory adapts a MemoryStore to datastore.DataProviderFactory.
// Transactions share the store; Commit and Rollback are no-ops.
type MemoryFactory struct {
	Store *MemoryStore
}

// NewMemoryFactory wraps a fresh MemoryStore.
func NewMemoryFactory() *MemoryFactory {
	return &MemoryFactory{Store: NewMemory()}
}

func (f *MemoryFactory) NonTx() datastore.DataStore {
	return f.Store
}

func (f *MemoryFactory) Tx(context.Context) (datastore.DataStoreTx, error) {
	return memoryTx{f.Store}, nil
}

type memoryTx struct {
	*MemoryStore
}

func (memoryTx) Commit() error   { return nil }
func (memoryTx) Rollback() error { return nil }

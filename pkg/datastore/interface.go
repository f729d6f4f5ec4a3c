package datastore

import (
	"context"
	"errors"

	"github.com/udpchat/udpchat/pkg/model"
)

var (
	ErrUserExists    = errors.New("datastore: username already registered")
	ErrGroupExists   = errors.New("datastore: group already exists")
	ErrGroupNotFound = errors.New("datastore: group not found")
)

type DataProviderFactory interface {
	NonTx() DataStore
	Tx(context.Context) (DataStoreTx, error)
}

type DataStoreTx interface {
	DataStore
	DeliveryTransactionProvider
	Rollback() error
	Commit() error
}

// DataStore defines the persistence interface for accounts, direct messages,
// groups and group messages. Implementations include the default SQLite store
// and the in-memory store in package store.
type DataStore interface {
	ConfigReadProvider

	UserReadProvider
	UserWriteProvider

	DirectMessageReadProvider
	DirectMessageWriteProvider

	GroupReadProvider
	GroupWriteProvider

	GroupMessageReadProvider
	GroupMessageWriteProvider
}

// Compile-time check: *ProviderFactory implements DataProviderFactory.
var _ DataProviderFactory = (*ProviderFactory)(nil)

type ConfigReadProvider interface {
	Close() error
}

type UserReadProvider interface {
	// GetUserByUsername returns nil, nil when no such user exists.
	GetUserByUsername(username string) (*model.User, error)
	ListUsers() ([]model.User, error)
}

type UserWriteProvider interface {
	CreateUser(username, credential string) (*model.User, error)
	SetLastSeenPort(username string, port int) error
}

type DirectMessageReadProvider interface {
	// ListDirectMessages returns every DM between a and b in either direction,
	// oldest first.
	ListDirectMessages(a, b string) ([]model.DirectMessage, error)
	ListUndelivered(recipient string) ([]model.DirectMessage, error)
}

type DirectMessageWriteProvider interface {
	CreateDirectMessage(message *model.DirectMessage) error
	MarkDelivered(ids []int64) error
}

type GroupReadProvider interface {
	// GetGroup returns nil, nil when no such group exists.
	GetGroup(name string) (*model.Group, error)
	ListGroups() ([]model.Group, error)
}

type GroupWriteProvider interface {
	CreateGroup(group *model.Group) error
	UpdateGroupMembers(name string, members []string) error
}

type GroupMessageReadProvider interface {
	ListGroupMessages(group string) ([]model.GroupMessage, error)
}

type GroupMessageWriteProvider interface {
	CreateGroupMessage(message *model.GroupMessage) error
}

type DeliveryTransactionProvider interface {
	// DeliverPending passes recipient's undelivered DMs, oldest first, to
	// deliver and marks delivered those it accepted, stopping at the first
	// refusal. It returns the marked messages, committing on success and
	// rolling back otherwise.
	DeliverPending(recipient string, deliver func(model.DirectMessage) bool) ([]model.DirectMessage, error)
}

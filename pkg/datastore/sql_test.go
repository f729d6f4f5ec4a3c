package datastore_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/udpchat/udpchat/pkg/crypto"
	"github.com/udpchat/udpchat/pkg/datastore"
	"github.com/udpchat/udpchat/pkg/model"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func NewTestSqlConn(t *testing.T) (*datastore.ProviderFactory, error) {
	t.Helper()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	st, err := datastore.NewProviderFactory(dbPath)
	if err != nil {
		return nil, fmt.Errorf("store_test: failed to open db: %w", err)
	}

	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			fmt.Printf("Error closing database: %v\n", err)
		}
	})

	return st, nil
}

func mustCredential(t *testing.T, password string) string {
	t.Helper()
	cred, err := crypto.HashCredential(crypto.HashPassword(password))
	if err != nil {
		t.Fatalf("HashCredential: %v", err)
	}
	return cred
}

func TestCreateUser(t *testing.T) {
	t.Parallel()

	type tcase struct {
		username  string
		expectErr bool
	}

	tcases := map[string]tcase{
		"minimum_required_fields": {
			username: "johndoe",
		},
		"injection_username": { // quotes, spaces and equals are rejected before reaching SQL
			username:  "' OR '1'='1",
			expectErr: true,
		},
		"empty_username": {
			username:  "",
			expectErr: true,
		},
		"full_username": { // 65 characters
			username:  "24433252080542468109190329288548376491503980265648043643151614656",
			expectErr: true,
		},
		"guest_prefix": {
			username:  "Guest_5001",
			expectErr: true,
		},
	}

	fn := func(tc tcase) func(*testing.T) {
		return func(t *testing.T) {
			store, err := NewTestSqlConn(t)
			if err != nil {
				t.Fatalf("failed to open test connection: %v", err)
			}

			cred := mustCredential(t, "secret")
			got, err := store.NonTx().CreateUser(tc.username, cred)
			if tc.expectErr {
				if err == nil {
					t.Fatalf("CreateUser: expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("CreateUser: unexpected error: %v", err)
			}

			want := &model.User{
				Username:   tc.username,
				Credential: cred,
			}

			if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(model.User{}, "ID", "CreatedAt")); diff != "" {
				t.Errorf("store.NonTx().CreateUser mismatch (-want +got):\n%s", diff)
			}
		}
	}

	for name, tc := range tcases {
		t.Run(name, fn(tc))
	}
}

func TestCreateUserDuplicate(t *testing.T) {
	t.Parallel()

	store, err := NewTestSqlConn(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}
	ds := store.NonTx()
	if _, err := ds.CreateUser("alice", mustCredential(t, "a")); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := ds.CreateUser("alice", mustCredential(t, "b")); !errors.Is(err, datastore.ErrUserExists) {
		t.Fatalf("CreateUser duplicate: got %v, want ErrUserExists", err)
	}
}

func TestGetUserByUsername(t *testing.T) {
	t.Parallel()

	store, err := NewTestSqlConn(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}
	ds := store.NonTx()

	missing, err := ds.GetUserByUsername("nobody")
	if err != nil || missing != nil {
		t.Fatalf("GetUserByUsername(missing) = %v, %v; want nil, nil", missing, err)
	}

	created, err := ds.CreateUser("alice", mustCredential(t, "a"))
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := ds.SetLastSeenPort("alice", 5001); err != nil {
		t.Fatalf("SetLastSeenPort: %v", err)
	}

	got, err := ds.GetUserByUsername("alice")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	want := &model.User{ID: created.ID, Username: "alice", Credential: created.Credential, LastSeenPort: 5001}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(model.User{}, "CreatedAt")); diff != "" {
		t.Errorf("GetUserByUsername mismatch (-want +got):\n%s", diff)
	}
	if got.CreatedAt.IsZero() {
		t.Error("GetUserByUsername: CreatedAt not populated")
	}
}

func TestListUsers(t *testing.T) {
	t.Parallel()

	store, err := NewTestSqlConn(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}
	ds := store.NonTx()
	for _, name := range []string{"carol", "alice", "bob"} {
		if _, err := ds.CreateUser(name, mustCredential(t, name)); err != nil {
			t.Fatalf("CreateUser(%s): %v", name, err)
		}
	}

	users, err := ds.ListUsers()
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	var names []string
	for _, u := range users {
		names = append(names, u.Username)
	}
	if diff := cmp.Diff([]string{"alice", "bob", "carol"}, names); diff != "" {
		t.Errorf("ListUsers order mismatch (-want +got):\n%s", diff)
	}
}

func TestDirectMessages(t *testing.T) {
	t.Parallel()

	store, err := NewTestSqlConn(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}
	ds := store.NonTx()

	base := time.UnixMilli(1_700_000_000_000)
	msgs := []*model.DirectMessage{
		{Sender: "alice", Recipient: "bob", Content: "hi", SentAt: base, Delivered: true},
		{Sender: "bob", Recipient: "alice", Content: "hey", SentAt: base.Add(time.Second), Delivered: true},
		{Sender: "carol", Recipient: "bob", Content: "unrelated", SentAt: base.Add(2 * time.Second)},
		{Sender: "alice", Recipient: "bob", Content: "you there?", SentAt: base.Add(3 * time.Second)},
	}
	for _, m := range msgs {
		if err := ds.CreateDirectMessage(m); err != nil {
			t.Fatalf("CreateDirectMessage: %v", err)
		}
		if m.ID == 0 {
			t.Fatalf("CreateDirectMessage: expected non-zero ID")
		}
	}

	between, err := ds.ListDirectMessages("bob", "alice")
	if err != nil {
		t.Fatalf("ListDirectMessages: %v", err)
	}
	want := []model.DirectMessage{*msgs[0], *msgs[1], *msgs[3]}
	if diff := cmp.Diff(want, between); diff != "" {
		t.Errorf("ListDirectMessages mismatch (-want +got):\n%s", diff)
	}

	undelivered, err := ds.ListUndelivered("bob")
	if err != nil {
		t.Fatalf("ListUndelivered: %v", err)
	}
	if diff := cmp.Diff([]model.DirectMessage{*msgs[2], *msgs[3]}, undelivered); diff != "" {
		t.Errorf("ListUndelivered mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateDirectMessageValidation(t *testing.T) {
	t.Parallel()

	store, err := NewTestSqlConn(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}
	err = store.NonTx().CreateDirectMessage(&model.DirectMessage{Sender: "alice", Recipient: "bob", Content: "   "})
	if !errors.Is(err, model.ErrMessageBodyEmpty) {
		t.Errorf("CreateDirectMessage(blank) = %v, want ErrMessageBodyEmpty", err)
	}
}

func TestDeliverPending(t *testing.T) {
	t.Parallel()

	store, err := NewTestSqlConn(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}
	ds := store.NonTx()
	base := time.UnixMilli(1_700_000_000_000)
	for i, content := range []string{"one", "two"} {
		m := &model.DirectMessage{Sender: "alice", Recipient: "bob", Content: content, SentAt: base.Add(time.Duration(i) * time.Second)}
		if err := ds.CreateDirectMessage(m); err != nil {
			t.Fatalf("CreateDirectMessage: %v", err)
		}
	}

	tx, err := store.Tx(context.Background())
	if err != nil {
		t.Fatalf("Tx: %v", err)
	}
	pending, err := tx.DeliverPending("bob", func(model.DirectMessage) bool { return true })
	if err != nil {
		t.Fatalf("DeliverPending: %v", err)
	}
	var contents []string
	for _, m := range pending {
		contents = append(contents, m.Content)
		if !m.Delivered {
			t.Errorf("DeliverPending returned %q not marked delivered", m.Content)
		}
	}
	if diff := cmp.Diff([]string{"one", "two"}, contents); diff != "" {
		t.Errorf("DeliverPending order mismatch (-want +got):\n%s", diff)
	}

	left, err := ds.ListUndelivered("bob")
	if err != nil {
		t.Fatalf("ListUndelivered: %v", err)
	}
	if len(left) != 0 {
		t.Errorf("ListUndelivered after delivery = %d messages, want 0", len(left))
	}
}

func TestGroups(t *testing.T) {
	t.Parallel()

	store, err := NewTestSqlConn(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}
	ds := store.NonTx()

	g := model.NewGroup("devs", "alice", []string{"bob"})
	if err := ds.CreateGroup(g); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if err := ds.CreateGroup(model.NewGroup("devs", "carol", nil)); !errors.Is(err, datastore.ErrGroupExists) {
		t.Fatalf("CreateGroup duplicate = %v, want ErrGroupExists", err)
	}
	if err := ds.CreateGroup(model.NewGroup("bad:name", "alice", nil)); !errors.Is(err, model.ErrGroupNameInvalidChars) {
		t.Fatalf("CreateGroup invalid = %v, want ErrGroupNameInvalidChars", err)
	}

	got, err := ds.GetGroup("devs")
	if err != nil {
		t.Fatalf("GetGroup: %v", err)
	}
	want := &model.Group{Name: "devs", Owner: "alice", Members: []string{"alice", "bob"}}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(model.Group{}, "CreatedAt")); diff != "" {
		t.Errorf("GetGroup mismatch (-want +got):\n%s", diff)
	}

	if err := ds.UpdateGroupMembers("devs", []string{"alice", "carol"}); err != nil {
		t.Fatalf("UpdateGroupMembers: %v", err)
	}
	if err := ds.UpdateGroupMembers("nope", []string{"x"}); !errors.Is(err, datastore.ErrGroupNotFound) {
		t.Fatalf("UpdateGroupMembers(missing) = %v, want ErrGroupNotFound", err)
	}

	groups, err := ds.ListGroups()
	if err != nil {
		t.Fatalf("ListGroups: %v", err)
	}
	wantAll := []model.Group{{Name: "devs", Owner: "alice", Members: []string{"alice", "carol"}}}
	if diff := cmp.Diff(wantAll, groups, cmpopts.IgnoreFields(model.Group{}, "CreatedAt")); diff != "" {
		t.Errorf("ListGroups mismatch (-want +got):\n%s", diff)
	}

	missing, err := ds.GetGroup("nope")
	if err != nil || missing != nil {
		t.Errorf("GetGroup(missing) = %v, %v; want nil, nil", missing, err)
	}
}

func TestGroupMessages(t *testing.T) {
	t.Parallel()

	store, err := NewTestSqlConn(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}
	ds := store.NonTx()
	base := time.UnixMilli(1_700_000_000_000)

	msgs := []*model.GroupMessage{
		{Group: "devs", Sender: "alice", Content: "first", SentAt: base},
		{Group: "ops", Sender: "carol", Content: "elsewhere", SentAt: base},
		{Group: "devs", Sender: "bob", Content: "second", SentAt: base.Add(time.Second)},
	}
	for _, m := range msgs {
		if err := ds.CreateGroupMessage(m); err != nil {
			t.Fatalf("CreateGroupMessage: %v", err)
		}
	}

	got, err := ds.ListGroupMessages("devs")
	if err != nil {
		t.Fatalf("ListGroupMessages: %v", err)
	}
	if diff := cmp.Diff([]model.GroupMessage{*msgs[0], *msgs[2]}, got); diff != "" {
		t.Errorf("ListGroupMessages mismatch (-want +got):\n%s", diff)
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "reopen.db")
	first, err := datastore.NewProviderFactory(path)
	if err != nil {
		t.Fatalf("NewProviderFactory: %v", err)
	}
	if _, err := first.NonTx().CreateUser("alice", mustCredential(t, "a")); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, err := datastore.NewProviderFactory(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = second.Close() }()
	u, err := second.NonTx().GetUserByUsername("alice")
	if err != nil || u == nil {
		t.Fatalf("GetUserByUsername after reopen = %v, %v", u, err)
	}
}

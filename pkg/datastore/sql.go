package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/udpchat/udpchat/pkg/model"
)

const dbTimeLayout = "2006-01-02 15:04:05"

type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type baseProvider struct {
	DB
}

func (p *baseProvider) Close() error {
	return nil
}

type nonTxProvider struct {
	baseProvider
}

type txProvider struct {
	baseProvider
	tx *sql.Tx
}

func (c *txProvider) Rollback() error {
	return c.tx.Rollback()
}

func (c *txProvider) Commit() error {
	return c.tx.Commit()
}

// ProviderFactory provides database access for all udpchat entities.
type ProviderFactory struct {
	DB *sql.DB
}

func (sf ProviderFactory) NonTx() DataStore {
	return &nonTxProvider{
		baseProvider: baseProvider{
			DB: sf.DB,
		},
	}
}

func (sf ProviderFactory) Tx(ctx context.Context) (DataStoreTx, error) {
	tx, err := sf.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	return &txProvider{
		baseProvider: baseProvider{
			DB: tx,
		},
		tx: tx,
	}, nil
}

// NewProviderFactory opens (or creates) a SQLite database and runs migrations.
func NewProviderFactory(dbPath string) (*ProviderFactory, error) {
	DB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("datastore: open DB: %w", err)
	}

	ctx := context.Background()

	// WAL lets history reads proceed while the router writes.
	if _, err := DB.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: set WAL: %w", err)
	}
	if _, err := DB.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: set busy_timeout: %w", err)
	}

	s := &ProviderFactory{DB: DB}
	if err := s.migrate(); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *ProviderFactory) Close() error {
	return s.DB.Close()
}

func (s *ProviderFactory) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		username       TEXT    NOT NULL UNIQUE CHECK(length(username) > 0 AND length(username) <= 32),
		credential     TEXT    NOT NULL,
		last_seen_port INTEGER NOT NULL DEFAULT 0,
		created_at     TEXT    NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS direct_messages (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		sender    TEXT    NOT NULL,
		recipient TEXT    NOT NULL,
		content   TEXT    NOT NULL,
		sent_at   INTEGER NOT NULL,
		delivered INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS chat_groups (
		name       TEXT PRIMARY KEY,
		owner      TEXT NOT NULL,
		members    TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS group_messages (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		group_name TEXT    NOT NULL,
		sender     TEXT    NOT NULL,
		content    TEXT    NOT NULL,
		sent_at    INTEGER NOT NULL
	);
	`
	ctx := context.Background()
	if err := s.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version      int
		statements   []string
		ignoreErrors bool
	}{
		{
			version:    1,
			statements: []string{schema},
		},
		{
			version: 2,
			statements: []string{
				"CREATE INDEX IF NOT EXISTS idx_dm_recipient_delivered ON direct_messages (recipient, delivered)",
				"CREATE INDEX IF NOT EXISTS idx_group_messages_group ON group_messages (group_name, sent_at)",
			},
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if err := s.execMigration(ctx, stmt, m.ignoreErrors); err != nil {
				return err
			}
		}
		if err := s.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (s *ProviderFactory) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("datastore: create schema_migrations: %w", err)
	}
	var count int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("datastore: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := s.DB.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("datastore: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (s *ProviderFactory) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.DB.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("datastore: read schema version: %w", err)
	}
	return version, nil
}

func (s *ProviderFactory) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := s.DB.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("datastore: update schema version: %w", err)
	}
	return nil
}

func (s *ProviderFactory) execMigration(ctx context.Context, stmt string, ignoreErrors bool) error {
	if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
		if ignoreErrors {
			return nil
		}
		return fmt.Errorf("datastore: migrate: %w", err)
	}
	return nil
}

func parseDBTime(value string) (time.Time, error) {
	return time.ParseInLocation(dbTimeLayout, value, time.UTC)
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ---- Users ----

// CreateUser registers a new account. It validates the username before inserting.
func (s *baseProvider) CreateUser(username, credential string) (*model.User, error) {
	if err := model.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("datastore: create user: %w", err)
	}
	if credential == "" {
		return nil, fmt.Errorf("datastore: create user: %w", model.ErrCredentialEmpty)
	}
	res, err := s.ExecContext(context.Background(), "INSERT INTO users (username, credential) VALUES (?, ?)", username, credential)
	if isUniqueViolation(err) {
		return nil, ErrUserExists
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: create user: %w", err)
	}
	id, _ := res.LastInsertId()
	return &model.User{
		ID:         id,
		Username:   username,
		Credential: credential,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// GetUserByUsername retrieves a user by username.
func (s *baseProvider) GetUserByUsername(username string) (*model.User, error) {
	u := &model.User{}
	var createdAt string
	err := s.QueryRowContext(context.Background(),
		"SELECT id, username, credential, last_seen_port, created_at FROM users WHERE username = ?", username).
		Scan(&u.ID, &u.Username, &u.Credential, &u.LastSeenPort, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get user: %w", err)
	}
	parsed, err := parseDBTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("datastore: get user: %w", err)
	}
	u.CreatedAt = parsed
	return u, nil
}

// ListUsers returns all users ordered by username.
func (s *baseProvider) ListUsers() ([]model.User, error) {
	rows, err := s.QueryContext(context.Background(),
		"SELECT id, username, credential, last_seen_port, created_at FROM users ORDER BY username")
	if err != nil {
		return nil, fmt.Errorf("datastore: list users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []model.User
	for rows.Next() {
		var u model.User
		var createdAt string
		if err := rows.Scan(&u.ID, &u.Username, &u.Credential, &u.LastSeenPort, &createdAt); err != nil {
			return nil, fmt.Errorf("datastore: scan user: %w", err)
		}
		parsed, err := parseDBTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan user: %w", err)
		}
		u.CreatedAt = parsed
		users = append(users, u)
	}
	return users, rows.Err()
}

// SetLastSeenPort records the port a user last logged in from.
func (s *baseProvider) SetLastSeenPort(username string, port int) error {
	_, err := s.ExecContext(context.Background(), "UPDATE users SET last_seen_port = ? WHERE username = ?", port, username)
	if err != nil {
		return fmt.Errorf("datastore: set last seen port: %w", err)
	}
	return nil
}

// ---- Direct messages ----

func (s *baseProvider) CreateDirectMessage(message *model.DirectMessage) error {
	if err := message.Validate(); err != nil {
		return fmt.Errorf("datastore: direct message failed validation: %w", err)
	}
	if message.SentAt.IsZero() {
		message.SentAt = time.Now()
	}
	res, err := s.ExecContext(context.Background(),
		"INSERT INTO direct_messages (sender, recipient, content, sent_at, delivered) VALUES (?, ?, ?, ?, ?)",
		message.Sender, message.Recipient, message.Content, message.SentAt.UnixMilli(), boolInt(message.Delivered))
	if err != nil {
		return fmt.Errorf("datastore: create direct message: %w", err)
	}
	message.ID, _ = res.LastInsertId()
	return nil
}

func (s *baseProvider) ListDirectMessages(a, b string) ([]model.DirectMessage, error) {
	return s.queryDirectMessages("datastore: list direct messages", `
		SELECT id, sender, recipient, content, sent_at, delivered
		FROM direct_messages
		WHERE (sender = ? AND recipient = ?) OR (sender = ? AND recipient = ?)
		ORDER BY sent_at, id`, a, b, b, a)
}

func (s *baseProvider) ListUndelivered(recipient string) ([]model.DirectMessage, error) {
	return s.queryDirectMessages("datastore: list undelivered", `
		SELECT id, sender, recipient, content, sent_at, delivered
		FROM direct_messages
		WHERE recipient = ? AND delivered = 0
		ORDER BY sent_at, id`, recipient)
}

func (s *baseProvider) queryDirectMessages(op, query string, args ...any) ([]model.DirectMessage, error) {
	rows, err := s.QueryContext(context.Background(), query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = rows.Close() }()

	var messages []model.DirectMessage
	for rows.Next() {
		var m model.DirectMessage
		var sentAt int64
		var delivered int
		if err := rows.Scan(&m.ID, &m.Sender, &m.Recipient, &m.Content, &sentAt, &delivered); err != nil {
			return nil, fmt.Errorf("datastore: scan direct message: %w", err)
		}
		m.SentAt = time.UnixMilli(sentAt)
		m.Delivered = delivered != 0
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *baseProvider) MarkDelivered(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.ExecContext(context.Background(),
		"UPDATE direct_messages SET delivered = 1 WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return fmt.Errorf("datastore: mark delivered: %w", err)
	}
	return nil
}

// DeliverPending drains recipient's offline queue in order, handing each
// message to deliver. Only the messages deliver accepted are marked; the
// first refusal stops the drain and leaves the rest queued.
func (s *txProvider) DeliverPending(recipient string, deliver func(model.DirectMessage) bool) ([]model.DirectMessage, error) {
	defer func() { _ = s.Rollback() }()

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
	if err := s.Commit(); err != nil {
		return nil, fmt.Errorf("datastore: commit: %w", err)
	}
	return sent, nil
}

// ---- Groups ----

func (s *baseProvider) CreateGroup(group *model.Group) error {
	if err := group.Validate(); err != nil {
		return fmt.Errorf("datastore: create group: %w", err)
	}
	_, err := s.ExecContext(context.Background(),
		"INSERT INTO chat_groups (name, owner, members) VALUES (?, ?, ?)",
		group.Name, group.Owner, strings.Join(group.Members, ","))
	if isUniqueViolation(err) {
		return ErrGroupExists
	}
	if err != nil {
		return fmt.Errorf("datastore: create group: %w", err)
	}
	group.CreatedAt = time.Now().UTC()
	return nil
}

func (s *baseProvider) UpdateGroupMembers(name string, members []string) error {
	res, err := s.ExecContext(context.Background(),
		"UPDATE chat_groups SET members = ? WHERE name = ?", strings.Join(members, ","), name)
	if err != nil {
		return fmt.Errorf("datastore: update group members: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrGroupNotFound
	}
	return nil
}

func (s *baseProvider) GetGroup(name string) (*model.Group, error) {
	var g model.Group
	var members, createdAt string
	err := s.QueryRowContext(context.Background(),
		"SELECT name, owner, members, created_at FROM chat_groups WHERE name = ?", name).
		Scan(&g.Name, &g.Owner, &members, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get group: %w", err)
	}
	if err := fillGroup(&g, members, createdAt); err != nil {
		return nil, fmt.Errorf("datastore: get group: %w", err)
	}
	return &g, nil
}

func (s *baseProvider) ListGroups() ([]model.Group, error) {
	rows, err := s.QueryContext(context.Background(),
		"SELECT name, owner, members, created_at FROM chat_groups ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("datastore: list groups: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var groups []model.Group
	for rows.Next() {
		var g model.Group
		var members, createdAt string
		if err := rows.Scan(&g.Name, &g.Owner, &members, &createdAt); err != nil {
			return nil, fmt.Errorf("datastore: scan group: %w", err)
		}
		if err := fillGroup(&g, members, createdAt); err != nil {
			return nil, fmt.Errorf("datastore: scan group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func fillGroup(g *model.Group, members, createdAt string) error {
	if members != "" {
		g.Members = strings.Split(members, ",")
	}
	parsed, err := parseDBTime(createdAt)
	if err != nil {
		return err
	}
	g.CreatedAt = parsed
	return nil
}

// ---- Group messages ----

func (s *baseProvider) CreateGroupMessage(message *model.GroupMessage) error {
	if err := message.Validate(); err != nil {
		return fmt.Errorf("datastore: group message failed validation: %w", err)
	}
	if message.SentAt.IsZero() {
		message.SentAt = time.Now()
	}
	res, err := s.ExecContext(context.Background(),
		"INSERT INTO group_messages (group_name, sender, content, sent_at) VALUES (?, ?, ?, ?)",
		message.Group, message.Sender, message.Content, message.SentAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("datastore: create group message: %w", err)
	}
	message.ID, _ = res.LastInsertId()
	return nil
}

func (s *baseProvider) ListGroupMessages(group string) ([]model.GroupMessage, error) {
	rows, err := s.QueryContext(context.Background(), `
		SELECT id, group_name, sender, content, sent_at
		FROM group_messages
		WHERE group_name = ?
		ORDER BY sent_at, id`, group)
	if err != nil {
		return nil, fmt.Errorf("datastore: list group messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []model.GroupMessage
	for rows.Next() {
		var m model.GroupMessage
		var sentAt int64
		if err := rows.Scan(&m.ID, &m.Group, &m.Sender, &m.Content, &sentAt); err != nil {
			return nil, fmt.Errorf("datastore: scan group message: %w", err)
		}
		m.SentAt = time.UnixMilli(sentAt)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

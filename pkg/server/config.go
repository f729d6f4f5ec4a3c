package server

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/udpchat/udpchat/pkg/datastore"
	"github.com/udpchat/udpchat/pkg/model"
)

// Config holds server configuration.
type Config struct {
	ListenAddr         string        `yaml:"listen_addr"`          // UDP bind address (e.g. ":12345")
	DBPath             string        `yaml:"db_path"`              // SQLite database path; -memory selects the in-memory store instead
	MetricsAddr        string        `yaml:"metrics_addr"`         // HTTP bind address for /metrics (empty = disabled)
	GroupsFile         string        `yaml:"groups_file"`          // YAML file defining groups to create on startup
	SessionTimeout     time.Duration `yaml:"session_timeout"`      // silence after which a session is expired
	BroadcastInterval  time.Duration `yaml:"broadcast_interval"`   // sweep and state re-broadcast period
	OfferTimeout       time.Duration `yaml:"offer_timeout"`        // unanswered file offers are dropped after this
	MetricsLogInterval time.Duration `yaml:"metrics_log_interval"` // periodic metrics summary (0 = off)

	// CLI-only actions (run and exit)
	ExportUsers  bool `yaml:"-"` // export all users as YAML and exit
	ExportGroups bool `yaml:"-"` // export all groups as YAML and exit
}

// Dependencies holds external dependencies for the server.
// Server assumes ownership of Store and will Close() it on shutdown.
type Dependencies struct {
	Store datastore.DataProviderFactory
	Now   func() time.Time // clock for liveness and offer expiry; nil = time.Now
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:         ":12345",
		DBPath:             "udpchat.db",
		MetricsAddr:        ":9602",
		SessionTimeout:     60 * time.Second,
		BroadcastInterval:  10 * time.Second,
		OfferTimeout:       2 * time.Minute,
		MetricsLogInterval: 60 * time.Second,
	}
}

// LoadConfigFile overlays the YAML file at path onto cfg. Keys absent from
// the file keep their current values.
func LoadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI flag
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// Validate rejects configurations the sweep cannot run with.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("server: config: listen_addr must be set")
	}
	if c.SessionTimeout <= 0 || c.BroadcastInterval <= 0 || c.OfferTimeout <= 0 {
		return fmt.Errorf("server: config: timeouts must be positive")
	}
	return nil
}

// GroupYAML represents a group in YAML config and export.
type GroupYAML struct {
	Name    string   `yaml:"name"`
	Owner   string   `yaml:"owner"`
	Members []string `yaml:"members,omitempty"`
}

// GroupsConfig is the top-level YAML for groups.
type GroupsConfig struct {
	Groups []GroupYAML `yaml:"groups"`
}

// UserYAML represents a user in YAML export. Credentials are never exported.
type UserYAML struct {
	ID           int64  `yaml:"id"`
	Username     string `yaml:"username"`
	LastSeenPort int    `yaml:"last_seen_port,omitempty"`
	CreatedAt    string `yaml:"created_at"`
}

// UsersExport is the top-level YAML for user export.
type UsersExport struct {
	Users []UserYAML `yaml:"users"`
}

// LoadGroupsFromYAML reads a groups YAML file and creates the groups it lists.
func LoadGroupsFromYAML(path string, st datastore.DataStore) error {
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI config
	if err != nil {
		return fmt.Errorf("read groups config: %w", err)
	}
	return ImportGroupsFromYAML(data, st)
}

// ImportGroupsFromYAML parses YAML data and creates any group not already
// present. Existing groups are left untouched.
func ImportGroupsFromYAML(data []byte, st datastore.DataStore) error {
	var cfg GroupsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse groups config: %w", err)
	}

	created := 0
	for _, g := range cfg.Groups {
		existing, err := st.GetGroup(g.Name)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		if err := st.CreateGroup(model.NewGroup(g.Name, g.Owner, g.Members)); err != nil {
			slog.Error("failed to create group from config", "name", g.Name, "err", err)
			continue
		}
		created++
	}

	slog.Info("imported groups from YAML", "count", len(cfg.Groups), "created", created)
	return nil
}

// ExportGroupsYAML exports all groups as YAML.
func ExportGroupsYAML(st datastore.DataStore) ([]byte, error) {
	groups, err := st.ListGroups()
	if err != nil {
		return nil, err
	}
	cfg := GroupsConfig{}
	for _, g := range groups {
		cfg.Groups = append(cfg.Groups, GroupYAML{Name: g.Name, Owner: g.Owner, Members: g.Members})
	}
	return yaml.Marshal(&cfg)
}

// ExportUsersYAML exports all users as YAML.
func ExportUsersYAML(st datastore.DataStore) ([]byte, error) {
	users, err := st.ListUsers()
	if err != nil {
		return nil, err
	}

	export := UsersExport{}
	for _, u := range users {
		export.Users = append(export.Users, UserYAML{
			ID:           u.ID,
			Username:     u.Username,
			LastSeenPort: u.LastSeenPort,
			CreatedAt:    u.CreatedAt.Format("2006-01-02T15:04:05Z"),
		})
	}
	return yaml.Marshal(&export)
}

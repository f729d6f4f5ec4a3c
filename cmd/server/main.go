package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/udpchat/udpchat/pkg/datastore"
	"github.com/udpchat/udpchat/pkg/logging"
	"github.com/udpchat/udpchat/pkg/server"
	"github.com/udpchat/udpchat/pkg/store"
	"github.com/udpchat/udpchat/pkg/version"
)

type options struct {
	configPath string
	memory     bool
	showVer    bool
	logLevel   string
	logFormat  string
}

// bindFlags registers every flag on fs with cfg's current values as defaults.
func bindFlags(fs *flag.FlagSet, cfg *server.Config, opts *options) {
	fs.StringVar(&opts.configPath, "config", "", "YAML config file (flags override its values)")
	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "UDP chat bind address")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database file path")
	fs.BoolVar(&opts.memory, "memory", false, "Keep all state in memory instead of SQLite")
	fs.StringVar(&cfg.GroupsFile, "groups-file", cfg.GroupsFile, "YAML file defining groups to create on startup")
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "HTTP bind address for Prometheus /metrics (empty to disable)")
	fs.DurationVar(&cfg.SessionTimeout, "session-timeout", cfg.SessionTimeout, "Silence after which a session expires")
	fs.DurationVar(&cfg.BroadcastInterval, "broadcast-interval", cfg.BroadcastInterval, "Liveness sweep and state broadcast period")
	fs.DurationVar(&cfg.OfferTimeout, "offer-timeout", cfg.OfferTimeout, "Unanswered file offers expire after this")
	fs.BoolVar(&cfg.ExportUsers, "export-users", false, "Export all users as YAML and exit")
	fs.BoolVar(&cfg.ExportGroups, "export-groups", false, "Export all groups as YAML and exit")
	fs.BoolVar(&opts.showVer, "version", false, "Print version and exit")
	fs.StringVar(&opts.logLevel, "log-level", "info", "Log level: "+logging.LevelNames())
	fs.StringVar(&opts.logFormat, "log-format", "text", "Log format: text or json")
}

// parseConfig applies defaults, then the -config file, then explicit flags.
func parseConfig(args []string) (server.Config, options, error) {
	var opts options
	scratch := server.DefaultConfig()
	pre := flag.NewFlagSet("udpchat-server", flag.ContinueOnError)
	pre.SetOutput(io.Discard)
	bindFlags(pre, &scratch, &opts)
	_ = pre.Parse(args)

	cfg := server.DefaultConfig()
	if opts.configPath != "" {
		if err := server.LoadConfigFile(opts.configPath, &cfg); err != nil {
			return cfg, opts, err
		}
	}

	fs := flag.NewFlagSet("udpchat-server", flag.ContinueOnError)
	bindFlags(fs, &cfg, &opts)
	if err := fs.Parse(args); err != nil {
		return cfg, opts, err
	}
	return cfg, opts, nil
}

func main() {
	cfg, opts, err := parseConfig(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}
	if opts.showVer {
		fmt.Println(version.Banner("udpchat-server"))
		return
	}

	// Configure structured logging
	if err := logging.Setup(logging.Options{
		Level:     opts.logLevel,
		Format:    opts.logFormat,
		Output:    os.Stdout,
		Component: "server",
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	// Handle export commands (run and exit)
	if cfg.ExportUsers || cfg.ExportGroups {
		st, err := datastore.NewProviderFactory(cfg.DBPath)
		if err != nil {
			slog.Error("open database", "err", err)
			os.Exit(1)
		}
		defer st.Close()

		if cfg.ExportUsers {
			data, err := server.ExportUsersYAML(st.NonTx())
			if err != nil {
				slog.Error("export users", "err", err)
				os.Exit(1)
			}
			fmt.Print(string(data))
		}
		if cfg.ExportGroups {
			data, err := server.ExportGroupsYAML(st.NonTx())
			if err != nil {
				slog.Error("export groups", "err", err)
				os.Exit(1)
			}
			fmt.Print(string(data))
		}
		return
	}

	var st datastore.DataProviderFactory
	if opts.memory {
		slog.Warn("running with in-memory store, nothing survives a restart")
		st = store.NewMemoryFactory()
	} else {
		pf, err := datastore.NewProviderFactory(cfg.DBPath)
		if err != nil {
			slog.Error("open database", "err", err)
			os.Exit(1)
		}
		st = pf
	}

	srv := server.New(cfg, server.Dependencies{Store: st})
	if err := srv.Run(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}

package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/udpchat/udpchat/pkg/version"
)

// Run starts the server and blocks until a shutdown signal.
func (s *Server) Run() error {
	if s.store == nil {
		return fmt.Errorf("server: missing store dependency")
	}
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	defer func() {
		if c, ok := s.store.(io.Closer); ok {
			_ = c.Close()
		}
	}()

	// Load groups from YAML config if provided
	if s.cfg.GroupsFile != "" {
		if err := LoadGroupsFromYAML(s.cfg.GroupsFile, s.store.NonTx()); err != nil {
			slog.Error("failed to load groups config", "err", err)
		}
	}

	if err := s.Listen(); err != nil {
		return err
	}

	slog.Info("udpchat server running",
		"addr", s.cfg.ListenAddr,
		"version", version.String(),
		"session_timeout", s.cfg.SessionTimeout,
		"broadcast_interval", s.cfg.BroadcastInterval,
	)

	ctx, stop := signal.NotifyContext(s.ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.Serve(ctx)
}

// Serve runs the receive loop, the sweeper and the metrics endpoint until
// ctx is cancelled or one of them fails. Listen must have been called.
func (s *Server) Serve(ctx context.Context) error {
	if s.conn == nil {
		return fmt.Errorf("server: serve before listen")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.serve(gctx) })
	g.Go(func() error { return s.runSweeper(gctx) })
	g.Go(func() error { return s.serveMetrics(gctx) })
	g.Go(func() error { return s.runMetricsLog(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")
		_ = s.conn.Close()
		return nil
	})
	return g.Wait()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() {
	s.cancel()
}

package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/udpchat/udpchat/pkg/protocol"
)

// runSweeper expires idle sessions and stale offers and re-broadcasts shared
// state every BroadcastInterval until ctx is cancelled.
func (s *Server) runSweeper(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.BroadcastInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep runs one liveness pass followed by a full state broadcast.
func (s *Server) sweep() {
	expired := s.registry.Expire()
	for _, sess := range expired {
		s.metrics.SessionsExpired.Inc()
		slog.Info("session expired", "session", sess.ID, "identity", sess.Label())
		s.peerLeft(sess)
	}
	for _, sess := range expired {
		s.broadcast(protocol.Notice{Text: sess.Label() + " left the chat"})
	}

	if offers := s.offers.Expire(); len(offers) > 0 {
		slog.Debug("file offers expired", "count", len(offers))
		s.timeoutOffers(offers)
	}

	s.broadcastState()
}

// broadcastState sends the roster, the registered-user list and each online
// session's group list.
func (s *Server) broadcastState() {
	s.broadcastRoster()

	if names, err := s.registeredUsernames(); err == nil {
		s.broadcast(protocol.RegisteredUsers{Names: names})
	}

	groups, err := s.store.NonTx().ListGroups()
	if err != nil {
		slog.Error("list groups", "err", err)
		return
	}
	for _, sess := range s.registry.Roster() {
		var frame protocol.GroupsList
		for _, g := range groups {
			if g.HasMember(sess.Label()) {
				frame.Groups = append(frame.Groups, protocol.GroupInfo{Name: g.Name, Owner: g.Owner, Members: g.Members})
			}
		}
		s.unicast(sess, frame)
	}
}

// runMetricsLog logs a metrics summary every MetricsLogInterval.
func (s *Server) runMetricsLog(ctx context.Context) error {
	if s.cfg.MetricsLogInterval <= 0 {
		return nil
	}
	ticker := time.NewTicker(s.cfg.MetricsLogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.metrics.LogSummary()
		}
	}
}

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/udpchat/udpchat/pkg/model"
	"github.com/udpchat/udpchat/pkg/protocol"
)

// Listen binds the UDP socket.
func (s *Server) Listen() error {
	addr, err := net.ResolveUDPAddr("udp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: resolve listen addr: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}

	if err := conn.SetReadBuffer(1024 * 1024); err != nil {
		slog.Warn("failed to set UDP read buffer", "err", err)
	}
	if err := conn.SetWriteBuffer(1024 * 1024); err != nil {
		slog.Warn("failed to set UDP write buffer", "err", err)
	}
	s.conn = conn

	slog.Info("chat plane listening", "addr", conn.LocalAddr().String())
	return nil
}

// serve is the receive loop: one datagram at a time, each handled to
// completion before the next read.
func (s *Server) serve(ctx context.Context) error {
	buf := make([]byte, protocol.MaxDatagram)

	for {
		n, remoteAddr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Error("read error", "err", err)
			continue
		}
		s.handleDatagram(remoteAddr, buf[:n])
	}
}

// handleDatagram parses and dispatches one inbound frame.
func (s *Server) handleDatagram(addr *net.UDPAddr, data []byte) {
	s.metrics.FramesIn.Inc()
	s.metrics.BytesIn.Add(float64(len(data)))

	cmd, parseErr := protocol.ParseCommand(string(data))

	if _, ok := cmd.(protocol.Disconnect); ok {
		s.handleDisconnect(addr.Port)
		return
	}

	sess, created := s.registry.Register(addr.Port, addr)
	if created {
		s.metrics.SessionsCreated.Inc()
	}

	if parseErr != nil {
		s.metrics.FramesDropped.WithLabelValues("malformed").Inc()
		slog.Debug("dropping malformed frame", "from", addr.String(), "err", parseErr)
		if created {
			s.broadcastRoster()
		}
		return
	}

	if c, ok := cmd.(protocol.Connect); ok {
		s.handleConnect(sess, created, c)
		return
	}
	if created {
		slog.Info("session registered implicitly", "session", sess.ID, "addr", addr.String())
		s.broadcastRoster()
	}
	s.dispatch(sess, cmd)
}

func (s *Server) dispatch(sess model.Session, cmd protocol.Command) {
	switch c := cmd.(type) {
	case protocol.Auth:
		s.handleAuth(sess, c)
	case protocol.Typing:
		s.handleTyping(sess, c)
	case protocol.DirectMessage:
		s.handleDirectMessage(sess, c)
	case protocol.DMHistoryRequest:
		s.handleDMHistory(sess, c)
	case protocol.GroupCommand:
		s.handleGroupCommand(sess, c)
	case protocol.GroupMessage:
		s.handleGroupMessage(sess, c)
	case protocol.GroupHistoryRequest:
		s.handleGroupHistory(sess, c)
	case protocol.FileRequest:
		s.handleFileRequest(sess, c)
	case protocol.FileResponse:
		s.handleFileResponse(sess, c)
	case protocol.Chat:
		s.handleChat(sess, c)
	default:
		s.metrics.FramesDropped.WithLabelValues("unhandled").Inc()
		slog.Debug("unhandled command", "type", fmt.Sprintf("%T", cmd))
	}
}

func (s *Server) handleConnect(sess model.Session, created bool, c protocol.Connect) {
	if c.Port != sess.ID {
		slog.Debug("connect port differs from source port", "claimed", c.Port, "source", sess.ID)
	}
	if !created {
		// Keepalive or a repeated connect: refresh only.
		s.unicast(sess, rosterFrame(s.registry.Roster()))
		return
	}

	slog.Info("new connection", "session", sess.ID, "addr", sess.Addr.String())
	if !s.unicast(sess, protocol.Notice{Text: "Connected as " + sess.Addr.String()}) {
		return
	}
	s.broadcastRoster()
	if names, err := s.registeredUsernames(); err == nil {
		s.unicast(sess, protocol.RegisteredUsers{Names: names})
	}
}

func (s *Server) handleDisconnect(id int) {
	sess, ok := s.registry.Deregister(id)
	if !ok {
		return
	}
	s.metrics.Disconnects.Inc()
	slog.Info("session disconnected", "session", sess.ID, "identity", sess.Label())
	s.peerLeft(sess)
	s.broadcast(protocol.Notice{Text: sess.Label() + " left the chat"})
	s.broadcastRoster()
}

// peerLeft cleans up state tied to a session that is already deregistered.
func (s *Server) peerLeft(sess model.Session) {
	s.timeoutOffers(s.offers.DropPeer(sess.ID))
}

// deliver writes frame to each target and returns the targets whose send failed.
func (s *Server) deliver(targets []model.Session, frame string) []model.Session {
	payload := []byte(frame)
	var failed []model.Session
	for _, t := range targets {
		if t.Addr == nil {
			continue
		}
		if _, err := s.conn.WriteToUDP(payload, t.Addr); err != nil {
			s.metrics.SendErrors.Inc()
			slog.Debug("send failed", "target", t.ID, "err", err)
			failed = append(failed, t)
			continue
		}
		s.metrics.FramesOut.Inc()
	}
	return failed
}

// evict deregisters each failed peer. It reports whether any session was removed.
func (s *Server) evict(failed []model.Session) bool {
	removed := false
	for _, f := range failed {
		sess, ok := s.registry.Deregister(f.ID)
		if !ok {
			continue
		}
		removed = true
		s.metrics.Evictions.Inc()
		slog.Warn("evicting unreachable session", "session", sess.ID, "identity", sess.Label())
		s.peerLeft(sess)
	}
	return removed
}

// send delivers frame to targets; unreachable targets are evicted and the
// survivors get a corrected roster.
func (s *Server) send(targets []model.Session, frame protocol.Frame) {
	if s.evict(s.deliver(targets, frame.Encode())) {
		s.broadcastRoster()
	}
}

// unicast sends frame to one session and reports whether it was delivered.
func (s *Server) unicast(sess model.Session, frame protocol.Frame) bool {
	failed := s.deliver([]model.Session{sess}, frame.Encode())
	if len(failed) == 0 {
		return true
	}
	if s.evict(failed) {
		s.broadcastRoster()
	}
	return false
}

// broadcast sends frame to every live session.
func (s *Server) broadcast(frame protocol.Frame) {
	s.send(s.registry.Roster(), frame)
}

// broadcastRoster sends the roster to every live session. Peers that fail
// are evicted and the survivors receive exactly one corrected roster.
func (s *Server) broadcastRoster() {
	for attempt := 0; attempt < 2; attempt++ {
		live := s.registry.Roster()
		if !s.evict(s.deliver(live, rosterFrame(live).Encode())) {
			return
		}
	}
}

func rosterFrame(sessions []model.Session) protocol.Roster {
	entries := make([]protocol.RosterEntry, len(sessions))
	for i, sess := range sessions {
		entries[i] = protocol.RosterEntry{ID: sess.ID, Name: sess.Label(), IP: sess.IP()}
	}
	return protocol.Roster{Entries: entries}
}

func itoa(n int) string { return strconv.Itoa(n) }

package server

import (
	"log/slog"
	"strings"

	"github.com/udpchat/udpchat/pkg/model"
	"github.com/udpchat/udpchat/pkg/protocol"
	"github.com/udpchat/udpchat/pkg/rbac"
)

// typingContextAll addresses a typing update to everyone.
const typingContextAll = "all"

func (s *Server) handleChat(sess model.Session, c protocol.Chat) {
	if strings.TrimSpace(c.Text) == "" {
		s.metrics.FramesDropped.WithLabelValues("empty").Inc()
		return
	}
	s.metrics.ChatMessages.Inc()
	s.broadcast(protocol.ChatLine{Sender: sess.Label(), Text: c.Text})
}

// handleTyping relays a typing fragment to the audience of its context:
// everyone for "all", one session for a port or identity, or the online
// members of a group.
func (s *Server) handleTyping(sess model.Session, t protocol.Typing) {
	frame := protocol.TypingUpdate{Context: t.Context, Identity: sess.Label(), Text: t.Text}

	if strings.EqualFold(t.Context, typingContextAll) {
		s.send(others(s.registry.Roster(), sess.ID), frame)
		return
	}
	if target, ok := s.registry.Lookup(t.Context); ok {
		if target.ID != sess.ID {
			s.unicast(target, frame)
		}
		return
	}
	g, err := s.store.NonTx().GetGroup(t.Context)
	if err != nil || rbac.Require(g, sess.Label(), rbac.PermTyping) != nil {
		s.metrics.FramesDropped.WithLabelValues("typing_context").Inc()
		return
	}
	s.send(others(s.onlineMembers(g), sess.ID), frame)
}

func (s *Server) handleDirectMessage(sess model.Session, dm protocol.DirectMessage) {
	msg := model.DirectMessage{Sender: sess.Label(), Content: dm.Content, SentAt: s.now()}

	target, live := s.registry.Lookup(dm.Target)
	if live {
		msg.Recipient = target.Label()
		if err := msg.Validate(); err != nil {
			s.unicast(sess, protocol.Notice{Text: "Message rejected: " + err.Error()})
			return
		}
		if sess.Registered() && target.Registered() {
			msg.Delivered = true
			if err := s.store.NonTx().CreateDirectMessage(&msg); err != nil {
				slog.Error("persist direct message", "from", msg.Sender, "to", msg.Recipient, "err", err)
			}
		}
		s.metrics.DirectMessages.WithLabelValues("delivered").Inc()

		recipients := []model.Session{target}
		if target.ID != sess.ID {
			recipients = append(recipients, sess)
		}
		s.send(recipients, protocol.DirectMessageIn{From: sess.ID, Content: dm.Content})
		s.send(recipients, protocol.DMNotify{From: sess.ID, To: target.ID})
		return
	}

	user, err := s.store.NonTx().GetUserByUsername(dm.Target)
	if err != nil {
		slog.Error("lookup DM recipient", "target", dm.Target, "err", err)
		s.unicast(sess, protocol.Notice{Text: "Could not deliver message to " + dm.Target})
		return
	}
	if user == nil {
		s.metrics.DirectMessages.WithLabelValues("unknown").Inc()
		s.unicast(sess, protocol.Notice{Text: "Unknown recipient " + dm.Target})
		return
	}
	if !sess.Registered() {
		s.metrics.DirectMessages.WithLabelValues("offline_guest").Inc()
		s.unicast(sess, protocol.Notice{Text: user.Username + " is offline, log in to leave a message"})
		return
	}

	msg.Recipient = user.Username
	if err := msg.Validate(); err != nil {
		s.unicast(sess, protocol.Notice{Text: "Message rejected: " + err.Error()})
		return
	}
	if err := s.store.NonTx().CreateDirectMessage(&msg); err != nil {
		slog.Error("persist offline direct message", "from", msg.Sender, "to", msg.Recipient, "err", err)
		s.unicast(sess, protocol.Notice{Text: "Could not save message for " + user.Username})
		return
	}
	s.metrics.DirectMessages.WithLabelValues("stored").Inc()
	s.unicast(sess, protocol.Notice{Text: user.Username + " is offline, message saved"})
}

func (s *Server) handleDMHistory(sess model.Session, req protocol.DMHistoryRequest) {
	label := sess.Label()
	if label != req.UserA && label != req.UserB {
		s.metrics.FramesDropped.WithLabelValues("forbidden").Inc()
		s.unicast(sess, protocol.Notice{Text: "DM history is only available to its participants"})
		return
	}
	history, err := s.store.NonTx().ListDirectMessages(req.UserA, req.UserB)
	if err != nil {
		slog.Error("list DM history", "a", req.UserA, "b", req.UserB, "err", err)
		return
	}
	for _, m := range history {
		if !s.unicast(sess, dmHistoryFrame(m)) {
			return
		}
	}
}

func dmHistoryFrame(m model.DirectMessage) protocol.DMHistory {
	return protocol.DMHistory{Sender: m.Sender, Recipient: m.Recipient, Content: m.Content, SentAt: m.SentAt}
}

// others returns sessions without the one whose ID is exclude.
func others(sessions []model.Session, exclude int) []model.Session {
	out := make([]model.Session, 0, len(sessions))
	for _, sess := range sessions {
		if sess.ID != exclude {
			out = append(out, sess)
		}
	}
	return out
}

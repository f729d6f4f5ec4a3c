package server

import (
	"errors"
	"log/slog"
	"slices"

	"github.com/udpchat/udpchat/pkg/datastore"
	"github.com/udpchat/udpchat/pkg/model"
	"github.com/udpchat/udpchat/pkg/protocol"
	"github.com/udpchat/udpchat/pkg/rbac"
)

func (s *Server) handleGroupCommand(sess model.Session, req protocol.GroupCommand) {
	var (
		affected []string
		msg      string
		err      error
	)
	switch req.Action {
	case protocol.GroupCreate:
		affected, err = s.createGroup(sess, req)
		msg = "Group " + req.Name + " created"
	case protocol.GroupManage:
		affected, err = s.manageGroup(sess, req)
		msg = "Group " + req.Name + " updated"
	}

	if err != nil {
		s.metrics.GroupChanges.WithLabelValues(string(req.Action), "fail").Inc()
		slog.Info("group command failed", "session", sess.ID, "action", req.Action, "group", req.Name, "err", err)
		s.unicast(sess, protocol.GroupsResult{OK: false, Message: groupFailMessage(err)})
		return
	}

	s.metrics.GroupChanges.WithLabelValues(string(req.Action), "ok").Inc()
	slog.Info("group changed", "action", req.Action, "group", req.Name, "by", sess.Label())
	s.unicast(sess, protocol.GroupsResult{OK: true, Message: msg})
	s.pushGroupLists(affected)
}

var errGroupOwnerMismatch = errors.New("server: owner must be the requester")

func (s *Server) createGroup(sess model.Session, req protocol.GroupCommand) ([]string, error) {
	if req.Owner != sess.Label() {
		return nil, errGroupOwnerMismatch
	}
	g := model.NewGroup(req.Name, req.Owner, req.Members)
	if err := s.store.NonTx().CreateGroup(g); err != nil {
		return nil, err
	}
	return g.Members, nil
}

func (s *Server) manageGroup(sess model.Session, req protocol.GroupCommand) ([]string, error) {
	tx, err := s.store.Tx(s.ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	g, err := tx.GetGroup(req.Name)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, datastore.ErrGroupNotFound
	}
	if err := rbac.Require(g, sess.Label(), rbac.PermManage); err != nil {
		return nil, err
	}
	previous := g.Members
	g.SetMembers(req.Members)
	if err := tx.UpdateGroupMembers(g.Name, g.Members); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	affected := slices.Clone(g.Members)
	for _, m := range previous {
		if !slices.Contains(affected, m) {
			affected = append(affected, m)
		}
	}
	return affected, nil
}

func (s *Server) handleGroupMessage(sess model.Session, req protocol.GroupMessage) {
	g, err := s.store.NonTx().GetGroup(req.Group)
	if err != nil {
		slog.Error("get group", "group", req.Group, "err", err)
		return
	}
	if err := rbac.Require(g, sess.Label(), rbac.PermPost); err != nil {
		s.metrics.FramesDropped.WithLabelValues("forbidden").Inc()
		s.unicast(sess, protocol.Notice{Text: "You are not a member of " + req.Group})
		return
	}

	msg := model.GroupMessage{Group: g.Name, Sender: sess.Label(), Content: req.Content, SentAt: s.now()}
	if err := msg.Validate(); err != nil {
		s.unicast(sess, protocol.Notice{Text: "Message rejected: " + err.Error()})
		return
	}
	if sess.Registered() {
		if err := s.store.NonTx().CreateGroupMessage(&msg); err != nil {
			slog.Error("persist group message", "group", g.Name, "err", err)
		}
	}
	s.metrics.GroupMessages.Inc()
	s.send(s.onlineMembers(g), protocol.GroupMessageIn{Group: g.Name, Sender: msg.Sender, Content: msg.Content})
}

func (s *Server) handleGroupHistory(sess model.Session, req protocol.GroupHistoryRequest) {
	g, err := s.store.NonTx().GetGroup(req.Group)
	if err != nil {
		slog.Error("get group", "group", req.Group, "err", err)
		return
	}
	if err := rbac.Require(g, sess.Label(), rbac.PermReadHistory); err != nil {
		s.metrics.FramesDropped.WithLabelValues("forbidden").Inc()
		s.unicast(sess, protocol.Notice{Text: "You are not a member of " + req.Group})
		return
	}
	history, err := s.store.NonTx().ListGroupMessages(g.Name)
	if err != nil {
		slog.Error("list group history", "group", g.Name, "err", err)
		return
	}
	for _, m := range history {
		frame := protocol.GroupHistory{Group: m.Group, Sender: m.Sender, Content: m.Content, SentAt: m.SentAt}
		if !s.unicast(sess, frame) {
			return
		}
	}
}

// onlineMembers resolves group members against the roster at call time.
func (s *Server) onlineMembers(g *model.Group) []model.Session {
	var out []model.Session
	for _, sess := range s.registry.Roster() {
		if g.HasMember(sess.Label()) {
			out = append(out, sess)
		}
	}
	return out
}

// groupsListFor returns the groups identity belongs to.
func (s *Server) groupsListFor(identity string) (protocol.GroupsList, error) {
	groups, err := s.store.NonTx().ListGroups()
	if err != nil {
		slog.Error("list groups", "err", err)
		return protocol.GroupsList{}, err
	}
	var out protocol.GroupsList
	for _, g := range groups {
		if g.HasMember(identity) {
			out.Groups = append(out.Groups, protocol.GroupInfo{Name: g.Name, Owner: g.Owner, Members: g.Members})
		}
	}
	return out, nil
}

// pushGroupLists sends each online identity in names its current group list.
func (s *Server) pushGroupLists(names []string) {
	for _, sess := range s.registry.Roster() {
		if !slices.Contains(names, sess.Label()) {
			continue
		}
		frame, err := s.groupsListFor(sess.Label())
		if err != nil {
			return
		}
		s.unicast(sess, frame)
	}
}

func groupFailMessage(err error) string {
	switch {
	case errors.Is(err, datastore.ErrGroupExists):
		return "Group already exists"
	case errors.Is(err, datastore.ErrGroupNotFound):
		return "Group not found"
	case errors.Is(err, errGroupOwnerMismatch):
		return "Owner must be yourself"
	case errors.Is(err, rbac.ErrPermissionDenied):
		return "Only the owner can manage this group"
	case errors.Is(err, model.ErrGroupNameEmpty),
		errors.Is(err, model.ErrGroupNameTooLong),
		errors.Is(err, model.ErrGroupNameInvalidChars),
		errors.Is(err, model.ErrGroupOwnerEmpty):
		return "Invalid group: " + err.Error()
	default:
		return "Internal error"
	}
}

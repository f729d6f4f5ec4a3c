package server

import (
	"errors"
	"log/slog"

	"github.com/udpchat/udpchat/pkg/crypto"
	"github.com/udpchat/udpchat/pkg/datastore"
	"github.com/udpchat/udpchat/pkg/model"
	"github.com/udpchat/udpchat/pkg/protocol"
)

var (
	ErrAuthInvalidCredentials = errors.New("server: invalid username or password")
	ErrAuthUsernameTaken      = errors.New("server: username already taken")
)

func (s *Server) handleAuth(sess model.Session, req protocol.Auth) {
	var (
		bound model.Session
		msg   string
		err   error
	)
	switch req.Action {
	case protocol.AuthEnter:
		bound, err = s.registry.Bind(sess.ID, model.Identity{})
		msg = "Welcome " + bound.Label()
	case protocol.AuthRegister:
		bound, err = s.register(sess, req.Username, req.PasswordHash)
		msg = "Registered as " + req.Username
	case protocol.AuthLogin:
		bound, err = s.login(sess, req.Username, req.PasswordHash)
		msg = "Welcome back " + req.Username
	}

	if err != nil {
		s.metrics.AuthAttempts.WithLabelValues(string(req.Action), "fail").Inc()
		slog.Info("auth failed", "session", sess.ID, "action", req.Action, "username", req.Username, "err", err)
		s.unicast(sess, protocol.AuthResult{OK: false, Message: authFailMessage(err)})
		return
	}

	s.metrics.AuthAttempts.WithLabelValues(string(req.Action), "ok").Inc()
	slog.Info("auth succeeded", "session", sess.ID, "action", req.Action, "identity", bound.Label())
	if !s.unicast(bound, protocol.AuthResult{OK: true, Message: msg}) {
		return
	}
	if req.Action == protocol.AuthLogin && !s.deliverPending(bound) {
		return
	}
	s.identityChanged(bound)
}

func (s *Server) register(sess model.Session, username, passwordHash string) (model.Session, error) {
	if err := model.ValidateUsername(username); err != nil {
		return model.Session{}, err
	}
	credential, err := crypto.HashCredential(passwordHash)
	if err != nil {
		return model.Session{}, err
	}
	if _, err := s.store.NonTx().CreateUser(username, credential); err != nil {
		if errors.Is(err, datastore.ErrUserExists) {
			return model.Session{}, ErrAuthUsernameTaken
		}
		return model.Session{}, err
	}
	bound, err := s.registry.Bind(sess.ID, model.Identity{Name: username, Registered: true})
	if err != nil {
		return model.Session{}, err
	}
	s.recordLastSeen(username, sess.ID)
	return bound, nil
}

func (s *Server) login(sess model.Session, username, passwordHash string) (model.Session, error) {
	user, err := s.store.NonTx().GetUserByUsername(username)
	if err != nil {
		return model.Session{}, err
	}
	if user == nil {
		return model.Session{}, ErrAuthInvalidCredentials
	}
	ok, err := crypto.VerifyCredential(user.Credential, passwordHash)
	if err != nil {
		return model.Session{}, err
	}
	if !ok {
		return model.Session{}, ErrAuthInvalidCredentials
	}
	bound, err := s.registry.Bind(sess.ID, model.Identity{Name: username, Registered: true})
	if err != nil {
		return model.Session{}, err
	}
	s.recordLastSeen(username, sess.ID)
	return bound, nil
}

func (s *Server) recordLastSeen(username string, port int) {
	if err := s.store.NonTx().SetLastSeenPort(username, port); err != nil {
		slog.Warn("failed to record last seen port", "username", username, "err", err)
	}
}

// deliverPending replays DMs that arrived while the user was offline. Only
// the messages actually sent are marked delivered. It reports false when the
// session was evicted by a failed send.
func (s *Server) deliverPending(sess model.Session) bool {
	tx, err := s.store.Tx(s.ctx)
	if err != nil {
		slog.Error("begin delivery tx", "err", err)
		return true
	}
	reachable := true
	pending, err := tx.DeliverPending(sess.Label(), func(m model.DirectMessage) bool {
		reachable = s.unicast(sess, dmHistoryFrame(m))
		return reachable
	})
	if err != nil {
		slog.Error("deliver pending DMs", "identity", sess.Label(), "err", err)
		return reachable
	}
	if len(pending) > 0 {
		slog.Info("delivered offline messages", "identity", sess.Label(), "count", len(pending))
	}
	return reachable
}

// identityChanged announces a session's new identity and refreshes the
// state every client mirrors.
func (s *Server) identityChanged(sess model.Session) {
	s.broadcast(protocol.IdentityAssigned{ID: sess.ID, Name: sess.Label()})
	s.broadcastRoster()
	if names, err := s.registeredUsernames(); err == nil {
		s.broadcast(protocol.RegisteredUsers{Names: names})
	}
	if frame, err := s.groupsListFor(sess.Label()); err == nil {
		s.unicast(sess, frame)
	}
}

func (s *Server) registeredUsernames() ([]string, error) {
	users, err := s.store.NonTx().ListUsers()
	if err != nil {
		slog.Error("list users", "err", err)
		return nil, err
	}
	names := make([]string, len(users))
	for i, u := range users {
		names[i] = u.Username
	}
	return names, nil
}

func authFailMessage(err error) string {
	switch {
	case errors.Is(err, ErrAuthInvalidCredentials):
		return "Invalid username or password"
	case errors.Is(err, ErrIdentityInUse):
		return "User already logged in"
	case errors.Is(err, ErrAuthUsernameTaken):
		return "Username already taken"
	case errors.Is(err, model.ErrUsernameEmpty),
		errors.Is(err, model.ErrUsernameTooLong),
		errors.Is(err, model.ErrUsernameInvalidChars),
		errors.Is(err, model.ErrUsernameReserved),
		errors.Is(err, model.ErrUsernameNumeric):
		return "Invalid username: " + err.Error()
	default:
		return "Internal error"
	}
}

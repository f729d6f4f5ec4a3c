package client

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/udpchat/udpchat/pkg/protocol"
)

// MessageKind classifies a MessageReceived event.
type MessageKind int

const (
	KindNotice MessageKind = iota
	KindChat
	KindDirect
	KindDirectNotify
	KindDirectHistory
	KindGroup
	KindGroupHistory
	KindAuthResult
	KindGroupsResult
)

// Message is one text-bearing frame from the server.
type Message struct {
	Kind MessageKind
	// From is the sender label, or the sender port for KindDirect and
	// KindDirectNotify.
	From     string
	FromPort int
	To       string
	ToPort   int
	Group    string
	Text     string
	OK       bool      // KindAuthResult and KindGroupsResult only
	SentAt   time.Time // history kinds only
}

// Snapshot is the server-mirrored state a UI renders its sidebar from.
type Snapshot struct {
	Self            int
	Roster          []protocol.RosterEntry
	RegisteredUsers []string
	Groups          []protocol.GroupInfo
}

// Offer is an inbound file offer awaiting the local user's answer.
type Offer struct {
	From     int
	FromName string
	Filename string
	Size     int64
}

// Response is the peer's answer to one of our outbound offers.
type Response struct {
	Peer     int
	PeerName string
	PeerIP   string
	Decision protocol.Decision
	Port     int
	Path     string // local file that was offered
}

// EventHandler receives one call per inbound frame, after local state has
// been updated. Calls come from the receive goroutine.
type EventHandler interface {
	RosterChanged(Snapshot)
	MessageReceived(Message)
	TypingChanged(context string, typing map[string]string)
	FileOfferReceived(Offer)
	FileResponseReceived(Response)
}

type typingKey struct {
	identity string
	context  string
}

// Adapter mirrors the server's view for one client. It is safe for
// concurrent use.
type Adapter struct {
	mu      sync.Mutex
	self    int
	roster  map[int]protocol.RosterEntry
	users   []string
	groups  []protocol.GroupInfo
	typing  map[typingKey]string
	inbound map[int]Offer    // initiator port -> offer
	sent    map[int][]string // target port -> offered paths, oldest first

	handler EventHandler
}

// NewAdapter creates an adapter for the session at self (the local UDP port).
func NewAdapter(self int, handler EventHandler) *Adapter {
	return &Adapter{
		self:    self,
		roster:  make(map[int]protocol.RosterEntry),
		typing:  make(map[typingKey]string),
		inbound: make(map[int]Offer),
		sent:    make(map[int][]string),
		handler: handler,
	}
}

// Handle decodes one datagram, updates state and emits the matching event.
func (a *Adapter) Handle(datagram []byte) error {
	frame, err := protocol.ParseServerFrame(string(datagram))
	if err != nil {
		return err
	}
	a.apply(frame)
	return nil
}

func (a *Adapter) apply(frame protocol.Frame) {
	switch f := frame.(type) {
	case protocol.Roster:
		if snap, changed := a.replaceRoster(f.Entries); changed {
			a.handler.RosterChanged(snap)
		}
	case protocol.IdentityAssigned:
		if snap, changed := a.mergeIdentity(f); changed {
			a.handler.RosterChanged(snap)
		}
	case protocol.RegisteredUsers:
		if snap, changed := a.setUsers(f.Names); changed {
			a.handler.RosterChanged(snap)
		}
	case protocol.GroupsList:
		if snap, changed := a.setGroups(f.Groups); changed {
			a.handler.RosterChanged(snap)
		}
	case protocol.TypingUpdate:
		a.applyTyping(f)
	case protocol.FileRequest:
		a.handler.FileOfferReceived(a.recordOffer(f))
	case protocol.FileResponse:
		a.handler.FileResponseReceived(a.resolveSent(f))
	case protocol.Notice:
		a.handler.MessageReceived(Message{Kind: KindNotice, Text: f.Text})
	case protocol.AuthResult:
		a.handler.MessageReceived(Message{Kind: KindAuthResult, OK: f.OK, Text: f.Message})
	case protocol.GroupsResult:
		a.handler.MessageReceived(Message{Kind: KindGroupsResult, OK: f.OK, Text: f.Message})
	case protocol.ChatLine:
		a.clearTyping(f.Sender, func(ctx string) bool { return ctx == "all" })
		a.handler.MessageReceived(Message{Kind: KindChat, From: f.Sender, Text: f.Text})
	case protocol.DirectMessageIn:
		from := a.label(f.From)
		if f.From != a.self {
			a.clearTyping(from, a.isDirectContextLocked)
		}
		a.handler.MessageReceived(Message{Kind: KindDirect, From: from, FromPort: f.From, Text: f.Content})
	case protocol.DMNotify:
		a.handler.MessageReceived(Message{
			Kind: KindDirectNotify, From: a.label(f.From), FromPort: f.From, To: a.label(f.To), ToPort: f.To,
		})
	case protocol.DMHistory:
		a.handler.MessageReceived(Message{
			Kind: KindDirectHistory, From: f.Sender, To: f.Recipient, Text: f.Content, SentAt: f.SentAt,
		})
	case protocol.GroupMessageIn:
		a.clearTyping(f.Sender, func(ctx string) bool { return ctx == f.Group })
		a.handler.MessageReceived(Message{Kind: KindGroup, From: f.Sender, Group: f.Group, Text: f.Content})
	case protocol.GroupHistory:
		a.handler.MessageReceived(Message{
			Kind: KindGroupHistory, From: f.Sender, Group: f.Group, Text: f.Content, SentAt: f.SentAt,
		})
	}
}

// replaceRoster installs a full snapshot. An identical snapshot is not a change.
func (a *Adapter) replaceRoster(entries []protocol.RosterEntry) (Snapshot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	next := make(map[int]protocol.RosterEntry, len(entries))
	for _, e := range entries {
		next[e.ID] = e
	}
	if maps.Equal(a.roster, next) {
		return Snapshot{}, false
	}
	a.roster = next
	return a.snapshotLocked(), true
}

func (a *Adapter) mergeIdentity(f protocol.IdentityAssigned) (Snapshot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.roster[f.ID]
	if ok && e.Name == f.Name {
		return Snapshot{}, false
	}
	e.ID = f.ID
	e.Name = f.Name
	a.roster[f.ID] = e
	return a.snapshotLocked(), true
}

func (a *Adapter) setUsers(names []string) (Snapshot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if slices.Equal(a.users, names) {
		return Snapshot{}, false
	}
	a.users = slices.Clone(names)
	return a.snapshotLocked(), true
}

func (a *Adapter) setGroups(groups []protocol.GroupInfo) (Snapshot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if slices.EqualFunc(a.groups, groups, groupInfoEqual) {
		return Snapshot{}, false
	}
	a.groups = slices.Clone(groups)
	return a.snapshotLocked(), true
}

func (a *Adapter) applyTyping(f protocol.TypingUpdate) {
	a.mu.Lock()
	if e, ok := a.roster[a.self]; ok && e.Name == f.Identity {
		a.mu.Unlock()
		return
	}
	key := typingKey{identity: f.Identity, context: f.Context}
	if f.Text == "" {
		delete(a.typing, key)
	} else {
		a.typing[key] = f.Text
	}
	view := a.typingViewLocked(f.Context)
	a.mu.Unlock()

	a.handler.TypingChanged(f.Context, view)
}

// clearTyping drops identity's typing entries whose context matches and
// emits TypingChanged for each context that changed. match runs under a.mu.
func (a *Adapter) clearTyping(identity string, match func(ctx string) bool) {
	a.mu.Lock()
	var changed []string
	for key := range a.typing {
		if key.identity == identity && match(key.context) {
			delete(a.typing, key)
			changed = append(changed, key.context)
		}
	}
	slices.Sort(changed)
	views := make([]map[string]string, len(changed))
	for i, ctx := range changed {
		views[i] = a.typingViewLocked(ctx)
	}
	a.mu.Unlock()

	for i, ctx := range changed {
		a.handler.TypingChanged(ctx, views[i])
	}
}

// isDirectContextLocked reports whether a typing context addresses a single
// session rather than all-chat or a group.
func (a *Adapter) isDirectContextLocked(ctx string) bool {
	if ctx == "all" {
		return false
	}
	for _, g := range a.groups {
		if g.Name == ctx {
			return false
		}
	}
	return true
}

func (a *Adapter) typingViewLocked(ctx string) map[string]string {
	view := make(map[string]string)
	for key, text := range a.typing {
		if key.context == ctx {
			view[key.identity] = text
		}
	}
	return view
}

func (a *Adapter) recordOffer(f protocol.FileRequest) Offer {
	a.mu.Lock()
	defer a.mu.Unlock()
	o := Offer{From: f.Peer, FromName: a.labelLocked(f.Peer), Filename: f.Filename, Size: f.Size}
	a.inbound[f.Peer] = o
	return o
}

// TakeOffer removes and returns the pending inbound offer from initiator.
func (a *Adapter) TakeOffer(initiator int) (Offer, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	o, ok := a.inbound[initiator]
	delete(a.inbound, initiator)
	return o, ok
}

// OfferSent records an outbound offer so the answer can be matched to path.
func (a *Adapter) OfferSent(target int, path string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent[target] = append(a.sent[target], path)
}

func (a *Adapter) resolveSent(f protocol.FileResponse) Response {
	a.mu.Lock()
	defer a.mu.Unlock()
	r := Response{Peer: f.Peer, Decision: f.Decision, Port: f.Port}
	if e, ok := a.roster[f.Peer]; ok {
		r.PeerName = e.Name
		r.PeerIP = e.IP
	}
	// The server keeps one offer per pair, so the newest path is the live one.
	if paths := a.sent[f.Peer]; len(paths) > 0 {
		r.Path = paths[len(paths)-1]
		delete(a.sent, f.Peer)
	}
	return r
}

// Snapshot returns the current mirrored state.
func (a *Adapter) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

// Typing returns who is typing in ctx.
func (a *Adapter) Typing(ctx string) map[string]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.typingViewLocked(ctx)
}

// Peer returns the roster entry for port.
func (a *Adapter) Peer(port int) (protocol.RosterEntry, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.roster[port]
	return e, ok
}

func (a *Adapter) label(port int) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.labelLocked(port)
}

func (a *Adapter) labelLocked(port int) string {
	if e, ok := a.roster[port]; ok && e.Name != "" {
		return e.Name
	}
	return itoa(port)
}

func (a *Adapter) snapshotLocked() Snapshot {
	s := Snapshot{
		Self:            a.self,
		Roster:          make([]protocol.RosterEntry, 0, len(a.roster)),
		RegisteredUsers: slices.Clone(a.users),
		Groups:          slices.Clone(a.groups),
	}
	for _, e := range a.roster {
		s.Roster = append(s.Roster, e)
	}
	slices.SortFunc(s.Roster, func(x, y protocol.RosterEntry) int { return x.ID - y.ID })
	return s
}

func groupInfoEqual(a, b protocol.GroupInfo) bool {
	return a.Name == b.Name && a.Owner == b.Owner && slices.Equal(a.Members, b.Members)
}

// Package client is the udpchat client library: a UDP connection to the
// server, an Adapter mirroring server state into EventHandler calls, and the
// file-transfer receiver and sender.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/udpchat/udpchat/pkg/crypto"
	"github.com/udpchat/udpchat/pkg/filetransfer"
	"github.com/udpchat/udpchat/pkg/model"
	"github.com/udpchat/udpchat/pkg/protocol"
)

// ErrNoOffer is returned when answering an offer that is not pending.
var ErrNoOffer = errors.New("client: no pending offer from that peer")

// Config configures a Client.
type Config struct {
	ServerAddr  string
	ReceiveAddr string // TCP listen address for inbound files
	DownloadDir string
	KeepAlive   time.Duration
	Transfer    filetransfer.Config
}

// DefaultConfig returns a config for a server on localhost.
func DefaultConfig() Config {
	return Config{
		ServerAddr:  "127.0.0.1:12345",
		ReceiveAddr: ":0",
		DownloadDir: ".",
		KeepAlive:   10 * time.Second,
	}
}

// SendResult reports the end of an outbound file transfer.
type SendResult struct {
	Target int
	Path   string
	Sent   int64
	Err    error
}

// Client is one chat participant.
type Client struct {
	cfg      Config
	conn     *Conn
	adapter  *Adapter
	receiver *filetransfer.Receiver
	sender   filetransfer.Sender
	handler  EventHandler

	mu       sync.Mutex
	accepted map[acceptKey][]acceptance // inbound files we agreed to receive
	now      func() time.Time

	cancel    context.CancelFunc
	group     *errgroup.Group
	transfers sync.WaitGroup
	closeOnce sync.Once

	// Optional callbacks, called from transfer goroutines.
	OnSendFinished     func(SendResult)
	OnTransferFinished func(filetransfer.Result)
}

// New dials the server and binds the file receiver. Nothing is sent until Start.
func New(cfg Config, handler EventHandler) (*Client, error) {
	conn, err := DialConn(cfg.ServerAddr)
	if err != nil {
		return nil, err
	}
	c := &Client{
		cfg:      cfg,
		conn:     conn,
		sender:   filetransfer.DefaultSender,
		handler:  handler,
		accepted: make(map[acceptKey][]acceptance),
		now:      time.Now,
	}
	c.adapter = NewAdapter(conn.LocalPort(), events{c})
	c.receiver = filetransfer.NewReceiver(cfg.Transfer, prompter{c}, observer{c})
	if err := c.receiver.Listen(cfg.ReceiveAddr); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

// Start announces the session and runs the receive, keepalive and file
// receiver loops until ctx is cancelled or Close is called.
func (c *Client) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)
	if err := c.conn.Send(protocol.Connect{Port: c.Port()}); err != nil {
		c.cancel()
		return err
	}
	slog.Info("connected", "server", c.cfg.ServerAddr, "port", c.Port(), "files_port", c.receiver.Port())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.conn.ReadLoop(gctx, func(b []byte) {
			if err := c.adapter.Handle(b); err != nil {
				slog.Debug("dropping server frame", "err", err)
			}
		})
	})
	g.Go(func() error { return c.keepAlive(gctx) })
	g.Go(func() error { return c.receiver.Serve(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		_ = c.conn.Close()
		return nil
	})
	c.group = g
	return nil
}

// Wait blocks until the client has stopped.
func (c *Client) Wait() error {
	if c.group == nil {
		return nil
	}
	err := c.group.Wait()
	c.transfers.Wait()
	return err
}

// Close tells the server we are leaving and stops every loop.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.group != nil {
			_ = c.conn.Send(protocol.Disconnect{Port: c.Port()})
			c.cancel()
			err = c.Wait()
			return
		}
		_ = c.receiver.Close()
		err = c.conn.Close()
	})
	return err
}

func (c *Client) keepAlive(ctx context.Context) error {
	if c.cfg.KeepAlive <= 0 {
		return nil
	}
	ticker := time.NewTicker(c.cfg.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.conn.Send(protocol.Connect{Port: c.Port()}); err != nil {
				slog.Debug("keepalive failed", "err", err)
			}
		}
	}
}

// Port is this client's session ID.
func (c *Client) Port() int { return c.conn.LocalPort() }

// FilesPort is the TCP port inbound transfers connect to.
func (c *Client) FilesPort() int { return c.receiver.Port() }

// Adapter exposes the mirrored server state.
func (c *Client) Adapter() *Adapter { return c.adapter }

// Label is the identity the server currently shows for us.
func (c *Client) Label() string {
	if e, ok := c.adapter.Peer(c.Port()); ok && e.Name != "" {
		return e.Name
	}
	return model.GuestLabel(c.Port())
}

func (c *Client) Enter() error {
	return c.conn.Send(protocol.Auth{Action: protocol.AuthEnter})
}

// Register creates an account. Only the password hash leaves the process.
func (c *Client) Register(username, password string) error {
	return c.conn.Send(protocol.Auth{
		Action: protocol.AuthRegister, Username: username, PasswordHash: crypto.HashPassword(password),
	})
}

func (c *Client) Login(username, password string) error {
	return c.conn.Send(protocol.Auth{
		Action: protocol.AuthLogin, Username: username, PasswordHash: crypto.HashPassword(password),
	})
}

// Say posts to all-chat.
func (c *Client) Say(text string) error {
	return c.conn.Send(protocol.Chat{Text: text})
}

// Typing reports the current draft for ctx ("all", a port, an identity or a
// group). An empty text clears it.
func (c *Client) Typing(ctx, text string) error {
	return c.conn.Send(protocol.Typing{Context: ctx, Text: text})
}

func (c *Client) SendDM(target, text string) error {
	return c.conn.Send(protocol.DirectMessage{Target: target, Content: text})
}

func (c *Client) RequestDMHistory(userA, userB string) error {
	return c.conn.Send(protocol.DMHistoryRequest{UserA: userA, UserB: userB})
}

// CreateGroup creates a group owned by the current identity.
func (c *Client) CreateGroup(name string, members []string) error {
	return c.conn.Send(protocol.GroupCommand{Action: protocol.GroupCreate, Name: name, Owner: c.Label(), Members: members})
}

// ManageGroup replaces the member list of a group we own.
func (c *Client) ManageGroup(name string, members []string) error {
	return c.conn.Send(protocol.GroupCommand{Action: protocol.GroupManage, Name: name, Owner: c.Label(), Members: members})
}

func (c *Client) SendGroupMessage(group, text string) error {
	return c.conn.Send(protocol.GroupMessage{Group: group, Content: text})
}

func (c *Client) RequestGroupHistory(group string) error {
	return c.conn.Send(protocol.GroupHistoryRequest{Group: group})
}

// OfferFile asks target to accept path. The bytes move once target accepts.
func (c *Client) OfferFile(target int, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", filetransfer.ErrFileMissing, path)
		}
		return fmt.Errorf("client: stat: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", filetransfer.ErrFileMissing, path)
	}
	c.adapter.OfferSent(target, path)
	return c.conn.Send(protocol.FileRequest{Peer: target, Filename: filepath.Base(path), Size: info.Size()})
}

// AcceptOffer accepts the pending offer from initiator and tells it where to
// connect.
func (c *Client) AcceptOffer(initiator int) error {
	o, ok := c.adapter.TakeOffer(initiator)
	if !ok {
		return ErrNoOffer
	}
	peer, ok := c.adapter.Peer(initiator)
	if !ok {
		return fmt.Errorf("%w: %d is no longer connected", ErrNoOffer, initiator)
	}
	c.expectTransfer(initiator, peer.IP, o.Filename)
	return c.conn.Send(protocol.FileResponse{Peer: initiator, Decision: protocol.DecisionAccept, Port: c.FilesPort()})
}

func (c *Client) RejectOffer(initiator int) error {
	if _, ok := c.adapter.TakeOffer(initiator); !ok {
		return ErrNoOffer
	}
	return c.conn.Send(protocol.FileResponse{Peer: initiator, Decision: protocol.DecisionReject})
}

// acceptWindow bounds how long an accepted offer waits for the initiator to
// connect.
const acceptWindow = filetransfer.DefaultDecisionTimeout

// acceptKey identifies an expected inbound connection by the initiator's IP
// and the offered filename.
type acceptKey struct {
	ip       string
	filename string
}

type acceptance struct {
	initiator int
	expires   time.Time
}

func (c *Client) expectTransfer(initiator int, ip, filename string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := acceptKey{ip: normalizeIP(ip), filename: filename}
	c.accepted[key] = append(c.accepted[key], acceptance{initiator: initiator, expires: c.now().Add(acceptWindow)})
}

// claimTransfer consumes the oldest live acceptance matching peer and
// filename.
func (c *Client) claimTransfer(peer, filename string) bool {
	host, _, err := net.SplitHostPort(peer)
	if err != nil {
		host = peer
	}
	key := acceptKey{ip: normalizeIP(host), filename: filename}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.dropAcceptedLocked(func(a acceptance) bool { return !now.Before(a.expires) })
	list := c.accepted[key]
	if len(list) == 0 {
		return false
	}
	if len(list) == 1 {
		delete(c.accepted, key)
	} else {
		c.accepted[key] = list[1:]
	}
	return true
}

// dropDeparted forgets acceptances from initiators no longer in roster.
func (c *Client) dropDeparted(roster []protocol.RosterEntry) {
	live := make(map[int]bool, len(roster))
	for _, e := range roster {
		live[e.ID] = true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropAcceptedLocked(func(a acceptance) bool { return !live[a.initiator] })
}

func (c *Client) dropAcceptedLocked(drop func(acceptance) bool) {
	for key, list := range c.accepted {
		kept := list[:0]
		for _, a := range list {
			if !drop(a) {
				kept = append(kept, a)
			}
		}
		if len(kept) == 0 {
			delete(c.accepted, key)
		} else {
			c.accepted[key] = kept
		}
	}
}

func normalizeIP(s string) string {
	if ip := net.ParseIP(s); ip != nil {
		return ip.String()
	}
	return s
}

// startSend dials the peer that accepted our offer.
func (c *Client) startSend(r Response) {
	res := SendResult{Target: r.Peer, Path: r.Path}
	if r.Path == "" || r.PeerIP == "" || r.Port == 0 {
		res.Err = fmt.Errorf("client: cannot reach %d for %q", r.Peer, r.Path)
		c.sendFinished(res)
		return
	}
	addr := net.JoinHostPort(r.PeerIP, itoa(r.Port))

	c.transfers.Add(1)
	go func() {
		defer c.transfers.Done()
		res.Sent, res.Err = c.sender.Send(context.Background(), addr, r.Path)
		c.sendFinished(res)
	}()
}

func (c *Client) sendFinished(res SendResult) {
	if res.Err != nil {
		slog.Warn("outbound transfer failed", "target", res.Target, "path", res.Path, "err", res.Err)
	}
	if c.OnSendFinished != nil {
		c.OnSendFinished(res)
	}
}

// events forwards adapter events and starts the sender on an accepted offer.
type events struct{ c *Client }

func (e events) RosterChanged(s Snapshot) {
	e.c.dropDeparted(s.Roster)
	e.c.handler.RosterChanged(s)
}

func (e events) MessageReceived(m Message) { e.c.handler.MessageReceived(m) }
func (e events) TypingChanged(ctx string, t map[string]string) { e.c.handler.TypingChanged(ctx, t) }
func (e events) FileOfferReceived(o Offer) { e.c.handler.FileOfferReceived(o) }

func (e events) FileResponseReceived(r Response) {
	e.c.handler.FileResponseReceived(r)
	if r.Decision == protocol.DecisionAccept {
		e.c.startSend(r)
	}
}

// prompter accepts only inbound connections for offers the user accepted,
// matched on the initiator's IP and the filename.
type prompter struct{ c *Client }

func (p prompter) AcceptTransfer(_ context.Context, peer string, h filetransfer.Header) (bool, error) {
	if !p.c.claimTransfer(peer, h.Filename) {
		slog.Warn("unexpected inbound transfer", "peer", peer, "file", h.Filename)
		return false, nil
	}
	return true, nil
}

func (p prompter) ChooseDestination(_ context.Context, h filetransfer.Header) (string, error) {
	if err := os.MkdirAll(p.c.cfg.DownloadDir, 0o750); err != nil {
		return "", fmt.Errorf("client: download dir: %w", err)
	}
	return filepath.Join(p.c.cfg.DownloadDir, h.Filename), nil
}

type observer struct{ c *Client }

func (o observer) TransferFinished(r filetransfer.Result) {
	if o.c.OnTransferFinished != nil {
		o.c.OnTransferFinished(r)
	}
}

package filetransfer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Config holds receiver timeouts. Zero values use the defaults.
type Config struct {
	IdleTimeout     time.Duration // per-read deadline while receiving
	DecisionTimeout time.Duration // bound on each Prompter call
}

func (c Config) withDefaults() Config {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.DecisionTimeout <= 0 {
		c.DecisionTimeout = DefaultDecisionTimeout
	}
	return c
}

// Prompter decides on inbound transfers. Both calls must honour ctx.
type Prompter interface {
	AcceptTransfer(ctx context.Context, peer string, h Header) (bool, error)
	// ChooseDestination returns the full path to save to, or "" to cancel.
	ChooseDestination(ctx context.Context, h Header) (string, error)
}

// Result describes one finished inbound transfer.
type Result struct {
	ID       uuid.UUID
	Peer     string
	Header   Header
	Path     string // final path, empty unless the transfer succeeded
	Received int64
	Err      error
}

// Observer is told about every inbound transfer once it ends.
type Observer interface {
	TransferFinished(Result)
}

// Receiver accepts inbound transfers, one goroutine per connection.
type Receiver struct {
	cfg      Config
	prompter Prompter
	observer Observer

	ln net.Listener
	wg sync.WaitGroup
}

// NewReceiver creates a receiver. observer may be nil.
func NewReceiver(cfg Config, prompter Prompter, observer Observer) *Receiver {
	return &Receiver{cfg: cfg.withDefaults(), prompter: prompter, observer: observer}
}

// Listen binds the TCP listener. Use ":0" for an ephemeral port.
func (r *Receiver) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("filetransfer: listen: %w", err)
	}
	r.ln = ln
	slog.Info("file receiver listening", "addr", ln.Addr().String())
	return nil
}

// Port returns the bound TCP port, or 0 before Listen.
func (r *Receiver) Port() int {
	if r.ln == nil {
		return 0
	}
	return r.ln.Addr().(*net.TCPAddr).Port
}

// Serve accepts connections until ctx is cancelled or the listener closes,
// then waits for in-flight transfers.
func (r *Receiver) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = r.ln.Close()
	}()
	defer r.wg.Wait()

	for {
		conn, err := r.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("filetransfer: accept: %w", err)
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.handle(ctx, conn)
		}()
	}
}

// Close stops accepting new transfers.
func (r *Receiver) Close() error {
	if r.ln == nil {
		return nil
	}
	return r.ln.Close()
}

func (r *Receiver) handle(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()

	res := Result{ID: uuid.New(), Peer: conn.RemoteAddr().String()}
	res.Header, res.Path, res.Received, res.Err = r.receive(ctx, conn)
	if res.Err != nil {
		res.Path = ""
		slog.Warn("inbound transfer failed", "id", res.ID, "peer", res.Peer, "file", res.Header.Filename, "err", res.Err)
	} else {
		slog.Info("inbound transfer complete", "id", res.ID, "peer", res.Peer, "path", res.Path, "bytes", res.Received)
	}
	if r.observer != nil {
		r.observer.TransferFinished(res)
	}
}

func (r *Receiver) receive(ctx context.Context, conn net.Conn) (Header, string, int64, error) {
	in := bufio.NewReaderSize(&idleReader{conn: conn, timeout: r.cfg.IdleTimeout}, MaxHeaderSize+1)
	h, err := readHeader(in)
	if err != nil {
		return Header{}, "", 0, err
	}

	dest, err := r.decide(ctx, conn.RemoteAddr().String(), h)
	if err != nil {
		_ = writeToken(conn, tokenReject, r.cfg.IdleTimeout)
		return h, "", 0, err
	}
	if err := writeToken(conn, tokenAccept, r.cfg.IdleTimeout); err != nil {
		return h, "", 0, fmt.Errorf("filetransfer: send accept: %w", err)
	}

	received, err := r.copyToFile(in, h, dest)
	if err != nil {
		return h, "", received, err
	}
	return h, dest, received, nil
}

// readHeader reads one newline-terminated header. A header that is cut
// short or never terminated is malformed.
func readHeader(in *bufio.Reader) (Header, error) {
	line, err := in.ReadSlice(headerTerminator)
	switch {
	case errors.Is(err, bufio.ErrBufferFull):
		return Header{}, fmt.Errorf("%w: longer than %d bytes", ErrMalformedHeader, MaxHeaderSize)
	case errors.Is(err, io.EOF):
		return Header{}, fmt.Errorf("%w: truncated %q", ErrMalformedHeader, line)
	case err != nil:
		return Header{}, fmt.Errorf("filetransfer: read header: %w", timeoutErr(err))
	}
	return ParseHeader(string(line))
}

// decide runs both prompts, each bounded by DecisionTimeout. A declined
// prompt is reported as ErrRejected.
func (r *Receiver) decide(ctx context.Context, peer string, h Header) (string, error) {
	actx, cancel := context.WithTimeout(ctx, r.cfg.DecisionTimeout)
	ok, err := r.prompter.AcceptTransfer(actx, peer, h)
	cancel()
	if err != nil {
		return "", decisionErr(actx, err)
	}
	if !ok {
		return "", ErrRejected
	}

	dctx, cancel := context.WithTimeout(ctx, r.cfg.DecisionTimeout)
	dest, err := r.prompter.ChooseDestination(dctx, h)
	cancel()
	if err != nil {
		return "", decisionErr(dctx, err)
	}
	if dest == "" {
		return "", ErrRejected
	}
	return dest, nil
}

func decisionErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("filetransfer: decision: %w", ErrTimeout)
	}
	return fmt.Errorf("filetransfer: decision: %w", err)
}

// copyToFile receives exactly h.Size bytes into a temp file next to dest and
// renames it on success. The temp file never survives a failure.
func (r *Receiver) copyToFile(in io.Reader, h Header, dest string) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".udpchat-recv-*")
	if err != nil {
		return 0, fmt.Errorf("filetransfer: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	n, err := io.CopyN(tmp, in, h.Size)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return n, fmt.Errorf("%w: got %d of %d bytes", ErrPartialTransfer, n, h.Size)
		}
		return n, fmt.Errorf("filetransfer: receive: %w", timeoutErr(err))
	}
	if err := tmp.Close(); err != nil {
		return n, fmt.Errorf("filetransfer: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return n, fmt.Errorf("filetransfer: rename: %w", err)
	}
	ok = true
	return n, nil
}

// idleReader refreshes the read deadline before every Read.
type idleReader struct {
	conn    net.Conn
	timeout time.Duration
}

func (r *idleReader) Read(p []byte) (int, error) {
	_ = r.conn.SetReadDeadline(time.Now().Add(r.timeout))
	return r.conn.Read(p)
}

func writeToken(conn net.Conn, token string, timeout time.Duration) error {
	_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	_, err := conn.Write([]byte(token))
	return err
}

func timeoutErr(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

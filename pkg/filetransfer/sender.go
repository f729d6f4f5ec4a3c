package filetransfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Sender streams one file to a peer's Receiver.
type Sender struct {
	ChunkSize int
	// IdleTimeout is the write deadline applied to each chunk.
	IdleTimeout time.Duration
	// DecisionTimeout bounds the wait for ACCEPT or REJECT. The receiver
	// prompts twice, so this should cover two of its decisions.
	DecisionTimeout time.Duration
}

// DefaultSender uses ChunkSize and the default timeouts.
var DefaultSender = Sender{
	ChunkSize:       ChunkSize,
	IdleTimeout:     DefaultIdleTimeout,
	DecisionTimeout: 2 * DefaultDecisionTimeout,
}

// Send delivers path to addr using DefaultSender.
func Send(ctx context.Context, addr, path string) (int64, error) {
	return DefaultSender.Send(ctx, addr, path)
}

// Send delivers path to addr and returns the number of bytes written.
// ctx bounds the dial only.
func (s Sender) Send(ctx context.Context, addr, path string) (int64, error) {
	f, err := os.Open(path) //nolint:gosec // path chosen by the local user
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s", ErrFileMissing, path)
		}
		return 0, fmt.Errorf("filetransfer: open: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("filetransfer: stat: %w", err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%w: %s is a directory", ErrFileMissing, path)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("filetransfer: dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	h := Header{Filename: filepath.Base(path), Size: info.Size()}
	if strings.ContainsRune(h.Filename, headerTerminator) {
		return 0, fmt.Errorf("%w: filename contains a newline", ErrMalformedHeader)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(s.idleTimeout()))
	if _, err := conn.Write([]byte(h.Encode())); err != nil {
		return 0, fmt.Errorf("filetransfer: send header: %w", timeoutErr(err))
	}

	token := make([]byte, tokenSize)
	_ = conn.SetReadDeadline(time.Now().Add(s.decisionTimeout()))
	if _, err := io.ReadFull(conn, token); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, ErrRejected
		}
		return 0, fmt.Errorf("filetransfer: await decision: %w", timeoutErr(err))
	}
	switch string(token) {
	case tokenAccept:
	case tokenReject:
		return 0, ErrRejected
	default:
		return 0, fmt.Errorf("filetransfer: unexpected token %q", token)
	}

	sent, err := s.stream(conn, f)
	if err != nil {
		return sent, err
	}
	if sent != h.Size {
		return sent, fmt.Errorf("%w: sent %d of %d bytes", ErrPartialTransfer, sent, h.Size)
	}
	slog.Info("outbound transfer complete", "peer", addr, "file", h.Filename, "bytes", sent)
	return sent, nil
}

func (s Sender) stream(conn net.Conn, r io.Reader) (int64, error) {
	size := s.ChunkSize
	if size <= 0 {
		size = ChunkSize
	}
	buf := make([]byte, size)
	var sent int64
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(s.idleTimeout()))
			w, err := conn.Write(buf[:n])
			sent += int64(w)
			if err != nil {
				return sent, fmt.Errorf("filetransfer: send: %w", timeoutErr(err))
			}
		}
		if errors.Is(rerr, io.EOF) {
			return sent, nil
		}
		if rerr != nil {
			return sent, fmt.Errorf("filetransfer: read file: %w", rerr)
		}
	}
}

func (s Sender) idleTimeout() time.Duration {
	if s.IdleTimeout <= 0 {
		return DefaultIdleTimeout
	}
	return s.IdleTimeout
}

func (s Sender) decisionTimeout() time.Duration {
	if s.DecisionTimeout <= 0 {
		return 2 * DefaultDecisionTimeout
	}
	return s.DecisionTimeout
}

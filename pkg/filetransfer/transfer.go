// Package filetransfer implements the reliable peer-to-peer channel used to
// move a file once both sides agreed over the chat protocol. The receiver
// listens on TCP; the sender connects, sends a newline-terminated header,
// waits for an ACCEPT or REJECT token and then streams the bytes.
package filetransfer

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// MaxHeaderSize bounds the filename|filesize header, terminator excluded.
	MaxHeaderSize    = 1024
	headerTerminator = '\n'
	// ChunkSize is the sender's write size.
	ChunkSize = 4096

	DefaultIdleTimeout     = 30 * time.Second
	DefaultDecisionTimeout = 5 * time.Minute

	tokenAccept = "ACCEPT"
	tokenReject = "REJECT"
	tokenSize   = 6
)

var (
	ErrRejected        = errors.New("filetransfer: transfer rejected by peer")
	ErrPartialTransfer = errors.New("filetransfer: connection closed before all bytes arrived")
	ErrTimeout         = errors.New("filetransfer: timed out")
	ErrFileMissing     = errors.New("filetransfer: file does not exist")
	ErrMalformedHeader = errors.New("filetransfer: malformed header")
)

// Header announces the file a sender wants to deliver.
type Header struct {
	Filename string
	Size     int64
}

// Encode renders the header as filename|filesize followed by a newline.
func (h Header) Encode() string {
	return h.Filename + "|" + strconv.FormatInt(h.Size, 10) + string(headerTerminator)
}

// ParseHeader decodes filename|filesize, with or without the trailing
// newline. The filename is reduced to its base
// name so a sender can never choose the directory it lands in.
func ParseHeader(raw string) (Header, error) {
	raw = strings.TrimSuffix(raw, string(headerTerminator))
	if len(raw) > MaxHeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrMalformedHeader, len(raw))
	}
	i := strings.LastIndexByte(raw, '|')
	if i < 0 {
		return Header{}, fmt.Errorf("%w: missing separator", ErrMalformedHeader)
	}
	size, err := strconv.ParseInt(raw[i+1:], 10, 64)
	if err != nil || size < 0 {
		return Header{}, fmt.Errorf("%w: invalid size %q", ErrMalformedHeader, raw[i+1:])
	}
	name := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(raw[:i], `\`, "/")))
	if name == "/" || name == "." || name == ".." || name == "" {
		return Header{}, fmt.Errorf("%w: invalid filename %q", ErrMalformedHeader, raw[:i])
	}
	return Header{Filename: name, Size: size}, nil
}

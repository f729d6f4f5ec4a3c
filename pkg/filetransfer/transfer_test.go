package filetransfer

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Header
		wantErr bool
	}{
		{name: "simple", raw: "notes.txt|42", want: Header{Filename: "notes.txt", Size: 42}},
		{name: "terminated", raw: "notes.txt|42\n", want: Header{Filename: "notes.txt", Size: 42}},
		{name: "empty file", raw: "empty|0", want: Header{Filename: "empty", Size: 0}},
		{name: "pipe in name", raw: "a|b.txt|7", want: Header{Filename: "a|b.txt", Size: 7}},
		{name: "directory stripped", raw: "../../etc/passwd|1", want: Header{Filename: "passwd", Size: 1}},
		{name: "windows path stripped", raw: `C:\tmp\x.bin|3`, want: Header{Filename: "x.bin", Size: 3}},
		{name: "no separator", raw: "notes.txt", wantErr: true},
		{name: "negative size", raw: "a|-1", wantErr: true},
		{name: "bad size", raw: "a|lots", wantErr: true},
		{name: "dot dot", raw: "..|1", wantErr: true},
		{name: "empty name", raw: "|1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseHeader(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedHeader)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHeaderEncode(t *testing.T) {
	assert.Equal(t, "report.pdf|1024\n", Header{Filename: "report.pdf", Size: 1024}.Encode())
}

// scriptedPrompter answers with fixed decisions; block makes AcceptTransfer
// wait for its context.
type scriptedPrompter struct {
	accept bool
	dest   string
	block  bool
}

func (p *scriptedPrompter) AcceptTransfer(ctx context.Context, _ string, _ Header) (bool, error) {
	if p.block {
		<-ctx.Done()
		return false, ctx.Err()
	}
	return p.accept, nil
}

func (p *scriptedPrompter) ChooseDestination(_ context.Context, h Header) (string, error) {
	if p.dest == "" {
		return "", nil
	}
	return filepath.Join(p.dest, h.Filename), nil
}

type chanObserver chan Result

func (o chanObserver) TransferFinished(r Result) { o <- r }

func startReceiver(t *testing.T, cfg Config, p Prompter) (*Receiver, chanObserver) {
	t.Helper()
	obs := make(chanObserver, 4)
	r := NewReceiver(cfg, p, obs)
	require.NoError(t, r.Listen("127.0.0.1:0"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return r, obs
}

func waitResult(t *testing.T, obs chanObserver) Result {
	t.Helper()
	select {
	case r := <-obs:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("no transfer result")
		return Result{}
	}
}

func writeRandomFile(t *testing.T, dir, name string, size int) []byte {
	t.Helper()
	data := make([]byte, size)
	_, err := rand.Read(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o600))
	return data
}

func TestTransferByteExact(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	data := writeRandomFile(t, src, "photo.bin", 3*ChunkSize+123)

	r, obs := startReceiver(t, Config{}, &scriptedPrompter{accept: true, dest: dst})
	addr := "127.0.0.1:" + strconv.Itoa(r.Port())

	sent, err := Send(context.Background(), addr, filepath.Join(src, "photo.bin"))
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), sent)

	res := waitResult(t, obs)
	require.NoError(t, res.Err)
	assert.Equal(t, filepath.Join(dst, "photo.bin"), res.Path)
	assert.Equal(t, int64(len(data)), res.Received)
	assert.NotEqual(t, [16]byte{}, [16]byte(res.ID))

	got, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got), "received bytes differ")
	assertNoTempFiles(t, dst)
}

func TestTransferEmptyFile(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	writeRandomFile(t, src, "empty", 0)

	r, obs := startReceiver(t, Config{}, &scriptedPrompter{accept: true, dest: dst})
	_, err := Send(context.Background(), "127.0.0.1:"+strconv.Itoa(r.Port()), filepath.Join(src, "empty"))
	require.NoError(t, err)

	res := waitResult(t, obs)
	require.NoError(t, res.Err)
	info, err := os.Stat(res.Path)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestTransferRejected(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	writeRandomFile(t, src, "secret.txt", 100)

	r, obs := startReceiver(t, Config{}, &scriptedPrompter{accept: false, dest: dst})
	_, err := Send(context.Background(), "127.0.0.1:"+strconv.Itoa(r.Port()), filepath.Join(src, "secret.txt"))
	assert.ErrorIs(t, err, ErrRejected)

	res := waitResult(t, obs)
	assert.ErrorIs(t, res.Err, ErrRejected)
	assert.Empty(t, res.Path)
	entries, _ := os.ReadDir(dst)
	assert.Empty(t, entries)
}

func TestTransferNoDestinationRejects(t *testing.T) {
	src := t.TempDir()
	writeRandomFile(t, src, "a", 10)

	r, obs := startReceiver(t, Config{}, &scriptedPrompter{accept: true})
	_, err := Send(context.Background(), "127.0.0.1:"+strconv.Itoa(r.Port()), filepath.Join(src, "a"))
	assert.ErrorIs(t, err, ErrRejected)
	assert.ErrorIs(t, waitResult(t, obs).Err, ErrRejected)
}

func TestTransferDecisionTimeout(t *testing.T) {
	src := t.TempDir()
	writeRandomFile(t, src, "a", 10)

	cfg := Config{DecisionTimeout: 50 * time.Millisecond}
	r, obs := startReceiver(t, cfg, &scriptedPrompter{block: true})
	_, err := Send(context.Background(), "127.0.0.1:"+strconv.Itoa(r.Port()), filepath.Join(src, "a"))
	assert.ErrorIs(t, err, ErrRejected)
	assert.ErrorIs(t, waitResult(t, obs).Err, ErrTimeout)
}

func TestTransferPartial(t *testing.T) {
	dst := t.TempDir()
	r, obs := startReceiver(t, Config{}, &scriptedPrompter{accept: true, dest: dst})

	conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(r.Port()))
	require.NoError(t, err)
	_, err = conn.Write([]byte(Header{Filename: "big.iso", Size: 10000}.Encode()))
	require.NoError(t, err)

	token := make([]byte, tokenSize)
	_, err = io.ReadFull(conn, token)
	require.NoError(t, err)
	require.Equal(t, tokenAccept, string(token))

	_, err = conn.Write(make([]byte, 4000))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	res := waitResult(t, obs)
	assert.ErrorIs(t, res.Err, ErrPartialTransfer)
	assert.Equal(t, int64(4000), res.Received)
	assert.Empty(t, res.Path)
	entries, _ := os.ReadDir(dst)
	assert.Empty(t, entries, "partial transfer left files behind")
}

func TestTransferIdleTimeout(t *testing.T) {
	dst := t.TempDir()
	r, obs := startReceiver(t, Config{IdleTimeout: 100 * time.Millisecond}, &scriptedPrompter{accept: true, dest: dst})

	conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(r.Port()))
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("slow.bin|10\n"))
	require.NoError(t, err)

	res := waitResult(t, obs)
	assert.ErrorIs(t, res.Err, ErrTimeout)
	entries, _ := os.ReadDir(dst)
	assert.Empty(t, entries)
}

func TestTransferMalformedHeader(t *testing.T) {
	r, obs := startReceiver(t, Config{}, &scriptedPrompter{accept: true, dest: t.TempDir()})

	conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(r.Port()))
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("no separator here\n"))
	require.NoError(t, err)

	assert.ErrorIs(t, waitResult(t, obs).Err, ErrMalformedHeader)
}

func TestTransferSplitHeader(t *testing.T) {
	dst := t.TempDir()
	r, obs := startReceiver(t, Config{}, &scriptedPrompter{accept: true, dest: dst})

	conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(r.Port()))
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("split.bin|12"))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	_, err = conn.Write([]byte("34\n"))
	require.NoError(t, err)

	token := make([]byte, tokenSize)
	_, err = io.ReadFull(conn, token)
	require.NoError(t, err)
	require.Equal(t, tokenAccept, string(token))
	_, err = conn.Write(make([]byte, 1234))
	require.NoError(t, err)

	res := waitResult(t, obs)
	require.NoError(t, res.Err)
	assert.Equal(t, Header{Filename: "split.bin", Size: 1234}, res.Header)
	assert.Equal(t, int64(1234), res.Received)
}

func TestTransferTruncatedHeader(t *testing.T) {
	r, obs := startReceiver(t, Config{}, &scriptedPrompter{accept: true, dest: t.TempDir()})

	conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(r.Port()))
	require.NoError(t, err)
	_, err = conn.Write([]byte("cut.bin|12"))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	res := waitResult(t, obs)
	assert.ErrorIs(t, res.Err, ErrMalformedHeader)
	assert.Zero(t, res.Header.Size)
}

func TestTransferOversizedHeader(t *testing.T) {
	r, obs := startReceiver(t, Config{}, &scriptedPrompter{accept: true, dest: t.TempDir()})

	conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(r.Port()))
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(bytes.Repeat([]byte("x"), MaxHeaderSize+10))
	require.NoError(t, err)

	assert.ErrorIs(t, waitResult(t, obs).Err, ErrMalformedHeader)
}

func TestSendMissingFile(t *testing.T) {
	_, err := Send(context.Background(), "127.0.0.1:1", filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, ErrFileMissing)
}

func TestSendDialFailure(t *testing.T) {
	src := t.TempDir()
	writeRandomFile(t, src, "a", 1)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = Send(context.Background(), addr, filepath.Join(src, "a"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrRejected))
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, ".udpchat-recv-*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

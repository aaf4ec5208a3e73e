package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"pairbot/internal/domain"
)

type fakeValidator struct{}

func (fakeValidator) Parse(raw string) (domain.Phone, bool) {
	digits := digitsOnly(raw)
	if len(digits) < 8 || len(digits) > 15 {
		return "", false
	}
	return domain.Phone(digits), true
}

type fakeCreds struct {
	dir    string
	mu     sync.Mutex
	closed bool
}

func (c *fakeCreds) PrimaryFile() string { return filepath.Join(c.dir, "store.db") }

func (c *fakeCreds) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeCreds) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeStore struct {
	err   error
	mu    sync.Mutex
	loads int
	creds []*fakeCreds
}

func (s *fakeStore) LoadOrInit(_ context.Context, dir string) (Credentials, error) {
	s.mu.Lock()
	s.loads++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	c := &fakeCreds{dir: dir}
	if err := os.WriteFile(c.PrimaryFile(), []byte("bundle"), 0o600); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.creds = append(s.creds, c)
	s.mu.Unlock()
	return c, nil
}

// closedBundles reports, per opened bundle in order, whether it was closed.
func (s *fakeStore) closedBundles() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]bool, len(s.creds))
	for i, c := range s.creds {
		out[i] = c.isClosed()
	}
	return out
}

type sentMessage struct {
	address string
	text    string
}

type fakeConn struct {
	registered bool
	ready      chan struct{}
	events     chan domain.ConnectionEvent
	failures   chan error

	code      string
	pairErr   error
	pairBlock bool
	sendErr   error

	mu     sync.Mutex
	pairs  int
	sent   []sentMessage
	closed bool
}

func newFakeConn() *fakeConn {
	ready := make(chan struct{})
	close(ready)
	return &fakeConn{
		ready:    ready,
		events:   make(chan domain.ConnectionEvent, 8),
		failures: make(chan error, 8),
		code:     "ABCD1234",
	}
}

func (c *fakeConn) Registered() bool                      { return c.registered }
func (c *fakeConn) Ready() <-chan struct{}                { return c.ready }
func (c *fakeConn) Events() <-chan domain.ConnectionEvent { return c.events }
func (c *fakeConn) Failures() <-chan error                { return c.failures }

func (c *fakeConn) RequestPairingCode(ctx context.Context, _ string) (string, error) {
	c.mu.Lock()
	c.pairs++
	c.mu.Unlock()
	if c.pairBlock {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return c.code, c.pairErr
}

func (c *fakeConn) SendText(_ context.Context, address, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, sentMessage{address: address, text: text})
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeFactory struct {
	mu    sync.Mutex
	conns []*fakeConn
	err   error
	opens int
}

func (f *fakeFactory) Open(_ context.Context, _ Credentials) (Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.opens >= len(f.conns) {
		return nil, errors.New("no connection scripted")
	}
	c := f.conns[f.opens]
	f.opens++
	return c, nil
}

func (f *fakeFactory) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

type fakeBlobs struct {
	url     string
	err     error
	mu      sync.Mutex
	uploads []string
}

func (b *fakeBlobs) Upload(_ context.Context, localPath, remoteName string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.uploads = append(b.uploads, remoteName)
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}
	return b.url, b.err
}

type fakeRecorder struct {
	mu        sync.Mutex
	states    []domain.State
	summaries []domain.SessionSummary
	err       error
}

func (r *fakeRecorder) RecordTransition(_ context.Context, rec domain.SessionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, rec.State)
	return r.err
}

func (r *fakeRecorder) RecordSummary(_ context.Context, sum domain.SessionSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, sum)
	return r.err
}

type countingSink struct {
	*OneShot
	mu       sync.Mutex
	attempts int
}

func newCountingSink() *countingSink {
	return &countingSink{OneShot: NewOneShot()}
}

func (s *countingSink) Deliver(resp Response) bool {
	s.mu.Lock()
	s.attempts++
	s.mu.Unlock()
	return s.OneShot.Deliver(resp)
}

func nopLogger() zerolog.Logger { return zerolog.Nop() }

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func waitResponse(t *testing.T, sink *countingSink) Response {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, ok := sink.Wait(ctx)
	require.True(t, ok, "no response delivered")
	return resp
}

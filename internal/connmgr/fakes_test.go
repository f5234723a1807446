package connmgr

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"

	"go.uber.org/zap"
)

func discardLogger() *zap.Logger { return zap.NewNop() }

// fakeHandle records writes and flushes and whether it was closed.
type fakeHandle struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	writes   int
	closed   bool
	writeErr error
	closeErr error
}

func (h *fakeHandle) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.writeErr != nil {
		return 0, h.writeErr
	}
	if h.closed {
		return 0, errors.New("write on closed handle")
	}
	h.writes++
	return h.buf.Write(p)
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return h.closeErr
}

func (h *fakeHandle) String() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.buf.String()
}

func (h *fakeHandle) Writes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.writes
}

func (h *fakeHandle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// fakeConnector returns handles from connect. When gate is non-nil each
// Connect blocks until a value is received on it or ctx ends; a canceled
// context does not prevent the handle from being returned, so superseded
// results reach the Manager.
type fakeConnector struct {
	mu      sync.Mutex
	calls   []string
	handles []*fakeHandle
	err     error
	gate    chan struct{}
	started chan string
}

func (c *fakeConnector) Connect(ctx context.Context, identifier string) (Handle, error) {
	c.mu.Lock()
	c.calls = append(c.calls, identifier)
	h := &fakeHandle{}
	c.handles = append(c.handles, h)
	gate, started, err := c.gate, c.started, c.err
	c.mu.Unlock()

	if started != nil {
		started <- identifier
	}
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (c *fakeConnector) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *fakeConnector) Handle(i int) *fakeHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handles[i]
}

// fakeAdapter reports scanning for the first scanningPolls calls.
type fakeAdapter struct {
	mu            sync.Mutex
	deviceErr     error
	scanningPolls int
	polls         int
	discoverErr   error
	services      []string
	servicesErr   error
	fetchedAt     int // polls seen when FetchServices ran
}

func (a *fakeAdapter) Device(string) error { return a.deviceErr }

func (a *fakeAdapter) Discovering() (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.polls++
	if a.discoverErr != nil {
		return false, a.discoverErr
	}
	return a.polls <= a.scanningPolls, nil
}

func (a *fakeAdapter) FetchServices(string) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fetchedAt = a.polls
	return a.services, a.servicesErr
}

type fakeChannel struct {
	fakeHandle
	connectErr error
	connected  bool
}

func (c *fakeChannel) Connect(context.Context) error {
	if c.connectErr != nil {
		return c.connectErr
	}
	c.connected = true
	return nil
}

type fakeOpener struct {
	channel *fakeChannel
	err     error
	nilOK   bool // return (nil, nil)
	address string
	number  uint8
	calls   int
}

func (o *fakeOpener) OpenChannel(address string, channel uint8) (Channel, error) {
	o.calls++
	o.address, o.number = address, channel
	if o.err != nil {
		return nil, o.err
	}
	if o.nilOK {
		return nil, nil
	}
	return o.channel, nil
}

// pipeConnector hands out the client end of a net.Pipe whose server end is
// kept here and never read, so writes block until the client closes.
type pipeConnector struct {
	mu    sync.Mutex
	peers []net.Conn
}

func (c *pipeConnector) Connect(context.Context, string) (Handle, error) {
	client, server := net.Pipe()
	c.mu.Lock()
	c.peers = append(c.peers, server)
	c.mu.Unlock()
	return client, nil
}

func (c *pipeConnector) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.peers {
		p.Close()
	}
}

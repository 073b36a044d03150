package testutil

import (
	"context"
	"sync"

	"github.com/c360/phasorstreams/phasor"
	"github.com/c360/phasorstreams/transport"
)

// FakeChannel is a transport.Channel that records what is sent and lets a
// test play the remote side through Deliver, Connect and Disconnect.
type FakeChannel struct {
	name     string
	cfg      transport.Config
	handlers transport.Handlers

	mu      sync.Mutex
	sent    [][]byte
	started int
	stopped bool
}

var _ transport.Channel = (*FakeChannel)(nil)

func (c *FakeChannel) Name() string             { return c.name }
func (c *FakeChannel) Config() transport.Config { return c.cfg }
func (c *FakeChannel) ClientCount() int         { return 1 }
func (c *FakeChannel) Stats() transport.Stats   { return transport.Stats{} }

func (c *FakeChannel) Start(context.Context) error {
	c.mu.Lock()
	c.started++
	c.mu.Unlock()
	return nil
}

func (c *FakeChannel) Stop() error {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	return nil
}

func (c *FakeChannel) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *FakeChannel) Multicast(data []byte) error { return c.Send(data) }

// Deliver hands data to the owner as if received from remote.
func (c *FakeChannel) Deliver(remote string, data []byte) {
	if c.handlers.Data != nil {
		c.handlers.Data(remote, append([]byte(nil), data...))
	}
}

// Connect fires the connected event.
func (c *FakeChannel) Connect(remote string) {
	if c.handlers.Connected != nil {
		c.handlers.Connected(remote)
	}
}

// Disconnect fires the disconnected event.
func (c *FakeChannel) Disconnect(remote string, err error) {
	if c.handlers.Disconnected != nil {
		c.handlers.Disconnected(remote, err)
	}
}

// Sent returns a copy of every image sent or multicast.
func (c *FakeChannel) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

// SentOfType returns the sent images of one frame type.
func (c *FakeChannel) SentOfType(t phasor.FrameType) [][]byte {
	var out [][]byte
	for _, image := range c.Sent() {
		if ft, err := phasor.PeekFrameType(image); err == nil && ft == t {
			out = append(out, image)
		}
	}
	return out
}

// Stopped reports whether Stop was called.
func (c *FakeChannel) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// ChannelFactory creates FakeChannels. Its New method matches the channel
// factories of mapper and concentrator.
type ChannelFactory struct {
	mu       sync.Mutex
	channels []*FakeChannel
}

// New creates a FakeChannel named after deps.Name.
func (f *ChannelFactory) New(cfg transport.Config, deps transport.Deps) (transport.Channel, error) {
	ch := &FakeChannel{name: deps.Name, cfg: cfg, handlers: deps.Handlers}
	f.mu.Lock()
	f.channels = append(f.channels, ch)
	f.mu.Unlock()
	return ch, nil
}

// Latest returns the newest channel with the given name, or nil.
func (f *ChannelFactory) Latest(name string) *FakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.channels) - 1; i >= 0; i-- {
		if f.channels[i].name == name {
			return f.channels[i]
		}
	}
	return nil
}

// Count returns how many channels were created.
func (f *ChannelFactory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.channels)
}

package transport

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/phasorstreams/errors"
	"github.com/c360/phasorstreams/pkg/retry"
)

// dialTimeout bounds a single connection attempt.
const dialTimeout = 5 * time.Second

// TCPClient is a stream channel connected to one server.
type TCPClient struct {
	*counters

	mu       sync.RWMutex
	writeMu  sync.Mutex
	conn     net.Conn
	running  atomic.Bool
	shutdown chan struct{}
	done     chan struct{}
}

var _ Channel = (*TCPClient)(nil)

// NewTCPClient creates a client for cfg.Server. It does not dial until Start.
func NewTCPClient(cfg Config, deps Deps) *TCPClient {
	return &TCPClient{counters: newCounters("tcp-client", cfg, deps)}
}

// Start dials the server with retry and begins reading.
func (c *TCPClient) Start(ctx context.Context) error {
	if c.running.Load() {
		return nil
	}

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := retry.DoWithResult(ctx, c.retryCfg, func() (net.Conn, error) {
		return dialer.DialContext(ctx, "tcp", c.cfg.Server)
	})
	if err != nil {
		c.fault(err)
		return errors.WrapTransient(err, "tcp-client", "Start", "dial "+c.cfg.Server)
	}

	c.mu.Lock()
	if c.running.Load() {
		c.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	c.attachMetrics()
	c.conn = conn
	c.shutdown = make(chan struct{})
	c.done = make(chan struct{})
	c.running.Store(true)
	shutdown, done := c.shutdown, c.done
	c.mu.Unlock()

	c.setClients(1)
	c.connected(conn.RemoteAddr().String())

	go func() {
		defer close(done)
		c.readLoop(ctx, conn, shutdown)
	}()
	return nil
}

func (c *TCPClient) readLoop(ctx context.Context, conn net.Conn, shutdown <-chan struct{}) {
	remote := conn.RemoteAddr().String()
	buf := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			return
		case <-shutdown:
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, err := conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			c.received(remote, data)
		}
		if err == nil {
			continue
		}
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			continue
		}
		select {
		case <-shutdown:
			return
		case <-ctx.Done():
			return
		default:
		}

		// Remote closed or the socket failed: the channel is down.
		if c.running.CompareAndSwap(true, false) {
			c.mu.Lock()
			_ = c.conn.Close()
			c.conn = nil
			c.mu.Unlock()
			c.setClients(0)
			if err == io.EOF {
				err = errors.ErrConnectionLost
			}
			c.fault(err)
			c.disconnected(remote, errors.WrapTransient(err, "tcp-client", "readLoop", "read"))
		}
		return
	}
}

// Stop closes the connection and waits for the read loop.
func (c *TCPClient) Stop() error {
	c.mu.Lock()
	done := c.done
	if !c.running.Swap(false) {
		c.mu.Unlock()
		if done != nil {
			<-done
		}
		return nil
	}
	close(c.shutdown)
	remote := c.conn.RemoteAddr().String()
	_ = c.conn.Close()
	c.conn = nil
	c.mu.Unlock()

	<-done
	c.setClients(0)
	c.releaseMetrics()
	c.disconnected(remote, nil)
	return nil
}

// Send writes data to the server.
func (c *TCPClient) Send(data []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return notStarted("tcp-client", "Send")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	n, err := conn.Write(data)
	if err != nil {
		werr := errors.WrapTransient(err, "tcp-client", "Send", "write")
		c.fault(werr)
		return werr
	}
	c.sent(n)
	return nil
}

// Multicast is Send for a client.
func (c *TCPClient) Multicast(data []byte) error {
	return c.Send(data)
}

// ClientCount is 1 while connected.
func (c *TCPClient) ClientCount() int {
	if c.running.Load() {
		return 1
	}
	return 0
}

// Stats returns the channel counters.
func (c *TCPClient) Stats() Stats {
	return c.stats(c.running.Load(), c.ClientCount())
}

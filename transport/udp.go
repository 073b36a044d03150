package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/phasorstreams/errors"
	"github.com/c360/phasorstreams/pkg/retry"
)

// socketBufferSize is the OS receive buffer requested for UDP sockets.
const socketBufferSize = 2 * 1024 * 1024

// UDP is a datagram channel. It listens when Port is set and sends to every
// configured destination.
type UDP struct {
	*counters

	mu           sync.RWMutex
	conn         *net.UDPConn
	destinations []*net.UDPAddr
	running      atomic.Bool
	shutdown     chan struct{}
	done         chan struct{}
}

var _ Channel = (*UDP)(nil)

// NewUDP creates a UDP channel. It does not bind until Start.
func NewUDP(cfg Config, deps Deps) *UDP {
	return &UDP{counters: newCounters("udp", cfg, deps)}
}

// Start binds the socket with retry and begins reading datagrams.
func (u *UDP) Start(ctx context.Context) error {
	local, err := u.start(ctx)
	if err != nil || local == "" {
		return err
	}
	u.connected(local)
	return nil
}

func (u *UDP) start(ctx context.Context) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.running.Load() {
		return "", nil
	}

	dests, err := u.cfg.Destinations()
	if err != nil {
		return "", err
	}
	u.destinations = u.destinations[:0]
	for _, d := range dests {
		addr, err := net.ResolveUDPAddr("udp", d)
		if err != nil {
			return "", errors.WrapInvalid(err, "udp-channel", "Start", fmt.Sprintf("resolve destination %s", d))
		}
		u.destinations = append(u.destinations, addr)
	}

	if err := retry.Do(ctx, u.retryCfg, u.bindSocket); err != nil {
		return "", errors.WrapTransient(err, "udp-channel", "Start", "socket binding")
	}

	u.attachMetrics()
	u.shutdown = make(chan struct{})
	u.done = make(chan struct{})
	u.running.Store(true)
	u.setClients(len(u.destinations))

	conn, done, shutdown := u.conn, u.done, u.shutdown
	go func() {
		defer close(done)
		u.readLoop(ctx, conn, shutdown)
	}()

	return conn.LocalAddr().String(), nil
}

func (u *UDP) bindSocket() error {
	addr, err := net.ResolveUDPAddr("udp", u.cfg.ListenAddress())
	if err != nil {
		return retry.NonRetryable(fmt.Errorf("failed to resolve UDP address %s: %w", u.cfg.ListenAddress(), err))
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP %s: %w", u.cfg.ListenAddress(), err)
	}
	if err := conn.SetReadBuffer(socketBufferSize); err != nil {
		u.logger.Warn("Could not set UDP buffer size", "buffer_size", socketBufferSize, "error", err)
	}
	u.conn = conn
	return nil
}

func (u *UDP) readLoop(ctx context.Context, conn *net.UDPConn, shutdown <-chan struct{}) {
	buf := make([]byte, 65536)
	for {
		select {
		case <-ctx.Done():
			return
		case <-shutdown:
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, remote, err := conn.ReadFromUDP(buf)
		if err != nil {
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
			u.fault(errors.WrapTransient(err, "udp-channel", "readLoop", "read datagram"))
			if !errors.IsTransient(err) {
				return
			}
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		u.received(remote.String(), data)
	}
}

// Stop closes the socket and waits for the read loop.
func (u *UDP) Stop() error {
	if !u.running.Swap(false) {
		return nil
	}

	u.mu.Lock()
	close(u.shutdown)
	local := u.conn.LocalAddr().String()
	_ = u.conn.Close()
	done := u.done
	u.mu.Unlock()

	<-done

	u.mu.Lock()
	u.conn = nil
	u.mu.Unlock()

	u.setClients(0)
	u.releaseMetrics()
	u.disconnected(local, nil)
	return nil
}

// Send writes data to every destination.
func (u *UDP) Send(data []byte) error {
	return u.Multicast(data)
}

// Multicast writes data to every destination. Destinations that fail are
// reported and the rest still receive the datagram.
func (u *UDP) Multicast(data []byte) error {
	u.mu.RLock()
	conn := u.conn
	dests := u.destinations
	u.mu.RUnlock()

	if conn == nil || !u.running.Load() {
		return notStarted("udp-channel", "Multicast")
	}

	var errs []error
	for _, d := range dests {
		n, err := conn.WriteToUDP(data, d)
		if err != nil {
			werr := errors.WrapTransient(err, "udp-channel", "Multicast", fmt.Sprintf("write to %s", d))
			u.fault(werr)
			errs = append(errs, werr)
			continue
		}
		u.sent(n)
	}
	return errors.Join(errs...)
}

// ClientCount is the number of destinations.
func (u *UDP) ClientCount() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.conn == nil {
		return 0
	}
	return len(u.destinations)
}

// LocalAddr is the bound address, or nil before Start.
func (u *UDP) LocalAddr() net.Addr {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.conn == nil {
		return nil
	}
	return u.conn.LocalAddr()
}

// Stats returns the channel counters.
func (u *UDP) Stats() Stats {
	return u.stats(u.running.Load(), u.ClientCount())
}

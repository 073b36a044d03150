package transport

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/phasorstreams/errors"
	"github.com/c360/phasorstreams/pkg/retry"
)

// writeTimeout bounds a write to one server client; a slow client is dropped.
const writeTimeout = 2 * time.Second

type serverClient struct {
	conn   net.Conn
	remote string
	mu     sync.Mutex
}

// TCPServer accepts clients and multicasts to all of them. Bytes received from a
// client, typically command frames, are delivered through the Data handler.
type TCPServer struct {
	*counters

	mu       sync.RWMutex
	listener *net.TCPListener
	clients  map[string]*serverClient
	running  atomic.Bool
	shutdown chan struct{}
	wg       sync.WaitGroup
}

var (
	_ Channel      = (*TCPServer)(nil)
	_ ClientSender = (*TCPServer)(nil)
)

// NewTCPServer creates a server listening on cfg.Interface:cfg.Port.
func NewTCPServer(cfg Config, deps Deps) *TCPServer {
	return &TCPServer{
		counters: newCounters("tcp-server", cfg, deps),
		clients:  make(map[string]*serverClient),
	}
}

// Start binds the listener with retry and begins accepting clients.
func (s *TCPServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return nil
	}

	addr, err := net.ResolveTCPAddr("tcp", s.cfg.ListenAddress())
	if err != nil {
		return errors.WrapInvalid(err, "tcp-server", "Start", "resolve listen address")
	}
	listener, err := retry.DoWithResult(ctx, s.retryCfg, func() (*net.TCPListener, error) {
		return net.ListenTCP("tcp", addr)
	})
	if err != nil {
		return errors.WrapTransient(err, "tcp-server", "Start", "listen")
	}

	s.attachMetrics()
	s.listener = listener
	s.shutdown = make(chan struct{})
	s.running.Store(true)
	s.logger.Info("TCP server listening", "address", listener.Addr().String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(ctx, listener, s.shutdown)
	}()
	return nil
}

func (s *TCPServer) acceptLoop(ctx context.Context, listener *net.TCPListener, shutdown <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-shutdown:
			return
		default:
		}

		_ = listener.SetDeadline(time.Now().Add(readTimeout))
		conn, err := listener.AcceptTCP()
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
			s.fault(errors.WrapTransient(err, "tcp-server", "acceptLoop", "accept"))
			continue
		}

		client := &serverClient{conn: conn, remote: conn.RemoteAddr().String()}
		s.mu.Lock()
		s.clients[client.remote] = client
		count := len(s.clients)
		s.mu.Unlock()
		s.setClients(count)
		s.connected(client.remote)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.clientLoop(ctx, client, shutdown)
		}()
	}
}

func (s *TCPServer) clientLoop(ctx context.Context, client *serverClient, shutdown <-chan struct{}) {
	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return
		case <-shutdown:
			return
		default:
		}

		_ = client.conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, err := client.conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			s.received(client.remote, data)
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
		default:
		}
		s.drop(client, err)
		return
	}
}

// drop removes a client after a read or write failure.
func (s *TCPServer) drop(client *serverClient, err error) {
	s.mu.Lock()
	current, ok := s.clients[client.remote]
	if ok && current == client {
		delete(s.clients, client.remote)
	}
	count := len(s.clients)
	s.mu.Unlock()

	if !ok || current != client {
		return
	}
	_ = client.conn.Close()
	s.setClients(count)
	s.disconnected(client.remote, err)
}

// Stop closes the listener and every client, then waits for the loops.
func (s *TCPServer) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}

	s.mu.Lock()
	close(s.shutdown)
	_ = s.listener.Close()
	clients := s.clients
	s.clients = make(map[string]*serverClient)
	s.mu.Unlock()

	for _, c := range clients {
		_ = c.conn.Close()
	}
	s.wg.Wait()

	s.mu.Lock()
	s.listener = nil
	s.mu.Unlock()

	s.setClients(0)
	s.releaseMetrics()
	for remote := range clients {
		s.disconnected(remote, nil)
	}
	return nil
}

// Send multicasts to every client.
func (s *TCPServer) Send(data []byte) error {
	return s.Multicast(data)
}

// Multicast writes data to every client. A client whose write fails is dropped;
// the error is returned only when no client received the data.
func (s *TCPServer) Multicast(data []byte) error {
	if !s.running.Load() {
		return notStarted("tcp-server", "Multicast")
	}

	s.mu.RLock()
	clients := make([]*serverClient, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	var errs []error
	delivered := 0
	for _, c := range clients {
		c.mu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		n, err := c.conn.Write(data)
		c.mu.Unlock()
		if err != nil {
			werr := errors.WrapTransient(err, "tcp-server", "Multicast", "write to "+c.remote)
			s.fault(werr)
			s.drop(c, werr)
			errs = append(errs, werr)
			continue
		}
		s.sent(n)
		delivered++
	}
	if delivered == 0 && len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// SendTo writes data to one client, typically a reply to a command frame.
func (s *TCPServer) SendTo(remote string, data []byte) error {
	if !s.running.Load() {
		return notStarted("tcp-server", "SendTo")
	}
	s.mu.RLock()
	c, ok := s.clients[remote]
	s.mu.RUnlock()
	if !ok {
		return errors.WrapTransient(errors.ErrNoConnection, "tcp-server", "SendTo", "lookup client "+remote)
	}

	c.mu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	n, err := c.conn.Write(data)
	c.mu.Unlock()
	if err != nil {
		werr := errors.WrapTransient(err, "tcp-server", "SendTo", "write to "+remote)
		s.fault(werr)
		s.drop(c, werr)
		return werr
	}
	s.sent(n)
	return nil
}

// ClientCount is the number of connected clients.
func (s *TCPServer) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Addr is the listening address, or nil before Start.
func (s *TCPServer) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stats returns the channel counters.
func (s *TCPServer) Stats() Stats {
	return s.stats(s.running.Load(), s.ClientCount())
}

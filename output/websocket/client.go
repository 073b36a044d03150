package websocket

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/c360/phasorstreams/measurement"
	"github.com/c360/phasorstreams/pkg/buffer"
	"github.com/c360/phasorstreams/stream"
)

// filter selects which batches and measurements a client receives. Empty
// sets accept everything.
type filter struct {
	sources map[string]struct{}
	keys    map[uuid.UUID]struct{}
}

// filterPayload is the payload of a "filter" control message.
type filterPayload struct {
	Sources []string `json:"sources,omitempty"`
	Keys    []string `json:"keys,omitempty"`
}

func newFilter(sources, keys []string) (filter, error) {
	f := filter{}
	for _, s := range sources {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				if f.sources == nil {
					f.sources = make(map[string]struct{})
				}
				f.sources[strings.ToUpper(part)] = struct{}{}
			}
		}
	}
	for _, k := range keys {
		for _, part := range strings.Split(k, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			id, err := uuid.Parse(part)
			if err != nil {
				return filter{}, fmt.Errorf("invalid measurement key %q: %w", part, err)
			}
			if f.keys == nil {
				f.keys = make(map[uuid.UUID]struct{})
			}
			f.keys[id] = struct{}{}
		}
	}
	return f, nil
}

func parseFilter(q url.Values) (filter, error) {
	return newFilter(q["source"], q["key"])
}

func decodeFilter(payload json.RawMessage) (filter, error) {
	var p filterPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			return filter{}, err
		}
	}
	return newFilter(p.Sources, p.Keys)
}

// apply returns the part of b the filter accepts and whether anything is left.
func (f filter) apply(b stream.Batch) (stream.Batch, bool) {
	if len(f.sources) > 0 {
		if _, ok := f.sources[strings.ToUpper(b.Source)]; !ok {
			return stream.Batch{}, false
		}
	}
	if len(f.keys) == 0 {
		return b, true
	}
	selected := make([]measurement.Measurement, 0, len(f.keys))
	for _, m := range b.Measurements {
		if _, ok := f.keys[m.Key]; ok {
			selected = append(selected, m)
		}
	}
	if len(selected) == 0 {
		return stream.Batch{}, false
	}
	out := b
	out.Measurements = selected
	return out, true
}

// String is a canonical form, equal for equal filters.
func (f filter) String() string {
	if len(f.sources) == 0 && len(f.keys) == 0 {
		return "all"
	}
	sources := make([]string, 0, len(f.sources))
	for s := range f.sources {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	keys := make([]string, 0, len(f.keys))
	for k := range f.keys {
		keys = append(keys, k.String())
	}
	sort.Strings(keys)
	return "sources=" + strings.Join(sources, ",") + ";keys=" + strings.Join(keys, ",")
}

// client is one connected monitor.
type client struct {
	conn   *websocket.Conn
	remote string
	queue  *buffer.Buffer[[]byte]
	done   chan struct{}

	writeMu   sync.Mutex
	filterMu  sync.RWMutex
	current   filter
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, remote string, f filter, queueSize int, onDrop func([]byte)) *client {
	return &client{
		conn:   conn,
		remote: remote,
		queue: buffer.New[[]byte](queueSize,
			buffer.WithOverflowPolicy[[]byte](buffer.DropOldest),
			buffer.WithDropCallback(onDrop)),
		done:    make(chan struct{}),
		current: f,
	}
}

func (c *client) filter() filter {
	c.filterMu.RLock()
	defer c.filterMu.RUnlock()
	return c.current
}

func (c *client) setFilter(f filter) {
	c.filterMu.Lock()
	c.current = f
	c.filterMu.Unlock()
}

// enqueue never blocks; a slow client loses its oldest messages.
func (c *client) enqueue(msg []byte) {
	_ = c.queue.Write(msg)
}

func (c *client) write(messageType int, data []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.queue.Close()
		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
}

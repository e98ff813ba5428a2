package present

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("present: broadcaster closed")

const (
	// writeWait bounds a single message write to one client.
	writeWait = 5 * time.Second

	// maxHistory bounds the lines replayed to late joiners.
	maxHistory = 1024

	// clientQueue is how many lines a client may fall behind live output
	// before it is dropped.
	clientQueue = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// client is one connection and the queue its writer goroutine drains.
type client struct {
	conn *websocket.Conn
	send chan string
}

// Broadcaster pushes written lines to connected WebSocket clients.
// Each client has its own writer goroutine, so a slow client never holds
// up Write; one whose queue fills is dropped. It is safe for concurrent
// use.
type Broadcaster struct {
	mu      sync.Mutex
	clients map[*client]bool
	history []string
	partial []byte
	closed  bool
	log     *slog.Logger
	writers sync.WaitGroup
}

// NewBroadcaster returns an empty Broadcaster. A nil logger discards logs.
func NewBroadcaster(l *slog.Logger) *Broadcaster {
	if l == nil {
		l = slog.New(discard{})
	}
	return &Broadcaster{
		clients: make(map[*client]bool),
		log:     l,
	}
}

// HandleWS is the WebSocket upgrade handler. The new client first receives
// every line still in the history.
func (b *Broadcaster) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn("present: websocket upgrade failed", "err", err)
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		closeConn(conn)
		return
	}
	c := &client{conn: conn, send: make(chan string, maxHistory+clientQueue)}
	for _, line := range b.history {
		c.send <- line
	}
	b.clients[c] = true
	n := len(b.clients)
	b.writers.Add(1)
	b.mu.Unlock()

	b.log.Debug("present: client connected", "remote", r.RemoteAddr, "clients", n)
	go b.writeLoop(c)

	// Read loop (to detect disconnect)
	go func() {
		defer func() {
			b.remove(c)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// writeLoop sends queued lines until the queue is closed, then says
// goodbye. The first failed write drops the client.
func (b *Broadcaster) writeLoop(c *client) {
	defer b.writers.Done()
	for line := range c.send {
		if err := send(c.conn, line); err != nil {
			b.log.Debug("present: dropping client", "err", err)
			b.remove(c)
			c.conn.Close()
			return
		}
	}
	closeConn(c.conn)
}

// remove forgets c and closes its queue. It is safe to call more than once.
func (b *Broadcaster) remove(c *client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(c)
}

func (b *Broadcaster) removeLocked(c *client) {
	if b.clients[c] {
		delete(b.clients, c)
		close(c.send)
	}
}

// Write broadcasts every complete line in p. A trailing partial line is
// held until its newline arrives.
func (b *Broadcaster) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrClosed
	}

	b.partial = append(b.partial, p...)
	for {
		i := bytes.IndexByte(b.partial, '\n')
		if i < 0 {
			break
		}
		line := string(bytes.TrimSuffix(b.partial[:i], []byte("\r")))
		b.partial = b.partial[i+1:]
		b.broadcastLocked(line)
	}
	return len(p), nil
}

// broadcastLocked records line and queues it for every client without
// blocking.
func (b *Broadcaster) broadcastLocked(line string) {
	b.history = append(b.history, line)
	if len(b.history) > maxHistory {
		b.history = b.history[len(b.history)-maxHistory:]
	}
	for c := range b.clients {
		select {
		case c.send <- line:
		default:
			b.log.Debug("present: dropping slow client", "queued", len(c.send))
			b.removeLocked(c)
			c.conn.Close()
		}
	}
}

// Clients returns the number of connected clients.
func (b *Broadcaster) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Close flushes a pending partial line, says goodbye to every client and
// rejects further writes. It returns once every client has been sent its
// queued lines or dropped.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	if len(b.partial) > 0 {
		b.broadcastLocked(string(b.partial))
		b.partial = nil
	}
	b.closed = true
	for c := range b.clients {
		b.removeLocked(c)
	}
	b.mu.Unlock()

	b.writers.Wait()
	return nil
}

func send(conn *websocket.Conn, line string) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, []byte(line))
}

func closeConn(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	conn.Close()
}

// discard is a slog.Handler that drops every record.
type discard struct{}

func (discard) Enabled(context.Context, slog.Level) bool  { return false }
func (discard) Handle(context.Context, slog.Record) error { return nil }
func (d discard) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discard) WithGroup(string) slog.Handler           { return d }

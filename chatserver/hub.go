package chatserver

import (
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/portal-chat/chatwire"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 20 * time.Second
	maxTextLen     = 10000
	maxFrameSize   = 1 << 16
	sendBufferSize = 256
)

// sanitizeText drops control characters other than tab and newline and caps
// the length in runes.
func sanitizeText(s string, maxLen int) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	n := 0
	for _, r := range s {
		if unicode.IsControl(r) && r != '\t' && r != '\n' {
			continue
		}
		if r == unicode.ReplacementChar {
			continue
		}
		if n == maxLen {
			break
		}
		b.WriteRune(r)
		n++
	}
	return strings.TrimSpace(b.String())
}

// hangUp writes a close frame and drops the connection. Only for connections
// that have no write loop.
func hangUp(conn *websocket.Conn, code int, reason string) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	_ = conn.Close()
}

// client is one authenticated websocket connection. Its write loop is the
// only writer on conn.
type client struct {
	id       string
	username string
	conn     *websocket.Conn
	send     chan []byte

	quit       chan struct{}
	quitOnce   sync.Once
	quitCode   int
	quitReason string
}

func newClient(username string, conn *websocket.Conn) *client {
	return &client{
		id:       uuid.NewString(),
		username: username,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		quit:     make(chan struct{}),
	}
}

// push queues frame without blocking. It reports false when the queue is full.
func (c *client) push(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// stop makes the write loop send a close frame with code and hang up.
func (c *client) stop(code int, reason string) {
	c.quitOnce.Do(func() {
		c.quitCode = code
		c.quitReason = reason
		close(c.quit)
	})
}

func (c *client) write(kind int, data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(kind, data)
}

// writeLoop sends the history backlog, then queued frames and pings, until
// stop is called or a write fails. It closes conn on return.
func (c *client) writeLoop(backlog [][]byte) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for _, frame := range backlog {
		if err := c.write(websocket.TextMessage, frame); err != nil {
			log.Debug().Err(err).Str("conn", c.id).Msg("[chat] replay history")
			return
		}
	}
	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				log.Debug().Err(err).Str("conn", c.id).Msg("[chat] write frame")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.quit:
			_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(c.quitCode, c.quitReason))
			return
		}
	}
}

// Hub fans chat messages out to every connected client and keeps the history.
type Hub struct {
	mu      sync.Mutex
	clients map[string]*client
	// pending holds upgraded connections that have not identified yet.
	pending map[*websocket.Conn]struct{}
	closing atomic.Bool

	store   *Store
	history int
	wg      sync.WaitGroup
}

// NewHub builds a hub. history is how many stored messages a joining client
// is sent before live traffic: 0 sends the whole history and a negative value
// sends none. store may be nil for an in-memory hub.
func NewHub(store *Store, history int) *Hub {
	return &Hub{
		clients: map[string]*client{},
		pending: map[*websocket.Conn]struct{}{},
		store:   store,
		history: history,
	}
}

// Len reports the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// admit tracks a freshly upgraded connection until it is served. It reports
// false once CloseAll has run.
func (h *Hub) admit(conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing.Load() {
		return false
	}
	h.pending[conn] = struct{}{}
	h.wg.Add(1)
	return true
}

// release ends the tracking started by admit.
func (h *Hub) release(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.pending, conn)
	h.mu.Unlock()
	h.wg.Done()
}

// extendRead pushes the read deadline out, except during shutdown where
// CloseAll owns it.
func (h *Hub) extendRead(conn *websocket.Conn) error {
	if h.closing.Load() {
		return nil
	}
	return conn.SetReadDeadline(time.Now().Add(pongWait))
}

// join registers c and returns the history backlog for it. Broadcasts are
// serialized by mu, so the backlog and the live frames neither overlap nor
// leave a gap.
func (h *Hub) join(c *client) ([][]byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing.Load() {
		return nil, false
	}
	delete(h.pending, c.conn)
	h.clients[c.id] = c

	if h.store == nil || h.history < 0 {
		return nil, true
	}
	msgs, err := h.store.LoadRecent(h.history)
	if err != nil {
		log.Warn().Err(err).Msg("[chat] load history failed")
	}
	backlog := make([][]byte, 0, len(msgs))
	for _, m := range msgs {
		frame, err := chatwire.EncodeChat(m)
		if err != nil {
			continue
		}
		backlog = append(backlog, frame)
	}
	return backlog, true
}

func (h *Hub) leave(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
}

// Broadcast persists m and queues it for every connected client. A client
// whose queue is full is disconnected instead of holding up the room.
func (h *Hub) Broadcast(m chatwire.ChatMessage) {
	frame, err := chatwire.EncodeChat(m)
	if err != nil {
		log.Error().Err(err).Msg("[chat] encode broadcast")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.store != nil {
		if err := h.store.AppendMessage(m); err != nil {
			log.Warn().Err(err).Msg("[chat] persist message")
		}
	}
	for id, c := range h.clients {
		if !c.push(frame) {
			log.Warn().Str("conn", c.id).Str("user", c.username).Msg("[chat] drop slow client")
			delete(h.clients, id)
			c.stop(websocket.CloseTryAgainLater, "too slow")
		}
	}
}

// serve runs an authenticated connection until it ends. Every inbound frame
// is stamped with the bound username before it is broadcast. The caller holds
// the admit tracking for conn.
func (h *Hub) serve(conn *websocket.Conn, username string) {
	conn.SetReadLimit(maxFrameSize)
	conn.SetPongHandler(func(string) error { return h.extendRead(conn) })
	_ = h.extendRead(conn)

	c := newClient(username, conn)
	backlog, ok := h.join(c)
	if !ok {
		hangUp(conn, websocket.CloseGoingAway, "server shutdown")
		return
	}
	log.Info().Str("conn", c.id).Str("user", username).Msg("[chat] client joined")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop(backlog)
	}()
	defer func() {
		h.leave(c)
		c.stop(websocket.CloseNormalClosure, "")
		<-writerDone
		log.Info().Str("conn", c.id).Str("user", username).Msg("[chat] client left")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Str("conn", c.id).Msg("[chat] read frame")
			}
			return
		}
		_ = h.extendRead(conn)

		var in chatwire.ChatMessage
		if err := json.Unmarshal(data, &in); err != nil {
			log.Debug().Err(err).Str("conn", c.id).Msg("[chat] ignore malformed frame")
			continue
		}
		text := sanitizeText(in.Text, maxTextLen)
		if text == "" {
			continue
		}
		h.Broadcast(chatwire.ChatMessage{Username: username, Text: text})
	}
}

// CloseAll refuses new connections, sends a going-away close frame to every
// client and cuts off connections still identifying. Use Wait to block until
// all of them are gone.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	h.closing.Store(true)
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	pending := make([]*websocket.Conn, 0, len(h.pending))
	for conn := range h.pending {
		pending = append(pending, conn)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.stop(websocket.CloseGoingAway, "server shutdown")
		_ = c.conn.SetReadDeadline(time.Now().Add(writeWait))
	}
	for _, conn := range pending {
		_ = conn.SetReadDeadline(time.Now())
	}
}

// Wait blocks until every admitted connection has been released.
func (h *Hub) Wait() {
	h.wg.Wait()
}

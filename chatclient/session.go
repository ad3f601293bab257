package chatclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/portal-chat/chatwire"
)

var ErrSessionNotOpen = errors.New("session is not open")

// State is the lifecycle of a Session. Closed and Errored are terminal.
type State int32

const (
	StateUnconnected State = iota
	StateConnecting
	StateOpen
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateErrored
}

// EventKind enumerates what a Session reports on its event channel.
type EventKind int

const (
	EventOpen EventKind = iota + 1
	EventMessage
	EventMalformed
	EventError
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventMalformed:
		return "malformed"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one entry on the session's event channel. Message is set for
// EventMessage, Raw and Err for EventMalformed, Err for EventError and
// EventClosed.
type Event struct {
	Kind    EventKind
	Message chatwire.ChatMessage
	Raw     []byte
	Err     error
}

const (
	defaultEventBuffer = 64
	closeWait          = 5 * time.Second
)

type dialConfig struct {
	dialer *websocket.Dialer
	header http.Header
	buffer int
}

// DialOption customizes Dial.
type DialOption func(*dialConfig)

func WithDialer(d *websocket.Dialer) DialOption {
	return func(c *dialConfig) { c.dialer = d }
}

func WithHeader(h http.Header) DialOption {
	return func(c *dialConfig) { c.header = h }
}

// WithEventBuffer sets the capacity of the event channel, at least 1. The read
// loop blocks when it is full, so frames are never dropped or reordered.
func WithEventBuffer(n int) DialOption {
	return func(c *dialConfig) {
		if n > 0 {
			c.buffer = n
		}
	}
}

// Session is the one live websocket connection of a client together with the
// identity bound to it. It is created by Dial and never reconnects.
type Session struct {
	conn     *websocket.Conn
	endpoint string
	username string
	state    atomic.Int32
	events   chan Event

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// Dial opens the connection, reports EventOpen and sends the identification
// frame built from ident. Inbound frames are read on a dedicated goroutine
// and delivered on Events in arrival order.
func Dial(ctx context.Context, endpoint string, ident chatwire.Credentials, opts ...DialOption) (*Session, error) {
	cfg := dialConfig{dialer: websocket.DefaultDialer, buffer: defaultEventBuffer}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Session{
		endpoint: endpoint,
		username: ident.Username,
		events:   make(chan Event, cfg.buffer),
		done:     make(chan struct{}),
	}
	s.state.Store(int32(StateConnecting))

	conn, resp, err := cfg.dialer.DialContext(ctx, endpoint, cfg.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		s.state.Store(int32(StateErrored))
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	s.conn = conn
	s.state.Store(int32(StateOpen))
	log.Info().Str("endpoint", endpoint).Msg("[client] websocket open")

	frame, err := chatwire.Identify(ident)
	if err != nil {
		_ = conn.Close()
		s.state.Store(int32(StateErrored))
		return nil, fmt.Errorf("encode identification: %w", err)
	}
	s.events <- Event{Kind: EventOpen}
	if err := s.write(frame); err != nil {
		_ = conn.Close()
		s.state.Store(int32(StateErrored))
		return nil, fmt.Errorf("send identification: %w", err)
	}

	go s.readLoop()
	return s, nil
}

// Events returns the channel of session events. It is closed after the
// terminal EventClosed or EventError.
func (s *Session) Events() <-chan Event {
	return s.events
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// Username is the identity bound at session start.
func (s *Session) Username() string {
	return s.username
}

func (s *Session) Endpoint() string {
	return s.endpoint
}

// Send writes one chat frame. It fails unless the session is open.
func (s *Session) Send(m chatwire.ChatMessage) error {
	if s.State() != StateOpen {
		return ErrSessionNotOpen
	}
	frame, err := chatwire.EncodeChat(m)
	if err != nil {
		return fmt.Errorf("encode chat frame: %w", err)
	}
	if err := s.write(frame); err != nil {
		return fmt.Errorf("send chat frame: %w", err)
	}
	return nil
}

// Close sends a normal close frame and releases the connection. It is only
// meant for process shutdown; the session does not reopen afterwards.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		_ = s.conn.SetWriteDeadline(time.Now().Add(closeWait))
		_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

func (s *Session) write(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

func (s *Session) closing() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Session) readLoop() {
	defer close(s.events)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.finish(err)
			return
		}
		msg, err := chatwire.DecodeChat(data)
		if err != nil {
			if !s.emit(Event{Kind: EventMalformed, Raw: data, Err: err}) {
				return
			}
			continue
		}
		if !s.emit(Event{Kind: EventMessage, Message: msg}) {
			return
		}
	}
}

func (s *Session) finish(err error) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) || s.closing() {
		s.state.Store(int32(StateClosed))
		log.Info().Err(err).Msg("[client] websocket closed")
		s.emit(Event{Kind: EventClosed, Err: err})
		return
	}
	s.state.Store(int32(StateErrored))
	log.Warn().Err(err).Msg("[client] websocket error")
	s.emit(Event{Kind: EventError, Err: err})
}

// emit blocks until the consumer takes ev. After Close it gives up instead of
// blocking, returning false when ev was dropped.
func (s *Session) emit(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		select {
		case s.events <- ev:
			return true
		default:
			return false
		}
	}
}

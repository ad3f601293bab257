package chatclient

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/portal-chat/chatwire"
)

const (
	RegisteredNotice  = "Registration successful!"
	EmptyMessageAlert = "Please enter a message"
)

var ErrNoSession = errors.New("no chat session")

// View is the surface the widget drives. Implementations render however they
// like; the widget only decides what changes and when.
type View interface {
	// Notify shows an informational notice.
	Notify(msg string)
	// Alert shows an error the user has to acknowledge.
	Alert(msg string)
	HideCredentials()
	ShowChat()
	ClearInput()
	AppendLine(line string)
	ScrollToBottom()
}

// FormKind says which form was submitted.
type FormKind int

const (
	FormRegister FormKind = iota + 1
	FormLogin
	FormChat
)

func (k FormKind) String() string {
	switch k {
	case FormRegister:
		return "register"
	case FormLogin:
		return "login"
	case FormChat:
		return "chat"
	default:
		return fmt.Sprintf("form(%d)", int(k))
	}
}

// Form carries the field values read at submission time.
type Form struct {
	Kind     FormKind
	Username string
	Password string
	Text     string
}

// DialFunc opens the websocket session after a successful login.
type DialFunc func(ctx context.Context, endpoint string, ident chatwire.Credentials) (*Session, error)

// Widget handles form submissions and renders session events on a View.
// It owns the single session: the handle is set once, after login, and every
// later submission goes to it.
type Widget struct {
	auth     *AuthClient
	endpoint string
	view     View
	dial     DialFunc

	mu      sync.Mutex
	session *Session
	dialed  bool
	dialErr error
	// opened is closed once the dial after login has finished, either way.
	opened chan struct{}
}

// NewWidget wires a widget. dial may be nil, in which case Dial is used with
// default options.
func NewWidget(auth *AuthClient, endpoint string, view View, dial DialFunc) *Widget {
	if dial == nil {
		dial = func(ctx context.Context, endpoint string, ident chatwire.Credentials) (*Session, error) {
			return Dial(ctx, endpoint, ident)
		}
	}
	return &Widget{
		auth:     auth,
		endpoint: endpoint,
		view:     view,
		dial:     dial,
		opened:   make(chan struct{}),
	}
}

// Session returns the live session, or nil before login.
func (w *Widget) Session() *Session {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.session
}

// State reports the session state: StateUnconnected before login,
// StateErrored for good when the dial after login failed.
func (w *Widget) State() State {
	w.mu.Lock()
	s, dialErr := w.session, w.dialErr
	w.mu.Unlock()
	switch {
	case s != nil:
		return s.State()
	case dialErr != nil:
		return StateErrored
	default:
		return StateUnconnected
	}
}

// Submit handles one form submission. Without a session the register or login
// path runs and exactly one HTTP call is made; with a session the text is
// sent as one chat frame and no HTTP call is made.
func (w *Widget) Submit(ctx context.Context, f Form) error {
	w.mu.Lock()
	s, dialed := w.session, w.dialed
	w.mu.Unlock()

	if s != nil {
		return w.submitChat(s, f.Text)
	}
	if dialed {
		w.view.Alert("Error: " + ErrNoSession.Error())
		return ErrNoSession
	}

	switch f.Kind {
	case FormRegister:
		return w.submitRegister(ctx, chatwire.Credentials{Username: f.Username, Password: f.Password})
	case FormLogin:
		return w.submitLogin(ctx, chatwire.Credentials{Username: f.Username, Password: f.Password})
	case FormChat:
		return ErrNoSession
	default:
		return fmt.Errorf("unknown form %s", f.Kind)
	}
}

func (w *Widget) submitRegister(ctx context.Context, c chatwire.Credentials) error {
	if err := c.Validate(); err != nil {
		w.view.Alert("Error: " + err.Error())
		return err
	}
	if err := w.auth.Register(ctx, c); err != nil {
		w.alertFailure(err)
		return err
	}
	w.view.Notify(RegisteredNotice)
	return nil
}

func (w *Widget) submitLogin(ctx context.Context, c chatwire.Credentials) error {
	if err := c.Validate(); err != nil {
		w.view.Alert("Error: " + err.Error())
		return err
	}
	if err := w.auth.Login(ctx, c); err != nil {
		w.alertFailure(err)
		return err
	}

	w.view.HideCredentials()
	w.view.ShowChat()

	w.mu.Lock()
	if w.dialed {
		w.mu.Unlock()
		return nil
	}
	w.dialed = true
	w.mu.Unlock()

	s, err := w.dial(ctx, w.endpoint, c)
	if err != nil {
		s = nil
	}
	w.mu.Lock()
	w.session, w.dialErr = s, err
	w.mu.Unlock()
	close(w.opened)
	if err != nil {
		log.Error().Err(err).Str("endpoint", w.endpoint).Msg("[client] open session")
		w.view.Alert("Error: " + err.Error())
		return err
	}
	return nil
}

func (w *Widget) submitChat(s *Session, text string) error {
	msg := chatwire.ChatMessage{Username: s.Username(), Text: text}
	if err := chatwire.ValidateChat(msg); err != nil {
		w.view.Alert(EmptyMessageAlert)
		return err
	}
	if err := s.Send(msg); err != nil {
		log.Warn().Err(err).Str("state", s.State().String()).Msg("[client] send chat frame")
		return err
	}
	w.view.ClearInput()
	return nil
}

func (w *Widget) alertFailure(err error) {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		w.view.Alert("Error: " + statusErr.Body)
		return
	}
	w.view.Alert("Error: " + err.Error())
}

// Run is the dispatch loop. It waits for the session to open, then renders
// every inbound message in arrival order until the session ends or ctx is done.
// If the dial after login failed, Run returns that error.
func (w *Widget) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.opened:
	}

	w.mu.Lock()
	s, dialErr := w.session, w.dialErr
	w.mu.Unlock()
	if s == nil {
		return dialErr
	}

	events := s.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			w.dispatch(ev)
		}
	}
}

func (w *Widget) dispatch(ev Event) {
	switch ev.Kind {
	case EventOpen:
		log.Debug().Msg("[client] session ready")
	case EventMessage:
		w.view.AppendLine(ev.Message.Line())
		w.view.ScrollToBottom()
	case EventMalformed:
		log.Warn().Err(ev.Err).Str("frame", string(ev.Raw)).Msg("[client] dropped inbound frame")
	case EventError:
		log.Error().Err(ev.Err).Msg("[client] session error")
	case EventClosed:
		log.Info().Err(ev.Err).Msg("[client] session closed")
	}
}

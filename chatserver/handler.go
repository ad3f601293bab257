package chatserver

import (
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/portal-chat/chatwire"
)

// InvalidLoginFrame is written on the websocket when identification fails,
// right before the connection is closed.
const InvalidLoginFrame = "Invalid username or password"

//go:embed static
var staticFS embed.FS

// NewHandler builds the chat router: account endpoints, the websocket relay,
// a health probe and the embedded browser client.
func NewHandler(accounts *Accounts, hub *Hub) http.Handler {
	r := chi.NewRouter()
	r.Post("/register", func(w http.ResponseWriter, r *http.Request) { handleRegister(w, r, accounts) })
	r.Post("/login", func(w http.ResponseWriter, r *http.Request) { handleLogin(w, r, accounts) })
	r.Get("/websocket", func(w http.ResponseWriter, r *http.Request) { handleWS(w, r, accounts, hub) })
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	r.Handle("/*", http.FileServer(http.FS(sub)))
	return r
}

func decodeCredentials(r *http.Request) (chatwire.Credentials, error) {
	var c chatwire.Credentials
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		return chatwire.Credentials{}, err
	}
	return c, nil
}

func handleRegister(w http.ResponseWriter, r *http.Request, accounts *Accounts) {
	c, err := decodeCredentials(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	switch err := accounts.Register(c); {
	case err == nil:
		log.Info().Str("user", c.Username).Msg("[chat] registered")
		w.WriteHeader(http.StatusCreated)
	case errors.Is(err, ErrUserExists):
		http.Error(w, "Username already exists", http.StatusConflict)
	case errors.Is(err, chatwire.ErrEmptyUsername), errors.Is(err, chatwire.ErrEmptyPassword):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		log.Error().Err(err).Str("user", c.Username).Msg("[chat] register failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func handleLogin(w http.ResponseWriter, r *http.Request, accounts *Accounts) {
	c, err := decodeCredentials(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	switch err := accounts.Authenticate(c); {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, ErrUserNotFound):
		http.Error(w, "User not found", http.StatusUnauthorized)
	case errors.Is(err, ErrInvalidPassword):
		http.Error(w, "Invalid password", http.StatusUnauthorized)
	default:
		log.Error().Err(err).Str("user", c.Username).Msg("[chat] login failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func handleWS(w http.ResponseWriter, r *http.Request, accounts *Accounts, hub *Hub) {
	upgrader := websocket.Upgrader{
		CheckOrigin:      func(r *http.Request) bool { return true },
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("[chat] websocket upgrade")
		return
	}

	// The first frame identifies the connection. The deadline is set before
	// admit so CloseAll can cut the read short.
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	if !hub.admit(conn) {
		hangUp(conn, websocket.CloseGoingAway, "server shutdown")
		return
	}
	defer hub.release(conn)

	_, data, err := conn.ReadMessage()
	if err != nil {
		log.Debug().Err(err).Msg("[chat] read identification")
		_ = conn.Close()
		return
	}
	c, err := chatwire.DecodeCredentials(data)
	if err == nil {
		err = accounts.Authenticate(c)
	}
	if err != nil {
		log.Info().Err(err).Str("user", c.Username).Msg("[chat] websocket identification rejected")
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(InvalidLoginFrame))
		hangUp(conn, websocket.ClosePolicyViolation, "unauthorized")
		return
	}

	hub.serve(conn, c.Username)
}

package chatserver

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/portal-chat/chatwire"
)

func (h *Hub) pendingLen() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}

func TestCloseAllCutsOffLateIdentification(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.accounts.Register(chatwire.Credentials{Username: "alice", Password: "pw"}))
	require.NoError(t, ts.accounts.Register(chatwire.Credentials{Username: "bob", Password: "pw"}))

	alice := ts.dialAs(t, "alice", "pw")

	late, _, err := websocket.DefaultDialer.Dial(ts.wsURL(), nil)
	require.NoError(t, err)
	defer late.Close()
	require.Eventually(t, func() bool { return ts.hub.pendingLen() == 1 }, waitFor, 10*time.Millisecond)

	ts.hub.CloseAll()
	waited := make(chan struct{})
	go func() {
		ts.hub.Wait()
		close(waited)
	}()

	frame, err := chatwire.Identify(chatwire.Credentials{Username: "bob", Password: "pw"})
	require.NoError(t, err)
	// the server may already have hung up
	_ = late.WriteMessage(websocket.TextMessage, frame)

	select {
	case <-waited:
	case <-time.After(waitFor):
		t.Fatalf("Wait still blocked after CloseAll; %d clients connected", ts.hub.Len())
	}
	assert.Zero(t, ts.hub.Len())
	assert.Zero(t, ts.hub.pendingLen())

	require.NoError(t, alice.SetReadDeadline(time.Now().Add(waitFor)))
	_, _, err = alice.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestClosedHubRefusesNewConnections(t *testing.T) {
	ts := newTestServer(t)
	ts.hub.CloseAll()

	conn, _, err := websocket.DefaultDialer.Dial(ts.wsURL(), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	assert.Zero(t, ts.hub.Len())
}

func TestBroadcastDropsSlowClient(t *testing.T) {
	h := NewHub(nil, 0)
	fast := newClient("fast", nil)
	slow := newClient("slow", nil)
	slow.send = make(chan []byte, 1)
	h.clients[fast.id] = fast
	h.clients[slow.id] = slow

	h.Broadcast(chatwire.ChatMessage{Username: "carol", Text: "one"})
	h.Broadcast(chatwire.ChatMessage{Username: "carol", Text: "two"})

	assert.Equal(t, 1, h.Len())
	select {
	case <-slow.quit:
		assert.Equal(t, websocket.CloseTryAgainLater, slow.quitCode)
	default:
		t.Fatal("slow client was not stopped")
	}

	require.Len(t, fast.send, 2)
	for _, want := range []string{"one", "two"} {
		m, err := chatwire.DecodeChat(<-fast.send)
		require.NoError(t, err)
		assert.Equal(t, want, m.Text)
	}
}

func TestJoinBacklogHonorsHistorySetting(t *testing.T) {
	store := openTestStore(t)
	for _, text := range []string{"a", "b", "c"} {
		require.NoError(t, store.AppendMessage(chatwire.ChatMessage{Username: "u", Text: text}))
	}

	for _, tc := range []struct {
		history int
		want    int
	}{
		{history: 0, want: 3},
		{history: 2, want: 2},
		{history: -1, want: 0},
	} {
		backlog, ok := NewHub(store, tc.history).join(newClient("u", nil))
		require.True(t, ok)
		assert.Len(t, backlog, tc.want, "history=%d", tc.history)
	}
}

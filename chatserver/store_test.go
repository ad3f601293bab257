package chatserver

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/portal-chat/chatwire"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreUsers(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetUser("alice")
	require.ErrorIs(t, err, ErrUserNotFound)

	require.NoError(t, s.CreateUser(UserRecord{Username: "alice", Password: "hash"}))
	require.ErrorIs(t, s.CreateUser(UserRecord{Username: "alice", Password: "other"}), ErrUserExists)

	u, err := s.GetUser("alice")
	require.NoError(t, err)
	assert.Equal(t, UserRecord{Username: "alice", Password: "hash"}, u)
}

func TestStoreLoadRecent(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendMessage(chatwire.ChatMessage{Username: "u", Text: fmt.Sprint(i)}))
	}
	require.NoError(t, s.CreateUser(UserRecord{Username: "zed", Password: "hash"}))

	recent, err := s.LoadRecent(3)
	require.NoError(t, err)
	assert.Equal(t, []chatwire.ChatMessage{
		{Username: "u", Text: "2"},
		{Username: "u", Text: "3"},
		{Username: "u", Text: "4"},
	}, recent)

	all, err := s.LoadRecent(0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
	assert.Equal(t, "0", all[0].Text)
}

func TestStoreSequenceSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.AppendMessage(chatwire.ChatMessage{Username: "a", Text: "first"}))
	require.NoError(t, s.AppendMessage(chatwire.ChatMessage{Username: "a", Text: "second"}))
	require.NoError(t, s.Close())

	s, err = OpenStore(dir)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.AppendMessage(chatwire.ChatMessage{Username: "b", Text: "third"}))

	all, err := s.LoadRecent(0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"first", "second", "third"}, []string{all[0].Text, all[1].Text, all[2].Text})
}

func TestOpenStoreRequiresDir(t *testing.T) {
	_, err := OpenStore("")
	assert.Error(t, err)
}

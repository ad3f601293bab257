package chatserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/gosuda/portal-chat/chatwire"
)

func TestAccountsRegisterAndAuthenticate(t *testing.T) {
	store := openTestStore(t)
	accounts := NewAccounts(store, bcrypt.MinCost)

	require.NoError(t, accounts.Register(chatwire.Credentials{Username: "alice", Password: "secret"}))
	require.ErrorIs(t, accounts.Register(chatwire.Credentials{Username: "alice", Password: "again"}), ErrUserExists)

	u, err := store.GetUser("alice")
	require.NoError(t, err)
	assert.NotEqual(t, "secret", u.Password)

	assert.NoError(t, accounts.Authenticate(chatwire.Credentials{Username: "alice", Password: "secret"}))
	assert.ErrorIs(t, accounts.Authenticate(chatwire.Credentials{Username: "alice", Password: "wrong"}), ErrInvalidPassword)
	assert.ErrorIs(t, accounts.Authenticate(chatwire.Credentials{Username: "nobody", Password: "secret"}), ErrUserNotFound)
}

func TestAccountsRejectEmptyCredentials(t *testing.T) {
	accounts := NewAccounts(openTestStore(t), bcrypt.MinCost)
	assert.ErrorIs(t, accounts.Register(chatwire.Credentials{Password: "x"}), chatwire.ErrEmptyUsername)
	assert.ErrorIs(t, accounts.Register(chatwire.Credentials{Username: "x"}), chatwire.ErrEmptyPassword)
}

func TestNewAccountsClampsCost(t *testing.T) {
	assert.Equal(t, bcrypt.DefaultCost, NewAccounts(nil, 0).cost)
	assert.Equal(t, bcrypt.MinCost, NewAccounts(nil, bcrypt.MinCost).cost)
}

func TestSanitizeText(t *testing.T) {
	assert.Equal(t, "hi\tthere", sanitizeText("  hi\x00\tthere\x07 ", 100))
	assert.Equal(t, "abc", sanitizeText("abcdef", 3))
	assert.Equal(t, "", sanitizeText("\x01\x02", 10))
}

package chatserver

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/gosuda/portal-chat/chatwire"
)

var ErrInvalidPassword = errors.New("invalid password")

// Accounts registers users and checks their passwords against bcrypt hashes.
type Accounts struct {
	store *Store
	cost  int
}

func NewAccounts(store *Store, cost int) *Accounts {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Accounts{store: store, cost: cost}
}

func (a *Accounts) Register(c chatwire.Credentials) error {
	if err := c.Validate(); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(c.Password), a.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return a.store.CreateUser(UserRecord{Username: c.Username, Password: string(hash)})
}

// Authenticate returns ErrUserNotFound or ErrInvalidPassword when c does not
// match a stored account.
func (a *Accounts) Authenticate(c chatwire.Credentials) error {
	u, err := a.store.GetUser(c.Username)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(c.Password)); err != nil {
		return ErrInvalidPassword
	}
	return nil
}

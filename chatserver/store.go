package chatserver

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/pebble/v2"

	"github.com/gosuda/portal-chat/chatwire"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("username already exists")
)

var (
	userPrefix = []byte("u/")
	msgPrefix  = []byte("m/")
	// msgUpper is the exclusive upper bound of the message keyspace.
	msgUpper = []byte("m0")
)

// UserRecord is the stored account. Password holds the bcrypt hash.
type UserRecord struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type storedMessage struct {
	TS       time.Time `json:"ts"`
	Username string    `json:"username"`
	Text     string    `json:"text"`
}

// Store persists accounts and chat history in PebbleDB.
// Message keys are "m/" followed by an 8-byte big-endian sequence number.
type Store struct {
	db   *pebble.DB
	mu   sync.Mutex
	next uint64
}

func OpenStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("store directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	s := &Store{db: db}

	it, err := db.NewIter(&pebble.IterOptions{LowerBound: msgPrefix, UpperBound: msgUpper})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	defer func() { _ = it.Close() }()
	if it.Last() {
		if key := it.Key(); len(key) == len(msgPrefix)+8 {
			s.next = binary.BigEndian.Uint64(key[len(msgPrefix):]) + 1
		}
	}
	return s, nil
}

func userKey(name string) []byte {
	return append(append([]byte(nil), userPrefix...), name...)
}

func msgKey(seq uint64) []byte {
	key := make([]byte, len(msgPrefix)+8)
	copy(key, msgPrefix)
	binary.BigEndian.PutUint64(key[len(msgPrefix):], seq)
	return key
}

// CreateUser stores u unless the name is taken.
func (s *Store) CreateUser(u UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.getUser(u.Username); err == nil {
		return ErrUserExists
	} else if !errors.Is(err, ErrUserNotFound) {
		return err
	}
	val, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return s.db.Set(userKey(u.Username), val, pebble.Sync)
}

func (s *Store) GetUser(name string) (UserRecord, error) {
	return s.getUser(name)
}

func (s *Store) getUser(name string) (UserRecord, error) {
	val, closer, err := s.db.Get(userKey(name))
	if errors.Is(err, pebble.ErrNotFound) {
		return UserRecord{}, ErrUserNotFound
	}
	if err != nil {
		return UserRecord{}, err
	}
	defer func() { _ = closer.Close() }()
	var u UserRecord
	if err := json.Unmarshal(val, &u); err != nil {
		return UserRecord{}, fmt.Errorf("decode user %q: %w", name, err)
	}
	return u, nil
}

// AppendMessage adds m to the end of the history.
func (s *Store) AppendMessage(m chatwire.ChatMessage) error {
	val, err := json.Marshal(storedMessage{TS: time.Now().UTC(), Username: m.Username, Text: m.Text})
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Set(msgKey(s.next), val, pebble.Sync); err != nil {
		return err
	}
	s.next++
	return nil
}

// LoadRecent returns up to limit of the newest messages, oldest first.
// A limit <= 0 loads the whole history.
func (s *Store) LoadRecent(limit int) ([]chatwire.ChatMessage, error) {
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: msgPrefix, UpperBound: msgUpper})
	if err != nil {
		return nil, err
	}
	defer func() { _ = it.Close() }()

	out := make([]chatwire.ChatMessage, 0, 64)
	for valid := it.Last(); valid; valid = it.Prev() {
		if limit > 0 && len(out) >= limit {
			break
		}
		var m storedMessage
		if err := json.Unmarshal(it.Value(), &m); err != nil {
			continue
		}
		out = append(out, chatwire.ChatMessage{Username: m.Username, Text: m.Text})
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

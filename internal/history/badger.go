package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/christopherjohns/chatroom/internal/message"
	"github.com/dgraph-io/badger/v4"
)

// BadgerStore persists each room's history as one JSON array value in an
// embedded Badger database.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a Badger database at path.
func OpenBadger(path string) (*badger.DB, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("badger: open %s: %w", path, err)
	}
	return db, nil
}

// NewBadgerStore creates a BadgerStore on an open database. The caller owns
// the database and closes it.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// Load reads the room's list. A missing key yields an empty list.
func (s *BadgerStore) Load(_ context.Context, room string) ([]message.Message, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(Key(room)))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return []message.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("badger: read history: %w", err)
	}

	var msgs []message.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("badger: decode history: %w", err)
	}
	if msgs == nil {
		msgs = []message.Message{}
	}
	return msgs, nil
}

// Save overwrites the room's list with msgs.
func (s *BadgerStore) Save(_ context.Context, room string, msgs []message.Message) error {
	if msgs == nil {
		msgs = []message.Message{}
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("badger: marshal history: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(Key(room)), data)
	})
	if err != nil {
		return fmt.Errorf("badger: write history: %w", err)
	}
	return nil
}

package session

import (
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"
)

const sessionsBucket = "sessions"

// BoltStore keeps session storages in a bbolt file, one nested bucket per
// session id
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens or creates the session database at path
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(sessionsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Session returns the Storage for session id
func (b *BoltStore) Session(id string) Storage {
	return &boltSession{db: b.db, id: []byte(id)}
}

// Exists reports whether anything was ever stored for session id
func (b *BoltStore) Exists(id string) bool {
	var found bool
	b.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket([]byte(sessionsBucket)).Bucket([]byte(id)) != nil
		return nil
	})
	return found
}

// Delete drops everything stored for session id
func (b *BoltStore) Delete(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		err := tx.Bucket([]byte(sessionsBucket)).DeleteBucket([]byte(id))
		if err == bbolt.ErrBucketNotFound {
			return nil
		}
		return err
	})
}

// IDs lists every stored session id
func (b *BoltStore) IDs() ([]string, error) {
	var ids []string
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(sessionsBucket)).ForEach(func(k, v []byte) error {
			// nested buckets have a nil value
			if v == nil {
				ids = append(ids, string(k))
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return ids, nil
}

// Close closes the database
func (b *BoltStore) Close() error {
	return b.db.Close()
}

type boltSession struct {
	db *bbolt.DB
	id []byte
}

func (s *boltSession) GetItem(key string) (string, bool) {
	var (
		value string
		found bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sessionsBucket)).Bucket(s.id)
		if bucket == nil {
			return nil
		}
		if data := bucket.Get([]byte(key)); data != nil {
			value, found = string(data), true
		}
		return nil
	})
	if err != nil {
		slog.Error("Error reading session item", "session", string(s.id), "key", key, "error", err)
		return "", false
	}
	return value, found
}

func (s *boltSession) SetItem(key, value string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.Bucket([]byte(sessionsBucket)).CreateBucketIfNotExists(s.id)
		if err != nil {
			return fmt.Errorf("creating session bucket: %w", err)
		}
		return bucket.Put([]byte(key), []byte(value))
	})
}

// Package persistence keeps a durable local replica of room documents in a
// bbolt file so that a room opens with its last known state, even offline.
package persistence

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// DefaultCompactThreshold is the number of stored updates after which a
// room's log is folded into a single state update.
const DefaultCompactThreshold = 500

var roomsBucket = []byte("rooms")

// Store is a bbolt database holding one update log per room key.
type Store struct {
	db               *bolt.DB
	compactThreshold int
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(roomsBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create rooms bucket: %w", err)
	}
	return &Store{db: db, compactThreshold: DefaultCompactThreshold}, nil
}

// SetCompactThreshold changes when logs are compacted. Values below 2
// disable compaction.
func (s *Store) SetCompactThreshold(n int) {
	s.compactThreshold = n
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Append adds one encoded update to the log of key and returns the new log
// length.
func (s *Store) Append(key string, update []byte) (int, error) {
	var n int
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(roomsBucket).CreateBucketIfNotExists([]byte(key))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		if err := b.Put(itob(seq), update); err != nil {
			return err
		}
		n = count(b)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("append update: %w", err)
	}
	return n, nil
}

// Updates returns the stored log of key in insertion order.
func (s *Store) Updates(key string) ([][]byte, error) {
	var out [][]byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(roomsBucket).Bucket([]byte(key))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			out = append(out, append([]byte(nil), v...))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load updates: %w", err)
	}
	return out, nil
}

// Len returns the number of stored updates for key.
func (s *Store) Len(key string) (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(roomsBucket).Bucket([]byte(key)); b != nil {
			n = count(b)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count updates: %w", err)
	}
	return n, nil
}

// Replace swaps the whole log of key for a single update.
func (s *Store) Replace(key string, state []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		rooms := tx.Bucket(roomsBucket)
		if rooms.Bucket([]byte(key)) != nil {
			if err := rooms.DeleteBucket([]byte(key)); err != nil {
				return err
			}
		}
		b, err := rooms.CreateBucket([]byte(key))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(itob(seq), state)
	})
	if err != nil {
		return fmt.Errorf("replace updates: %w", err)
	}
	return nil
}

// Delete removes every stored update for key.
func (s *Store) Delete(key string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		err := tx.Bucket(roomsBucket).DeleteBucket([]byte(key))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	return nil
}

func count(b *bolt.Bucket) int {
	n := 0
	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		n++
	}
	return n
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

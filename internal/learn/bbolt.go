package learn

import (
	"context"
	"fmt"

	"go.etcd.io/bbolt"
)

var learningBucket = []byte("learning")

// BoltKV is a single-file embedded KV backend for the Schema Learner,
// suitable for a single-instance deployment with no external dependency.
type BoltKV struct {
	db *bbolt.DB
}

// OpenBolt opens (creating if necessary) a bbolt database at path and
// ensures the learning bucket exists.
func OpenBolt(path string) (*BoltKV, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(learningBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating learning bucket: %w", err)
	}
	return &BoltKV{db: db}, nil
}

// Close releases the underlying database file.
func (b *BoltKV) Close() error {
	return b.db.Close()
}

// Get implements KV.
func (b *BoltKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(learningBucket).Get([]byte(key))
		if v != nil {
			value = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return value, value != nil, nil
}

// Put implements KV.
func (b *BoltKV) Put(_ context.Context, key string, value []byte) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(learningBucket).Put([]byte(key), value)
	})
}

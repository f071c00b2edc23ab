// Package store provides durable key/value storage for secrets and
// controller state, backed by a single bbolt database file.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("key not found")

	// ErrVersionConflict is returned when a conditional write observes a
	// version other than the one the caller read.
	ErrVersionConflict = errors.New("record version conflict")

	// ErrAlreadyExists is returned by CreateRecord when the key is taken.
	ErrAlreadyExists = errors.New("record already exists")
)

var (
	secretsBucket = []byte("secrets")
	stateBucket   = []byte("state")
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks -source=store.go SecretStore,StateStore

// SecretStore is the durable secret storage contract. Values are opaque
// strings; callers own the key naming.
type SecretStore interface {
	// GetSecret returns the value for name, or ErrNotFound.
	GetSecret(ctx context.Context, name string) (string, error)

	// PutSecret stores value under name, overwriting any existing value.
	PutSecret(ctx context.Context, name, value string) error

	// DeleteSecret removes name. Deleting an absent secret is not an error.
	DeleteSecret(ctx context.Context, name string) error
}

// StateStore stores versioned JSON records with optimistic concurrency.
// Writers must present the version they read; a mismatch fails the write
// instead of silently overwriting a concurrent transition.
type StateStore interface {
	// GetRecord unmarshals the record at key into out and returns its
	// version. Returns ErrNotFound if the key does not exist.
	GetRecord(ctx context.Context, key string, out any) (uint64, error)

	// PutRecord writes value at key if the stored version still equals
	// expectedVersion. Pass 0 to create a record that must not exist yet.
	// Returns ErrVersionConflict on mismatch.
	PutRecord(ctx context.Context, key string, value any, expectedVersion uint64) error

	// CreateRecord writes value at key only if the key is absent.
	// Returns ErrAlreadyExists otherwise.
	CreateRecord(ctx context.Context, key string, value any) error

	// DeleteRecord removes key. Deleting an absent record is not an error.
	DeleteRecord(ctx context.Context, key string) error
}

// recordEnvelope wraps stored state records with their version counter.
type recordEnvelope struct {
	Version uint64          `json:"version"`
	Data    json.RawMessage `json:"data"`
}

// Store is the bbolt-backed implementation of SecretStore and StateStore.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the database at path and ensures the
// required buckets exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open state database %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{secretsBucket, stateBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetSecret returns the value for name, or ErrNotFound.
func (s *Store) GetSecret(_ context.Context, name string) (string, error) {
	var value string
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(secretsBucket).Get([]byte(name))
		if data == nil {
			return fmt.Errorf("secret %q: %w", name, ErrNotFound)
		}
		value = string(data)
		return nil
	})
	return value, err
}

// PutSecret stores value under name, overwriting any existing value.
func (s *Store) PutSecret(_ context.Context, name, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(secretsBucket).Put([]byte(name), []byte(value)); err != nil {
			return fmt.Errorf("failed to store secret %q: %w", name, err)
		}
		return nil
	})
}

// DeleteSecret removes name. Absent keys are a no-op.
func (s *Store) DeleteSecret(_ context.Context, name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(secretsBucket).Delete([]byte(name))
	})
}

// GetRecord unmarshals the record at key into out and returns its version.
func (s *Store) GetRecord(_ context.Context, key string, out any) (uint64, error) {
	var version uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(stateBucket).Get([]byte(key))
		if data == nil {
			return fmt.Errorf("record %q: %w", key, ErrNotFound)
		}
		var env recordEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return fmt.Errorf("failed to decode record %q: %w", key, err)
		}
		version = env.Version
		if out == nil {
			return nil
		}
		return json.Unmarshal(env.Data, out)
	})
	return version, err
}

// PutRecord writes value at key with an optimistic version check.
func (s *Store) PutRecord(_ context.Context, key string, value any, expectedVersion uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(stateBucket)
		current := uint64(0)
		if data := bucket.Get([]byte(key)); data != nil {
			var env recordEnvelope
			if err := json.Unmarshal(data, &env); err != nil {
				return fmt.Errorf("failed to decode record %q: %w", key, err)
			}
			current = env.Version
		}
		if current != expectedVersion {
			return fmt.Errorf("record %q: expected version %d, found %d: %w",
				key, expectedVersion, current, ErrVersionConflict)
		}
		return putEnvelope(bucket, key, value, current+1)
	})
}

// CreateRecord writes value at key only if the key is absent.
func (s *Store) CreateRecord(_ context.Context, key string, value any) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(stateBucket)
		if bucket.Get([]byte(key)) != nil {
			return fmt.Errorf("record %q: %w", key, ErrAlreadyExists)
		}
		return putEnvelope(bucket, key, value, 1)
	})
}

// DeleteRecord removes key. Absent keys are a no-op.
func (s *Store) DeleteRecord(_ context.Context, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(stateBucket).Delete([]byte(key))
	})
}

func putEnvelope(bucket *bolt.Bucket, key string, value any, version uint64) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode record %q: %w", key, err)
	}
	env, err := json.Marshal(recordEnvelope{Version: version, Data: data})
	if err != nil {
		return fmt.Errorf("failed to encode record envelope %q: %w", key, err)
	}
	if err := bucket.Put([]byte(key), env); err != nil {
		return fmt.Errorf("failed to store record %q: %w", key, err)
	}
	return nil
}

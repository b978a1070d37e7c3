// Package durable is the on-disk key/value store shared by the handle store
// and the persisted upload state. It wraps a single bbolt database file.
package durable

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

// Bucket names.
const (
	BucketHandles = "handles"
	BucketUploads = "uploads"
	BucketMeta    = "meta"
)

var (
	// ErrNotFound is returned by Get when the key is absent.
	ErrNotFound = errors.New("key not found")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("store is closed")
)

// Entry is one key/value pair.
type Entry struct {
	Key   string
	Value []byte
}

// Replacement describes the new full contents of a bucket.
type Replacement struct {
	Bucket  string
	Entries []Entry
}

// KV is the store surface the engine depends on.
type KV interface {
	Get(bucket, key string) ([]byte, error)
	Put(bucket, key string, value []byte) error
	Delete(bucket, key string) error
	// ForEach visits entries in key order. Returning an error stops the scan.
	ForEach(bucket string, fn func(key string, value []byte) error) error
	Clear(bucket string) error
	// Replace clears and rewrites every listed bucket in one transaction.
	Replace(reps ...Replacement) error
	Close() error
}

// Store is a KV on a bbolt file.
type Store struct {
	mu     sync.RWMutex
	db     *bbolt.DB
	path   string
	closed bool
}

// Open opens (or creates) the database at path. timeout bounds the wait for
// the file lock when another process has the database open.
func Open(path string, timeout time.Duration) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{BucketHandles, BucketUploads, BucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

func (s *Store) view(fn func(tx *bbolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.db.View(fn)
}

func (s *Store) update(fn func(tx *bbolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.db.Update(fn)
}

// bucket returns the named bucket, creating it inside writable transactions.
func bucket(tx *bbolt.Tx, name string) (*bbolt.Bucket, error) {
	if b := tx.Bucket([]byte(name)); b != nil {
		return b, nil
	}
	if !tx.Writable() {
		return nil, nil
	}
	return tx.CreateBucket([]byte(name))
}

func (s *Store) Get(bucketName, key string) ([]byte, error) {
	var out []byte
	err := s.view(func(tx *bbolt.Tx) error {
		b, err := bucket(tx, bucketName)
		if err != nil {
			return err
		}
		if b == nil {
			return ErrNotFound
		}
		v := b.Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		// bbolt memory is only valid inside the transaction.
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

func (s *Store) Put(bucketName, key string, value []byte) error {
	return s.update(func(tx *bbolt.Tx) error {
		b, err := bucket(tx, bucketName)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), value)
	})
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(bucketName, key string) error {
	return s.update(func(tx *bbolt.Tx) error {
		b, err := bucket(tx, bucketName)
		if err != nil {
			return err
		}
		return b.Delete([]byte(key))
	})
}

func (s *Store) ForEach(bucketName string, fn func(key string, value []byte) error) error {
	return s.view(func(tx *bbolt.Tx) error {
		b, err := bucket(tx, bucketName)
		if err != nil || b == nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			return fn(string(k), append([]byte(nil), v...))
		})
	})
}

func (s *Store) Clear(bucketName string) error {
	return s.update(func(tx *bbolt.Tx) error {
		return clearBucket(tx, bucketName)
	})
}

func (s *Store) Replace(reps ...Replacement) error {
	return s.update(func(tx *bbolt.Tx) error {
		for _, rep := range reps {
			if err := clearBucket(tx, rep.Bucket); err != nil {
				return err
			}
			b := tx.Bucket([]byte(rep.Bucket))
			for _, e := range rep.Entries {
				if err := b.Put([]byte(e.Key), e.Value); err != nil {
					return fmt.Errorf("put %s/%s: %w", rep.Bucket, e.Key, err)
				}
			}
		}
		return nil
	})
}

func clearBucket(tx *bbolt.Tx, name string) error {
	if tx.Bucket([]byte(name)) != nil {
		if err := tx.DeleteBucket([]byte(name)); err != nil {
			return fmt.Errorf("clear bucket %s: %w", name, err)
		}
	}
	_, err := tx.CreateBucket([]byte(name))
	return err
}

// Close releases the database. Safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

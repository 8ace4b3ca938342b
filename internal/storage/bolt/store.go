// Package bolt implements the key-value backend on a single bbolt file.
package bolt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	defaultFile   = "followeraudit.db"
	defaultBucket = "progress"
)

// Config locates the database file.
type Config struct {
	// Path is the database file. When it names a directory the default file
	// name is appended.
	Path   string `mapstructure:"path"`
	Bucket string `mapstructure:"bucket"`
	// Timeout bounds how long Open waits for the file lock held by another
	// process.
	Timeout time.Duration `mapstructure:"timeout"`
}

// Store keeps every key in one bucket.
type Store struct {
	db     *bolt.DB
	bucket []byte
}

// Open creates the file and bucket when missing.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("bolt path is required")
	}
	path := cfg.Path
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, defaultFile)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create bolt dir: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}
	bucket := []byte(defaultBucket)
	if cfg.Bucket != "" {
		bucket = []byte(cfg.Bucket)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	return &Store{db: db, bucket: bucket}, nil
}

// Get returns the value for key. The value is copied out of the transaction.
func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	var (
		value string
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(s.bucket).Get([]byte(key)); v != nil {
			value, found = string(v), true
		}
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("bolt get %s: %w", key, err)
	}
	return value, found, nil
}

// Set stores value under key.
func (s *Store) Set(_ context.Context, key, value string) error {
	if key == "" {
		return errors.New("key is required")
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Put([]byte(key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("bolt set %s: %w", key, err)
	}
	return nil
}

// Remove deletes key. Missing keys are ignored.
func (s *Store) Remove(_ context.Context, key string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("bolt remove %s: %w", key, err)
	}
	return nil
}

// Keys lists keys with prefix using a cursor seek; bolt keeps keys sorted.
func (s *Store) Keys(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	p := []byte(prefix)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(s.bucket).Cursor()
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bolt keys: %w", err)
	}
	return keys, nil
}

// Close releases the file lock.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

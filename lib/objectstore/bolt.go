// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"

	"github.com/tessera-data/tessera/lib/clock"
)

var boltBucket = []byte("objects")

// boltHeaderSize is the modification-time prefix stored before every
// value: big-endian Unix nanoseconds.
const boltHeaderSize = 8

// Bolt is a Store backed by a single bbolt database file. Every
// operation is a bbolt transaction, so PutIfAbsent is atomic for all
// goroutines of the process holding the file lock.
type Bolt struct {
	db     *bbolt.DB
	logger *slog.Logger
	clock  clock.Clock
	noSync bool
}

// BoltOption configures a Bolt store.
type BoltOption func(*Bolt)

// WithBoltLogger sets the logger.
func WithBoltLogger(logger *slog.Logger) BoltOption {
	return func(b *Bolt) { b.logger = logger }
}

// WithBoltClock sets the clock used for LastModified.
func WithBoltClock(clk clock.Clock) BoltOption {
	return func(b *Bolt) { b.clock = clk }
}

// WithBoltNoSync disables fsync per transaction. Tests only.
func WithBoltNoSync(noSync bool) BoltOption {
	return func(b *Bolt) { b.noSync = noSync }
}

// OpenBolt opens (or creates) the database at path.
func OpenBolt(path string, options ...BoltOption) (*Bolt, error) {
	store := &Bolt{
		logger: slog.New(slog.DiscardHandler),
		clock:  clock.Real(),
	}
	for _, option := range options {
		option(store)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: time.Second,
		NoSync:  store.noSync,
	})
	if err != nil {
		return nil, fmt.Errorf("opening bolt store %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bolt bucket: %w", err)
	}
	store.db = db
	store.logger.Debug("opened bolt object store", "path", path, "no_sync", store.noSync)
	return store, nil
}

func (b *Bolt) encode(data []byte) []byte {
	value := make([]byte, boltHeaderSize+len(data))
	binary.BigEndian.PutUint64(value, uint64(b.clock.Now().UnixNano()))
	copy(value[boltHeaderSize:], data)
	return value
}

func boltInfo(key string, value []byte) ObjectInfo {
	return ObjectInfo{
		Key:          key,
		Size:         int64(len(value) - boltHeaderSize),
		LastModified: time.Unix(0, int64(binary.BigEndian.Uint64(value))),
	}
}

func (b *Bolt) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		value := tx.Bucket(boltBucket).Get([]byte(key))
		if value == nil {
			return notFound(key)
		}
		// bbolt values are only valid inside the transaction.
		data = bytes.Clone(value[boltHeaderSize:])
		return nil
	})
	if err != nil {
		return nil, b.wrap("get", key, err)
	}
	return data, nil
}

func (b *Bolt) GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	var data []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		value := tx.Bucket(boltBucket).Get([]byte(key))
		if value == nil {
			return notFound(key)
		}
		var err error
		data, err = sliceRange(key, value[boltHeaderSize:], offset, length)
		return err
	})
	if err != nil {
		return nil, b.wrap("get", key, err)
	}
	return data, nil
}

func (b *Bolt) Put(ctx context.Context, key string, data []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(boltBucket).Put([]byte(key), b.encode(data))
	})
	return b.wrap("put", key, err)
}

func (b *Bolt) PutIfAbsent(ctx context.Context, key string, data []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(boltBucket)
		if bucket.Get([]byte(key)) != nil {
			return preconditionFailed(key)
		}
		return bucket.Put([]byte(key), b.encode(data))
	})
	return b.wrap("put", key, err)
}

func (b *Bolt) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	var info ObjectInfo
	err := b.db.View(func(tx *bbolt.Tx) error {
		value := tx.Bucket(boltBucket).Get([]byte(key))
		if value == nil {
			return notFound(key)
		}
		info = boltInfo(key, value)
		return nil
	})
	if err != nil {
		return ObjectInfo{}, b.wrap("stat", key, err)
	}
	return info, nil
}

func (b *Bolt) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var results []ObjectInfo
	err := b.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(boltBucket).Cursor()
		prefixBytes := []byte(prefix)
		for key, value := cursor.Seek(prefixBytes); key != nil && bytes.HasPrefix(key, prefixBytes); key, value = cursor.Next() {
			results = append(results, boltInfo(string(key), value))
		}
		return nil
	})
	if err != nil {
		return nil, b.wrap("list", prefix, err)
	}
	return results, nil
}

func (b *Bolt) Delete(ctx context.Context, key string) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(boltBucket).Delete([]byte(key))
	})
	return b.wrap("delete", key, err)
}

func (b *Bolt) Capabilities() Capabilities {
	return Capabilities{AtomicCreate: true}
}

func (b *Bolt) Close() error {
	if b.db == nil {
		return nil
	}
	b.logger.Debug("closing bolt object store")
	return b.db.Close()
}

// wrap passes repository sentinel errors through and wraps everything
// else as an IOError.
func (b *Bolt) wrap(op, key string, err error) error {
	if err == nil || isSentinel(err) {
		return err
	}
	return &IOError{Op: op, Key: key, Err: err}
}

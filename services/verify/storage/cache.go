// Copyright (C) 2026 Faultline HQ (engineering@faultlinehq.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package storage persists analysis verdicts in an embedded BadgerDB.
//
// A program's verdict is deterministic for a fixed configuration, so
// re-verifying an unchanged program can be answered from the cache.
// Keys are the canonical program hash; values are JSON.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const keyPrefix = "verdict/"

// CachedVerdict is the persisted outcome of one analysis run.
type CachedVerdict struct {
	Verdict    string    `json:"verdict"`
	Sound      bool      `json:"sound"`
	FaultEdges []string  `json:"fault_edges,omitempty"`
	Tasks      int       `json:"tasks"`
	ElapsedMS  int64     `json:"elapsed_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// Config holds configuration for the verdict cache.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when
	// InMemory is true.
	Path string

	// InMemory keeps the cache in RAM only. Used in tests.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// TTL is how long a cached verdict stays valid. Zero means no
	// expiry.
	TTL time.Duration

	// Logger is used for BadgerDB's internal logging. If nil, that
	// logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns production defaults: durable writes and a
// 24-hour verdict lifetime.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: true,
		TTL:        24 * time.Hour,
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Cache is the verdict store.
//
// Thread Safety: safe for concurrent use; BadgerDB transactions
// provide the isolation.
type Cache struct {
	db  *badger.DB
	ttl time.Duration
}

// Open creates the cache directory if needed and opens the store.
func Open(cfg Config) (*Cache, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("storage: path is required for a persistent cache")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		dir := expandPath(cfg.Path)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", dir, err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open verdict cache: %w", err)
	}
	return &Cache{db: db, ttl: cfg.TTL}, nil
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// OpenInMemory opens a RAM-only cache for testing.
func OpenInMemory() (*Cache, error) {
	return Open(Config{InMemory: true})
}

// Get looks up the cached verdict for a program hash.
//
// Outputs:
//
//	*CachedVerdict - The stored verdict, nil on a miss.
//	error - Non-nil on storage failure; a miss is not an error.
func (c *Cache) Get(ctx context.Context, hash string) (*CachedVerdict, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out *CachedVerdict
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + hash))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var v CachedVerdict
			if err := json.Unmarshal(val, &v); err != nil {
				return fmt.Errorf("decode cached verdict: %w", err)
			}
			out = &v
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("read verdict cache: %w", err)
	}
	return out, nil
}

// Put stores the verdict for a program hash, applying the configured
// TTL.
func (c *Cache) Put(ctx context.Context, hash string, v CachedVerdict) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode verdict: %w", err)
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(keyPrefix+hash), data)
		if c.ttl > 0 {
			e = e.WithTTL(c.ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("write verdict cache: %w", err)
	}
	return nil
}

// Delete removes a cached verdict. Removing a missing key is not an
// error.
func (c *Cache) Delete(ctx context.Context, hash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + hash))
	})
	if err != nil {
		return fmt.Errorf("delete cached verdict: %w", err)
	}
	return nil
}

// Close closes the underlying store.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Copyright (C) 2025, DFMarket Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package storage

import (
	"errors"

	badger "github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned when a key is absent.
var ErrNotFound = errors.New("key not found")

// Storage is a key-value store backed by badger. marketd keeps the
// deployment address book and the settlement batch journal here.
type Storage struct {
	db *badger.DB
}

// NewStorage opens a store. dbType "memory" keeps everything in RAM;
// anything else opens a badger store at path.
func NewStorage(dbType string, path string) (*Storage, error) {
	var opts badger.Options
	switch dbType {
	case "memory":
		opts = badger.DefaultOptions("").WithInMemory(true)
	default:
		opts = badger.DefaultOptions(path)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Storage{db: db}, nil
}

// Put stores a key-value pair.
func (s *Storage) Put(key, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// Get retrieves a value by key.
func (s *Storage) Get(key []byte) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	return value, err
}

// Has checks if a key exists.
func (s *Storage) Has(key []byte) (bool, error) {
	_, err := s.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes a key-value pair.
func (s *Storage) Delete(key []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// List returns every key-value pair under a prefix.
func (s *Storage) List(prefix []byte) (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out[string(item.KeyCopy(nil))] = value
		}
		return nil
	})
	return out, err
}

// Close closes the database.
func (s *Storage) Close() error {
	return s.db.Close()
}

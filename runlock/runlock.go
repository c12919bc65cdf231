// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package runlock provides the TTL-backed advisory lock store used
// for restore-run mutual exclusion and cancellation signaling. The
// Store interface mirrors the minimal key surface of a shared
// key-value store so a network-backed implementation can replace the
// embedded default.
package runlock

import (
	"context"
	"errors"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// Store is the lock/heartbeat key surface. Keys expire after their
// TTL unless refreshed; deleting a key externally signals
// cancellation to the run holding it.
type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	SetWithExpiry(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

const keyPrefix = "runlock/"

// BadgerStore implements Store on an embedded badger DB using native
// TTL entries.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore wraps an open badger DB as a lock store.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func (s *BadgerStore) Exists(
	ctx context.Context,
	key string,
) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(keyPrefix + key))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *BadgerStore) SetWithExpiry(
	ctx context.Context,
	key string,
	value string,
	ttl time.Duration,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(
			[]byte(keyPrefix+key),
			[]byte(value),
		).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
}

func (s *BadgerStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + key))
	})
}

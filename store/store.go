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

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/glebarez/sqlite"
	"github.com/klauspost/compress/zstd"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/guildstash/guildstash/snapshot"
)

const (
	// DefaultOffloadThreshold is the encoded snapshot size beyond
	// which the chatlog and member list are moved to the blob
	// bucket instead of the document store.
	DefaultOffloadThreshold = 8 * 1024 * 1024

	// DefaultBackupLimit is the maximum number of stored backups
	// per creator.
	DefaultBackupLimit = 15

	snapshotKeyPrefix = "snapshot/"

	badgerGcInterval = 5 * time.Minute
)

var (
	// ErrNotFound is returned when a snapshot, backup row, or blob
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrBackupLimit is returned when a creator has reached their
	// stored backup quota.
	ErrBackupLimit = errors.New("backup limit reached")
)

// StoreConfig holds the configuration for a Store.
type StoreConfig struct {
	DataDir          string
	Blob             BlobBucket
	Logger           *slog.Logger
	PromRegistry     prometheus.Registerer
	OffloadThreshold int
	BackupLimit      int
}

// Store persists snapshots and their metadata. Snapshot documents
// live in Badger, index and translation rows live in SQLite, and
// oversized snapshot sections are offloaded to a blob bucket.
type Store struct {
	logger       *slog.Logger
	blobDb       *badger.DB
	metadataDb   *gorm.DB
	blob         BlobBucket
	offloadLimit int
	backupLimit  int
	gcDone       chan struct{}
	gcStopped    chan struct{}
}

// New creates a Store. Uses in-memory databases if dataDir is empty.
func New(cfg StoreConfig) (*Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.OffloadThreshold <= 0 {
		cfg.OffloadThreshold = DefaultOffloadThreshold
	}
	if cfg.BackupLimit <= 0 {
		cfg.BackupLimit = DefaultBackupLimit
	}
	blobDb, err := openBlobDb(cfg.DataDir, cfg.Logger)
	if err != nil {
		return nil, err
	}
	metadataDb, err := openMetadataDb(cfg.DataDir)
	if err != nil {
		_ = blobDb.Close()
		return nil, err
	}
	s := &Store{
		logger:       cfg.Logger,
		blobDb:       blobDb,
		metadataDb:   metadataDb,
		blob:         cfg.Blob,
		offloadLimit: cfg.OffloadThreshold,
		backupLimit:  cfg.BackupLimit,
		gcDone:       make(chan struct{}),
		gcStopped:    make(chan struct{}),
	}
	go s.blobGc()
	return s, nil
}

func openBlobDb(dataDir string, logger *slog.Logger) (*badger.DB, error) {
	var opts badger.Options
	if dataDir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		blobDir := filepath.Join(dataDir, "blob")
		if err := os.MkdirAll(blobDir, fs.ModePerm); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		opts = badger.DefaultOptions(blobDir)
	}
	opts = opts.WithLogger(NewBadgerLogger(logger))
	// The default of 1GB is usually way more than we need
	opts = opts.WithValueLogFileSize(64 * 1024 * 1024)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob store: %w", err)
	}
	return db, nil
}

func openMetadataDb(dataDir string) (*gorm.DB, error) {
	var db *gorm.DB
	var err error
	gormCfg := &gorm.Config{
		Logger:                 gormlogger.Discard,
		SkipDefaultTransaction: true,
	}
	if dataDir == "" {
		// cache=shared allows multiple connections to share the same in-memory database
		db, err = gorm.Open(
			sqlite.Open("file::memory:?cache=shared"),
			gormCfg,
		)
	} else {
		if mkdirErr := os.MkdirAll(dataDir, fs.ModePerm); mkdirErr != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", mkdirErr)
		}
		dbPath := filepath.Join(dataDir, "metadata.sqlite")
		connOpts := "_pragma=journal_mode(WAL)&_pragma=sync(OFF)"
		db, err = gorm.Open(
			sqlite.Open(fmt.Sprintf("file:%s?%s", dbPath, connOpts)),
			gormCfg,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}
	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}
	for _, model := range MigrateModels {
		if err := db.AutoMigrate(model); err != nil {
			return nil, err
		}
	}
	return db, nil
}

func (s *Store) blobGc() {
	defer close(s.gcStopped)
	ticker := time.NewTicker(badgerGcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.gcDone:
			return
		case <-ticker.C:
			// Run GC until it reports no rewrite happened
			for {
				if err := s.blobDb.RunValueLogGC(0.5); err != nil {
					break
				}
			}
		}
	}
}

// Blob returns the underlying Badger database. Other components that
// need embedded key-value storage share this handle.
func (s *Store) Blob() *badger.DB {
	return s.blobDb
}

// Metadata returns the underlying GORM database.
func (s *Store) Metadata() *gorm.DB {
	return s.metadataDb
}

// Close shuts down the store.
func (s *Store) Close() error {
	close(s.gcDone)
	<-s.gcStopped
	var errs []error
	if s.blob != nil {
		if err := s.blob.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if sqlDb, err := s.metadataDb.DB(); err == nil {
		if err := sqlDb.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.blobDb.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// snapshotDoc is the stored form of a snapshot. When a section has
// been offloaded to the blob bucket the corresponding field is empty
// and the marker is set.
type snapshotDoc struct {
	Snapshot          snapshot.Snapshot `json:"snapshot"`
	MessagesOffloaded bool              `json:"messages_offloaded,omitempty"`
	MembersOffloaded  bool              `json:"members_offloaded,omitempty"`
}

func messagesBlobName(backupID string) string {
	return "snapshots/" + backupID + "/messages.json.zst"
}

func membersBlobName(backupID string) string {
	return "snapshots/" + backupID + "/members.json.zst"
}

func compressBlob(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(raw, nil), nil
}

func decompressBlob(data []byte, v any) error {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return err
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// PutSnapshot stores a snapshot document under the given backup ID.
// When the encoded document exceeds the offload threshold and a blob
// bucket is configured, the chatlog and member list are written to
// the bucket instead.
func (s *Store) PutSnapshot(
	ctx context.Context,
	backupID string,
	snap *snapshot.Snapshot,
) error {
	if snap == nil {
		return errors.New("nil snapshot")
	}
	doc := snapshotDoc{Snapshot: *snap}
	encoded, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if len(encoded) > s.offloadLimit && s.blob != nil {
		if len(doc.Snapshot.Messages) > 0 {
			data, err := compressBlob(doc.Snapshot.Messages)
			if err != nil {
				return fmt.Errorf("offloading messages: %w", err)
			}
			if err := s.blob.Put(ctx, messagesBlobName(backupID), data); err != nil {
				return err
			}
			doc.Snapshot.Messages = nil
			doc.MessagesOffloaded = true
		}
		if len(doc.Snapshot.Members) > 0 {
			data, err := compressBlob(doc.Snapshot.Members)
			if err != nil {
				return fmt.Errorf("offloading members: %w", err)
			}
			if err := s.blob.Put(ctx, membersBlobName(backupID), data); err != nil {
				return err
			}
			doc.Snapshot.Members = nil
			doc.MembersOffloaded = true
		}
		encoded, err = json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("encoding snapshot: %w", err)
		}
		s.logger.Debug(
			"offloaded oversize snapshot sections",
			"component", "store",
			"backup_id", backupID,
		)
	}
	err = s.blobDb.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(snapshotKeyPrefix+backupID), encoded)
	})
	if err != nil {
		return fmt.Errorf("storing snapshot: %w", err)
	}
	return nil
}

// GetSnapshot loads a snapshot document, fetching any offloaded
// sections back from the blob bucket.
func (s *Store) GetSnapshot(
	ctx context.Context,
	backupID string,
) (*snapshot.Snapshot, error) {
	var encoded []byte
	err := s.blobDb.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(snapshotKeyPrefix + backupID))
		if err != nil {
			return err
		}
		encoded, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading snapshot: %w", err)
	}
	var doc snapshotDoc
	if err := json.Unmarshal(encoded, &doc); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	if doc.MessagesOffloaded {
		if s.blob == nil {
			return nil, errors.New("snapshot has offloaded messages but no blob bucket is configured")
		}
		data, err := s.blob.Get(ctx, messagesBlobName(backupID))
		if err != nil {
			return nil, err
		}
		if err := decompressBlob(data, &doc.Snapshot.Messages); err != nil {
			return nil, fmt.Errorf("decoding offloaded messages: %w", err)
		}
	}
	if doc.MembersOffloaded {
		if s.blob == nil {
			return nil, errors.New("snapshot has offloaded members but no blob bucket is configured")
		}
		data, err := s.blob.Get(ctx, membersBlobName(backupID))
		if err != nil {
			return nil, err
		}
		if err := decompressBlob(data, &doc.Snapshot.Members); err != nil {
			return nil, fmt.Errorf("decoding offloaded members: %w", err)
		}
	}
	return &doc.Snapshot, nil
}

// DeleteSnapshot removes a snapshot document and any offloaded
// sections. Deleting a missing snapshot is not an error.
func (s *Store) DeleteSnapshot(ctx context.Context, backupID string) error {
	err := s.blobDb.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(snapshotKeyPrefix + backupID))
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("deleting snapshot: %w", err)
	}
	if s.blob != nil {
		if err := s.blob.Delete(ctx, messagesBlobName(backupID)); err != nil {
			return err
		}
		if err := s.blob.Delete(ctx, membersBlobName(backupID)); err != nil {
			return err
		}
	}
	return nil
}

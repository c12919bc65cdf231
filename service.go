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

package guildstash

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/guildstash/guildstash/discord"
	"github.com/guildstash/guildstash/event"
	"github.com/guildstash/guildstash/restore"
	"github.com/guildstash/guildstash/runlock"
	"github.com/guildstash/guildstash/snapshot"
	"github.com/guildstash/guildstash/store"
)

// Service ties together the capture/restore engine: the Discord
// client, the snapshot store, the event bus, and the background
// scheduler for interval backups and chatlog retention.
type Service struct {
	config         Config
	eventBus       *event.EventBus
	client         *discord.Client
	capturer       *snapshot.Capturer
	store          *store.Store
	lockStore      runlock.Store
	guard          *restore.Guard
	restoreMetrics *restore.Metrics
	scheduler      *cron.Cron
	shutdownFuncs  []func(context.Context) error
	done           chan struct{}
	shutdownOnce   sync.Once
}

func New(cfg Config) (*Service, error) {
	eventBus := event.NewEventBus(cfg.promRegistry)
	s := &Service{
		config:   cfg,
		eventBus: eventBus,
		done:     make(chan struct{}),
	}
	if err := s.configValidate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return s, nil
}

// Run starts the service and blocks until Stop is called.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	// Wait for shutdown signal
	<-s.done
	return nil
}

// Start brings up the service components without blocking. Callers
// that use the service for a single capture or restore use this
// instead of Run.
func (s *Service) Start(ctx context.Context) error {
	// Configure tracing
	if s.config.tracing {
		if err := s.setupTracing(); err != nil {
			return err
		}
	}
	// Load store
	var blobBucket store.BlobBucket
	if s.config.blobLocation != "" {
		var err error
		blobBucket, err = store.NewBlobBucket(
			s.config.blobLocation,
			s.config.gcsCredentials,
		)
		if err != nil {
			return fmt.Errorf("failed to open blob bucket: %w", err)
		}
	}
	db, err := store.New(store.StoreConfig{
		DataDir:      s.config.dataDir,
		Blob:         blobBucket,
		Logger:       s.config.logger,
		PromRegistry: s.config.promRegistry,
		BackupLimit:  s.config.backupLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	s.store = db
	s.lockStore = runlock.NewBadgerStore(db.Blob())
	// Configure Discord client
	clientOpts := []discord.ClientOption{}
	if s.config.apiBaseUrl != "" {
		clientOpts = append(
			clientOpts,
			discord.WithBaseURL(s.config.apiBaseUrl),
		)
	}
	s.client = discord.NewClient(s.config.token, clientOpts...)
	// Configure capture/restore engine
	s.capturer = snapshot.NewCapturer(snapshot.CapturerConfig{
		Client: s.client,
		Logger: s.config.logger,
	})
	s.restoreMetrics = restore.NewMetrics(s.config.promRegistry)
	s.guard = restore.NewGuard(restore.GuardConfig{
		Store:  s.lockStore,
		Bus:    s.eventBus,
		Logger: s.config.logger,
	})
	// Start background scheduler
	return s.startScheduler(ctx)
}

func (s *Service) startScheduler(ctx context.Context) error {
	s.scheduler = cron.New()
	// Interval backup sweep
	if _, err := s.scheduler.AddFunc("@every 1m", func() {
		if err := s.runDueIntervalBackups(ctx); err != nil {
			s.config.logger.Error(
				"interval backup sweep failed",
				"component", "scheduler",
				"error", err,
			)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule interval backups: %w", err)
	}
	// Chatlog retention sweep
	if s.config.msgRetentionDays > 0 {
		if _, err := s.scheduler.AddFunc("@hourly", func() {
			cutoff := time.Now().
				Add(-time.Duration(s.config.msgRetentionDays) * 24 * time.Hour)
			if err := s.store.SweepMessageRetention(ctx, cutoff); err != nil {
				s.config.logger.Error(
					"chatlog retention sweep failed",
					"component", "scheduler",
					"error", err,
				)
			}
		}); err != nil {
			return fmt.Errorf("failed to schedule retention sweep: %w", err)
		}
	}
	s.scheduler.Start()
	return nil
}

func (s *Service) runDueIntervalBackups(ctx context.Context) error {
	due, err := s.store.DueSchedules(ctx, time.Now())
	if err != nil {
		return err
	}
	for _, sched := range due {
		backupID, err := s.CaptureBackup(ctx, CaptureRequest{
			GuildID:      sched.GuildID,
			CreatorID:    sched.UserID,
			ChatlogDepth: sched.ChatlogDepth,
			Interval:     true,
		})
		if err != nil {
			s.config.logger.Error(
				"interval backup failed",
				"component", "scheduler",
				"guild_id", sched.GuildID,
				"error", err,
			)
			continue
		}
		s.config.logger.Info(
			"interval backup created",
			"component", "scheduler",
			"guild_id", sched.GuildID,
			"backup_id", backupID,
		)
		if err := s.store.MarkScheduleRun(ctx, sched.GuildID, time.Now()); err != nil {
			return err
		}
		if sched.KeepCount > 0 {
			if err := s.store.PruneIntervalBackups(ctx, sched.GuildID, sched.KeepCount); err != nil {
				return err
			}
		}
	}
	return nil
}

// CaptureRequest describes a single backup capture.
type CaptureRequest struct {
	GuildID      string
	CreatorID    string
	ChatlogDepth int
	Interval     bool
}

// CaptureBackup captures a snapshot of a guild and stores it,
// returning the new backup ID.
func (s *Service) CaptureBackup(
	ctx context.Context,
	req CaptureRequest,
) (string, error) {
	snap, err := s.capturer.Capture(ctx, req.GuildID, req.ChatlogDepth)
	if err != nil {
		return "", err
	}
	backupID := newBackupID()
	if err := s.store.PutSnapshot(ctx, backupID, snap); err != nil {
		return "", err
	}
	if err := s.store.SaveBackup(ctx, &store.Backup{
		ID:        backupID,
		CreatorID: req.CreatorID,
		GuildID:   snap.ID,
		GuildName: snap.Name,
		Timestamp: time.Now(),
		Interval:  req.Interval,
		Messages:  len(snap.Messages) > 0,
	}); err != nil {
		// Don't leave an orphaned snapshot document behind
		_ = s.store.DeleteSnapshot(ctx, backupID)
		return "", err
	}
	return backupID, nil
}

// RestoreRequest describes a restore run.
type RestoreRequest struct {
	BackupID     string
	TargetID     string
	Options      *snapshot.RestoreOptions
	ChatlogDepth int
}

// RestoreResult reports the outcome of a completed restore run.
type RestoreResult struct {
	Invite *discord.Invite
}

// RestoreBackup loads a stored snapshot and applies it to the target
// guild under the per-target run lock. ID translations from earlier
// runs against the same source/target pair are reused, and the
// translations produced by this run are persisted for the next one.
func (s *Service) RestoreBackup(
	ctx context.Context,
	req RestoreRequest,
) (*RestoreResult, error) {
	snap, err := s.store.GetSnapshot(ctx, req.BackupID)
	if err != nil {
		return nil, err
	}
	options := req.Options
	if options == nil {
		options = snapshot.DefaultRestoreOptions()
	}
	restorer := restore.NewRestorer(
		restore.RestorerConfig{
			Client:            s.client,
			Logger:            s.config.logger,
			Metrics:           s.restoreMetrics,
			ReplayConcurrency: s.config.replayConcurrency,
		},
		req.TargetID,
		snap,
		options,
		req.ChatlogDepth,
	)
	prior, err := s.store.GetTranslation(ctx, snap.ID, req.TargetID)
	if err != nil {
		return nil, err
	}
	restorer.Translator().Import(prior)
	_, runErr := s.guard.Run(ctx, restorer, event.LoaderEvent{
		ID:         req.TargetID,
		Type:       "backup",
		SourceID:   snap.ID,
		Identifier: req.BackupID,
	})
	// Persist whatever translations the run produced, even on
	// failure, so a retry picks up where it left off. A rejected run
	// never started and has nothing new to persist.
	translator := restorer.Translator()
	if !errors.Is(runErr, restore.ErrRunActive) && translator.Len() > 0 {
		if err := s.store.SaveTranslation(
			context.WithoutCancel(ctx),
			snap.ID,
			req.TargetID,
			translator.Export(),
		); err != nil {
			s.config.logger.Error(
				"failed to persist id translations",
				"component", "restore",
				"target_id", req.TargetID,
				"error", err,
			)
		}
	}
	if runErr != nil {
		return nil, runErr
	}
	// Record the standing invite on the backup row so it stays a
	// usable locator for the last guild this backup was loaded onto.
	if invite := restorer.Invite(); invite != nil {
		if err := s.store.SetBackupInvite(
			context.WithoutCancel(ctx),
			req.BackupID,
			invite.Code,
		); err != nil {
			s.config.logger.Error(
				"failed to persist backup invite",
				"component", "restore",
				"backup_id", req.BackupID,
				"error", err,
			)
		}
	}
	return &RestoreResult{Invite: restorer.Invite()}, nil
}

// Store returns the service's backing store.
func (s *Service) Store() *store.Store {
	return s.store
}

// EventBus returns the service's event bus.
func (s *Service) EventBus() *event.EventBus {
	return s.eventBus
}

// Client returns the service's Discord client.
func (s *Service) Client() *discord.Client {
	return s.client
}

func (s *Service) Stop() error {
	var err error
	s.shutdownOnce.Do(func() {
		err = s.shutdown()
	})
	return err
}

func (s *Service) shutdown() error {
	shutdownTimeout := 30 * time.Second
	if s.config.shutdownTimeout > 0 {
		shutdownTimeout = s.config.shutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error

	s.config.logger.Debug("starting graceful shutdown")

	// Phase 1: stop scheduling new work
	if s.scheduler != nil {
		stopCtx := s.scheduler.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
			err = errors.Join(err, errors.New("scheduler shutdown timed out"))
		}
	}

	// Phase 2: cleanup resources
	for _, fn := range s.shutdownFuncs {
		if fnErr := fn(ctx); fnErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown function: %w", fnErr))
		}
	}
	s.shutdownFuncs = nil

	if s.store != nil {
		if closeErr := s.store.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("store close: %w", closeErr))
		}
	}

	if s.eventBus != nil {
		s.eventBus.Stop()
	}

	s.config.logger.Debug("graceful shutdown complete")
	close(s.done)
	return err
}

func newBackupID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

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
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SaveBackup records backup metadata. Non-interval backups count
// against the creator's quota; interval backups are managed by their
// schedule's keep count instead.
func (s *Store) SaveBackup(ctx context.Context, backup *Backup) error {
	db := s.metadataDb.WithContext(ctx)
	if !backup.Interval {
		var count int64
		result := db.Model(&Backup{}).
			Where(
				"creator_id = ? AND interval = ? AND id <> ?",
				backup.CreatorID,
				false,
				backup.ID,
			).
			Count(&count)
		if result.Error != nil {
			return fmt.Errorf("counting backups: %w", result.Error)
		}
		if count >= int64(s.backupLimit) {
			return ErrBackupLimit
		}
	}
	if result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(backup); result.Error != nil {
		return fmt.Errorf("saving backup: %w", result.Error)
	}
	return nil
}

// GetBackup loads backup metadata by ID.
func (s *Store) GetBackup(ctx context.Context, backupID string) (*Backup, error) {
	var backup Backup
	result := s.metadataDb.WithContext(ctx).
		First(&backup, "id = ?", backupID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading backup: %w", result.Error)
	}
	return &backup, nil
}

// SetBackupInvite records the standing invite code created by the
// latest restore of a backup, keeping the stored locator current.
func (s *Store) SetBackupInvite(
	ctx context.Context,
	backupID string,
	code string,
) error {
	result := s.metadataDb.WithContext(ctx).
		Model(&Backup{}).
		Where("id = ?", backupID).
		Update("invite", code)
	if result.Error != nil {
		return fmt.Errorf("updating backup invite: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetConstInvite toggles the constant-invite flag on a backup.
func (s *Store) SetConstInvite(
	ctx context.Context,
	backupID string,
	enabled bool,
) error {
	result := s.metadataDb.WithContext(ctx).
		Model(&Backup{}).
		Where("id = ?", backupID).
		Update("const_invite", enabled)
	if result.Error != nil {
		return fmt.Errorf("updating backup invite flag: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListBackups returns a creator's backups, newest first.
func (s *Store) ListBackups(ctx context.Context, creatorID string) ([]Backup, error) {
	var backups []Backup
	result := s.metadataDb.WithContext(ctx).
		Where("creator_id = ?", creatorID).
		Order("timestamp DESC").
		Find(&backups)
	if result.Error != nil {
		return nil, fmt.Errorf("listing backups: %w", result.Error)
	}
	return backups, nil
}

// ListGuildBackups returns the backups of a guild, newest first.
func (s *Store) ListGuildBackups(ctx context.Context, guildID string) ([]Backup, error) {
	var backups []Backup
	result := s.metadataDb.WithContext(ctx).
		Where("guild_id = ?", guildID).
		Order("timestamp DESC").
		Find(&backups)
	if result.Error != nil {
		return nil, fmt.Errorf("listing backups: %w", result.Error)
	}
	return backups, nil
}

// DeleteBackup removes a backup's metadata row together with its
// snapshot document and offloaded blobs.
func (s *Store) DeleteBackup(ctx context.Context, backupID string) error {
	if err := s.DeleteSnapshot(ctx, backupID); err != nil {
		return err
	}
	result := s.metadataDb.WithContext(ctx).
		Delete(&Backup{}, "id = ?", backupID)
	if result.Error != nil {
		return fmt.Errorf("deleting backup: %w", result.Error)
	}
	return nil
}

// SaveTranslation upserts the ID translation map for a source/target
// guild pair.
func (s *Store) SaveTranslation(
	ctx context.Context,
	sourceID string,
	targetID string,
	ids map[string]string,
) error {
	encoded, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encoding translation: %w", err)
	}
	row := IdTranslation{
		SourceID: sourceID,
		TargetID: targetID,
		Ids:      encoded,
	}
	result := s.metadataDb.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_id"}, {Name: "target_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"ids"}),
	}).Create(&row)
	if result.Error != nil {
		return fmt.Errorf("saving translation: %w", result.Error)
	}
	return nil
}

// GetTranslation loads the ID translation map for a source/target
// guild pair. Returns an empty map when no prior run exists.
func (s *Store) GetTranslation(
	ctx context.Context,
	sourceID string,
	targetID string,
) (map[string]string, error) {
	var row IdTranslation
	result := s.metadataDb.WithContext(ctx).
		First(&row, "source_id = ? AND target_id = ?", sourceID, targetID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("loading translation: %w", result.Error)
	}
	ids := map[string]string{}
	if err := json.Unmarshal(row.Ids, &ids); err != nil {
		return nil, fmt.Errorf("decoding translation: %w", err)
	}
	return ids, nil
}

// UpsertSchedule creates or replaces a guild's interval schedule.
func (s *Store) UpsertSchedule(ctx context.Context, sched *IntervalSchedule) error {
	result := s.metadataDb.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "guild_id"}},
		UpdateAll: true,
	}).Create(sched)
	if result.Error != nil {
		return fmt.Errorf("saving schedule: %w", result.Error)
	}
	return nil
}

// DeleteSchedule removes a guild's interval schedule.
func (s *Store) DeleteSchedule(ctx context.Context, guildID string) error {
	result := s.metadataDb.WithContext(ctx).
		Delete(&IntervalSchedule{}, "guild_id = ?", guildID)
	if result.Error != nil {
		return fmt.Errorf("deleting schedule: %w", result.Error)
	}
	return nil
}

// DueSchedules returns schedules whose next run is at or before the
// given time.
func (s *Store) DueSchedules(ctx context.Context, now time.Time) ([]IntervalSchedule, error) {
	var scheds []IntervalSchedule
	result := s.metadataDb.WithContext(ctx).
		Where("next_run <= ?", now).
		Find(&scheds)
	if result.Error != nil {
		return nil, fmt.Errorf("listing due schedules: %w", result.Error)
	}
	return scheds, nil
}

// MarkScheduleRun advances a schedule after a completed interval
// backup.
func (s *Store) MarkScheduleRun(
	ctx context.Context,
	guildID string,
	ranAt time.Time,
) error {
	var sched IntervalSchedule
	db := s.metadataDb.WithContext(ctx)
	result := db.First(&sched, "guild_id = ?", guildID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("loading schedule: %w", result.Error)
	}
	sched.LastRun = ranAt
	sched.NextRun = ranAt.Add(time.Duration(sched.IntervalHrs) * time.Hour)
	if result := db.Save(&sched); result.Error != nil {
		return fmt.Errorf("saving schedule: %w", result.Error)
	}
	return nil
}

// PruneIntervalBackups deletes a guild's oldest interval backups
// beyond the schedule's keep count.
func (s *Store) PruneIntervalBackups(
	ctx context.Context,
	guildID string,
	keep uint,
) error {
	var backups []Backup
	result := s.metadataDb.WithContext(ctx).
		Where("guild_id = ? AND interval = ?", guildID, true).
		Order("timestamp DESC").
		Find(&backups)
	if result.Error != nil {
		return fmt.Errorf("listing interval backups: %w", result.Error)
	}
	if uint(len(backups)) <= keep {
		return nil
	}
	for _, backup := range backups[keep:] {
		if err := s.DeleteBackup(ctx, backup.ID); err != nil {
			return err
		}
	}
	return nil
}

// SweepMessageRetention strips chatlogs from backups older than the
// cutoff. The rest of the snapshot is kept.
func (s *Store) SweepMessageRetention(ctx context.Context, cutoff time.Time) error {
	var backups []Backup
	result := s.metadataDb.WithContext(ctx).
		Where("messages = ? AND timestamp < ?", true, cutoff).
		Find(&backups)
	if result.Error != nil {
		return fmt.Errorf("listing expired chatlogs: %w", result.Error)
	}
	for _, backup := range backups {
		snap, err := s.GetSnapshot(ctx, backup.ID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return err
		}
		snap.Messages = nil
		if err := s.PutSnapshot(ctx, backup.ID, snap); err != nil {
			return err
		}
		if s.blob != nil {
			if err := s.blob.Delete(ctx, messagesBlobName(backup.ID)); err != nil {
				return err
			}
		}
		backup.Messages = false
		if result := s.metadataDb.WithContext(ctx).Save(&backup); result.Error != nil {
			return fmt.Errorf("updating backup: %w", result.Error)
		}
		s.logger.Debug(
			"stripped expired chatlog",
			"component", "store",
			"backup_id", backup.ID,
		)
	}
	return nil
}

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
	"time"
)

// MigrateModels contains the list of model objects that should have
// DB migrations applied
var MigrateModels = []any{
	&Backup{},
	&IdTranslation{},
	&IntervalSchedule{},
}

// Backup is the metadata row for a stored snapshot. The snapshot
// body itself lives in the document store under the same ID. Invite
// holds the code of the standing invite created by the most recent
// restore of this backup; ConstInvite marks it as a stable locator
// the creator wants kept current.
type Backup struct {
	ID          string `gorm:"primaryKey"`
	CreatorID   string `gorm:"index"`
	GuildID     string `gorm:"index"`
	GuildName   string
	Timestamp   time.Time
	Interval    bool
	Messages    bool
	ConstInvite bool `gorm:"index"`
	Invite      string
}

func (Backup) TableName() string {
	return "backups"
}

// IdTranslation records the source-to-target ID mapping produced by
// a restore run, so a later run against the same pair can reuse it.
type IdTranslation struct {
	ID       uint   `gorm:"primaryKey"`
	SourceID string `gorm:"uniqueIndex:source_target"`
	TargetID string `gorm:"uniqueIndex:source_target"`
	Ids      []byte
}

func (IdTranslation) TableName() string {
	return "id_translations"
}

// IntervalSchedule drives automatic periodic backups for a guild.
// One schedule per guild.
type IntervalSchedule struct {
	GuildID      string `gorm:"primaryKey"`
	UserID       string
	IntervalHrs  uint
	KeepCount    uint
	ChatlogDepth int
	LastRun      time.Time
	NextRun      time.Time `gorm:"index"`
}

func (IntervalSchedule) TableName() string {
	return "interval_schedules"
}

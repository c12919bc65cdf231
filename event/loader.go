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

package event

const (
	// LoaderStartEventType is published when a restore run claims its
	// lock and begins executing.
	LoaderStartEventType EventType = "loader.start"

	// LoaderDoneEventType is published when a restore run finishes,
	// regardless of outcome.
	LoaderDoneEventType EventType = "loader.done"

	// LoaderStatusEventType is published on every heartbeat with the
	// run's current stage label.
	LoaderStatusEventType EventType = "loader.status"
)

// LoaderEvent is the payload for loader start and done events.
type LoaderEvent struct {
	// ID is the target guild id the run operates on.
	ID string `json:"id"`
	// Type distinguishes the kind of source being loaded, e.g.
	// "backup" or "template".
	Type string `json:"type"`
	// SourceID is the guild id the snapshot was captured from.
	SourceID string `json:"source_id"`
	// Identifier names the stored snapshot being loaded.
	Identifier string `json:"identifier"`
}

// LoaderStatusEvent is the payload for periodic status broadcasts.
type LoaderStatusEvent struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

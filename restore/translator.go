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

package restore

import "maps"

// Translator maps source-guild entity ids to the ids of their newly
// created counterparts on the target guild. It is owned exclusively
// by a single restore run and is not safe for concurrent writers.
// Persisting the exported mapping lets a later restore of the same
// snapshot onto the same target reuse prior identities.
type Translator struct {
	ids map[string]string
}

// NewTranslator creates a translator seeded with the source-to-target
// guild id mapping.
func NewTranslator(sourceID, targetID string) *Translator {
	return &Translator{
		ids: map[string]string{sourceID: targetID},
	}
}

// Get returns the target id for a source id.
func (t *Translator) Get(sourceID string) (string, bool) {
	targetID, ok := t.ids[sourceID]
	return targetID, ok
}

// Put records a translation.
func (t *Translator) Put(sourceID, targetID string) {
	t.ids[sourceID] = targetID
}

// Len returns the number of recorded translations.
func (t *Translator) Len() int {
	return len(t.ids)
}

// Import merges previously persisted translations, keeping existing
// entries on conflict.
func (t *Translator) Import(ids map[string]string) {
	for sourceID, targetID := range ids {
		if _, ok := t.ids[sourceID]; !ok {
			t.ids[sourceID] = targetID
		}
	}
}

// Export returns a copy of the full mapping for persistence.
func (t *Translator) Export() map[string]string {
	return maps.Clone(t.ids)
}

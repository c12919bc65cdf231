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

package snapshot

import (
	"maps"
	"strings"
)

// RestoreOptions is a sparse set of named boolean switches gating the
// restore stages. A switch that was never set explicitly resolves to
// the wildcard default, which starts out false and can be changed by
// setting the "*" switch. Setting "*" also clears all prior explicit
// switches.
type RestoreOptions struct {
	wildcard bool
	explicit map[string]bool
}

// NewRestoreOptions creates options with the given explicit defaults.
func NewRestoreOptions(defaults map[string]bool) *RestoreOptions {
	o := &RestoreOptions{
		explicit: make(map[string]bool),
	}
	maps.Copy(o.explicit, defaults)
	return o
}

// DefaultRestoreOptions returns the switch set used for a full restore:
// structural stages, message replay with pins, and the standing invite
// on, bans off.
func DefaultRestoreOptions() *RestoreOptions {
	return NewRestoreOptions(map[string]bool{
		"settings":        true,
		"roles":           true,
		"delete_roles":    true,
		"channels":        true,
		"delete_channels": true,
		"members":         true,
		"messages":        true,
		"pins":            true,
		"invite":          true,
		"bans":            false,
	})
}

// Set sets a single switch. The name "*" changes the wildcard default
// and clears every explicit switch.
func (o *RestoreOptions) Set(name string, value bool) {
	if name == "*" {
		o.wildcard = value
		clear(o.explicit)
		return
	}
	o.explicit[name] = value
}

// Get resolves a switch: explicit value if set, wildcard default
// otherwise.
func (o *RestoreOptions) Get(name string) bool {
	if v, ok := o.explicit[name]; ok {
		return v
	}
	return o.wildcard
}

// Apply parses user-supplied option tokens onto the options. A bare
// token enables the named switch, a "!" prefix disables it, and "*"
// or "!*" adjusts the wildcard default.
func (o *RestoreOptions) Apply(tokens []string) {
	for _, token := range tokens {
		token = strings.ToLower(strings.TrimSpace(token))
		if token == "" {
			continue
		}
		value := true
		if name, ok := strings.CutPrefix(token, "!"); ok {
			token = name
			value = false
		}
		if token == "" {
			continue
		}
		o.Set(token, value)
	}
}

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

import (
	"context"
	"errors"
)

// The three run-fatal, non-retryable failure classes. Everything else
// the restorer encounters is recovered per item or per stage.
var (
	// ErrRunActive is returned when a restore is requested for a
	// target guild that already has a run in progress.
	ErrRunActive = errors.New(
		"another loader is already running for this guild; wait until it is done",
	)

	// ErrRunCancelled is returned when the run's lock key was deleted
	// externally while the run was active.
	ErrRunCancelled = errors.New(
		"the loading process was cancelled",
	)
)

// RoleLimitError indicates the remote platform's rolling role-creation
// ceiling was hit. It is a hard external limit, not a transient fault,
// so the run aborts and must not be retried until the window passes.
type RoleLimitError struct{}

func (e *RoleLimitError) Error() string {
	return "hit the platform limit of 250 role creations per rolling 48 hours; " +
		"wait before loading another backup or template"
}

// runFatal reports whether an error must abort the whole run instead
// of being recovered per item. Cancellation of the run context is
// always fatal. A deadline hit by a single remote request is not,
// unless the run context itself has expired; the role-creation path
// maps its own timeout to RoleLimitError before it gets here.
func runFatal(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return true
	}
	var roleLimit *RoleLimitError
	if errors.As(err, &roleLimit) {
		return true
	}
	return errors.Is(err, ErrRunCancelled) || errors.Is(err, ErrRunActive)
}

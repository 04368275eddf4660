// Package remotedelete runs one background worker per account that
// batches IMAP delete requests, adapts its batch size to observed
// failures, and reconciles any message whose remote deletion never
// confirmed. The algorithm — debounced batching, additive-increase/
// subtractive-decrease batch sizing, exponential backoff on rate
// limits, single-delete fallback, and periodic reconciliation — mirrors
// the original remote-delete worker exactly; only the concurrency
// primitives are idiomatic Go (channels and goroutines in place of
// tokio tasks and an mpsc channel).
package remotedelete

import (
	"time"

	"github.com/vivasaayi/PersonalMailClient/internal/account"
)

// Mode overrides the worker's batch/fallback behavior for an account.
type Mode string

const (
	// ModeAuto is the default: a failed batch, rate-limited or not,
	// falls back to per-message deletes.
	ModeAuto Mode = "auto"
	// ModeForceBatch skips the single-delete fallback on a rate-limited
	// batch failure and requeues the whole batch after the cooldown.
	ModeForceBatch Mode = "force-batch"
)

func (m Mode) String() string {
	if m == ModeForceBatch {
		return "force-batch"
	}
	return "auto"
}

// job is one UID queued for deletion under one account's credentials.
type job struct {
	creds account.Credentials
	uid   string
}

// StatusUpdate reports the outcome of one UID's delete attempt.
type StatusUpdate struct {
	UID             string
	RemoteDeletedAt *time.Time
	RemoteError     *string
}

// StatusEvent is emitted on eventbus.TopicRemoteDeleteStatus after every
// worker pass that produced at least one update.
type StatusEvent struct {
	AccountEmail string
	Updates      []StatusUpdate
}

// QueuedEvent is emitted on eventbus.TopicRemoteDeleteQueued whenever new
// UIDs are newly admitted to the pending set (duplicates are absorbed
// silently and never re-emitted).
type QueuedEvent struct {
	AccountEmail string
	UIDs         []string
}

// MetricsEntry is one ring-buffer sample recorded after a batch.
type MetricsEntry struct {
	Timestamp time.Time
	Processed int
	Mode      string
	Pending   int
}

// MetricsSnapshot is the latest recorded state for one account; the
// trailing history travels beside it in MetricsResponse.
type MetricsSnapshot struct {
	AccountEmail  string
	Timestamp     time.Time
	Mode          string
	BatchSize     int
	Processed     int
	Failed        int
	Pending       int
	TotalPending  int
	RatePerMinute float64
	ModeOverride  string
}

// MetricsResponse pairs the latest snapshot with its trailing history,
// emitted on eventbus.TopicRemoteDeleteMetrics.
type MetricsResponse struct {
	AccountEmail string
	Latest       MetricsSnapshot
	History      []MetricsEntry
}

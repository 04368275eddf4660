package storage

import "time"

// SenderStatus is the user-applied classification controlling UI
// surfacing and block-filter moves. It is global across accounts, not
// scoped per account — the design notes record this as intentional,
// preserving the source's behavior rather than guessing otherwise.
type SenderStatus string

const (
	SenderStatusAllowed SenderStatus = "allowed"
	SenderStatusBlocked SenderStatus = "blocked"
	SenderStatusNeutral SenderStatus = "neutral"
)

// Valid reports whether s is one of the three known statuses.
func (s SenderStatus) Valid() bool {
	switch s {
	case SenderStatusAllowed, SenderStatusBlocked, SenderStatusNeutral:
		return true
	default:
		return false
	}
}

// MessageInsert is one row of an upsert_messages batch. Body is nil
// when the caller only has envelope-level data (e.g. fetch_recent);
// Snippet is nil when no body was fetched for this row.
type MessageInsert struct {
	AccountEmail string
	UID          string
	SenderEmail  string
	SenderDisplay string
	Subject      string
	Date         string
	Snippet      *string
	Body         []byte
	Flags        string
}

// Message is the decrypted, fully-projected view of a stored message.
type Message struct {
	ID              int64
	AccountEmail    string
	UID             string
	SenderEmail     string
	SenderDisplay   string
	Subject         string
	Date            string
	Snippet         string
	Body            []byte
	Flags           string
	RemoteDeletedAt *time.Time
	RemoteError     *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// MessageSummary is the projection used by recent_message_summaries:
// envelope fields only, no body.
type MessageSummary struct {
	ID            int64
	AccountEmail  string
	UID           string
	SenderEmail   string
	SenderDisplay string
	Subject       string
	Date          string
	Snippet       string
	Flags         string
	UpdatedAt     time.Time
}

// AnalysisInsert is one row of an upsert_analysis batch, resolved
// against an existing message by (account_email, uid). If no such
// message exists the row is silently skipped.
type AnalysisInsert struct {
	AccountEmail string
	UID          string
	Summary      string
	Sentiment    string
	Categories   []string
	Metadata     map[string]any
	ModelID      string
	Analyzed     bool
	AnalyzedAt   *time.Time
	Confidence   *float64
	Validation   *ValidationRecord
}

// ValidationRecord is the sub-record attached to an Analysis, set when
// a validator model is configured for the run.
type ValidationRecord struct {
	ValidatorModelID string
	Status           string
	Confidence       *float64
	Notes            string
	ValidatedAt      *time.Time
}

// Analysis is one-to-one with Message, deleted by cascade with it.
type Analysis struct {
	MessageID  int64
	Summary    string
	Sentiment  string
	Categories []string
	Metadata   map[string]any
	ModelID    string
	Analyzed   bool
	AnalyzedAt *time.Time
	Confidence *float64
	Validation *ValidationRecord
}

// MessageWithAnalysis pairs a decrypted message with its status and
// analysis (if any), the row shape grouped_messages_for_account builds.
type MessageWithAnalysis struct {
	Message  Message
	Status   SenderStatus
	Analysis *Analysis
}

// SenderGroup is one sender's messages, ordered newest-first within the
// group; groups themselves are ordered by sender_email.
type SenderGroup struct {
	SenderEmail   string
	SenderDisplay string
	Status        SenderStatus
	Messages      []MessageWithAnalysis
}

// AccountSyncState tracks per-account sync watermarks.
type AccountSyncState struct {
	AccountEmail         string
	LastFullSync         *time.Time
	LastIncrementalSync  *time.Time
	LastUID              *string
	TotalMessages        int
}

// PendingRemoteDelete is a message whose local deletion has been
// requested but remote deletion has not been confirmed.
type PendingRemoteDelete struct {
	AccountEmail string
	UID          string
	RemoteError  *string
}

// Account is the persisted mirror of account.Account (provider +
// custom host/port), never carrying a password.
type Account struct {
	Email       string
	Provider    string
	CustomHost  *string
	CustomPort  *int
	DisplayName *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

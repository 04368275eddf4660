// Package config holds the explicit configuration structs threaded into
// every component at construction time. Per the re-architecture note
// against ad-hoc global statics for DB path and master key location, no
// component reads a process-wide singleton; callers (tests, or a future
// command entrypoint) build a Config and pass the relevant slice down.
package config

import "time"

// Config is the root configuration tree for the mail-sync core.
type Config struct {
	DataDir      string
	Storage      StorageConfig
	Sync         SyncConfig
	RemoteDelete RemoteDeleteConfig
	BulkAnalysis BulkAnalysisConfig
}

// StorageConfig configures the encrypted SQLite cache.
type StorageConfig struct {
	// Path is the SQLite database file, e.g. "<DataDir>/mail_cache.db".
	Path string
	// MasterKeyPath is the sibling cipher key file, e.g. "<DataDir>/master.key".
	MasterKeyPath string
	// MaxOpenConns bounds the connection pool; SQLite WAL allows only one
	// writer, so this stays modest.
	MaxOpenConns int
}

// SyncConfig configures the sync engine and periodic scheduler.
type SyncConfig struct {
	// DefaultChunkSize is the UID-FETCH chunk size when the caller does
	// not specify one, clamped to [50, 1000].
	DefaultChunkSize int
	// MaxUIDsPerSearch holds the windowed-search bisection threshold
	// (900). imapclient does not read it; it uses its own constant of the
	// same value.
	MaxUIDsPerSearch int
	// FullSyncEnumerationBatch holds the UID-range batch size used while
	// enumerating every UID up to uid_next-1 in full sync (10000).
	// imapclient does not read it; it uses its own constant of the same
	// value.
	FullSyncEnumerationBatch int
	// PeriodicInterval holds a default interval between incremental
	// syncs (5 minutes). Nothing in the module reads it: the scheduler
	// takes each account's interval from Scheduler.Configure, where zero
	// or less disables periodic sync for that account.
	PeriodicInterval time.Duration
}

// RemoteDeleteConfig configures the per-account delete worker.
type RemoteDeleteConfig struct {
	InitialBatchSize int
	MinBatchSize     int
	MaxBatchSize     int
	BatchGrowthStep  int
	BatchDebounce    time.Duration
	BackoffBase      time.Duration
	BackoffMax       time.Duration
	SingleDeleteGap  time.Duration
	ReconcileEvery   time.Duration
	MetricsHistory   int
	MetricsWindow    time.Duration
}

// BulkAnalysisConfig configures the LLM analysis pipeline defaults.
type BulkAnalysisConfig struct {
	MaxTokens    int
	SnippetLimit int
}

// Default returns a Config populated with the spec's literal constants,
// rooted at dataDir.
func Default(dataDir string) Config {
	return Config{
		DataDir: dataDir,
		Storage: StorageConfig{
			Path:          dataDir + "/mail_cache.db",
			MasterKeyPath: dataDir + "/master.key",
			MaxOpenConns:  8,
		},
		Sync: SyncConfig{
			DefaultChunkSize:         200,
			MaxUIDsPerSearch:         900,
			FullSyncEnumerationBatch: 10000,
			PeriodicInterval:         5 * time.Minute,
		},
		RemoteDelete: RemoteDeleteConfig{
			InitialBatchSize: 15,
			MinBatchSize:     1,
			MaxBatchSize:     15,
			BatchGrowthStep:  4,
			BatchDebounce:    150 * time.Millisecond,
			BackoffBase:      1 * time.Second,
			BackoffMax:       120 * time.Second,
			SingleDeleteGap:  200 * time.Millisecond,
			ReconcileEvery:   45 * time.Second,
			MetricsHistory:   360,
			MetricsWindow:    60 * time.Second,
		},
		BulkAnalysis: BulkAnalysisConfig{
			MaxTokens:    512,
			SnippetLimit: 2048,
		},
	}
}

// Package syncengine drives one account's full, windowed, or incremental
// IMAP sync and persists the result into storage, emitting progress
// events as it goes. It holds no connections of its own: every run
// opens fresh sessions through internal/imapclient and hands batches to
// internal/storage as they arrive.
package syncengine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/vivasaayi/PersonalMailClient/internal/account"
	"github.com/vivasaayi/PersonalMailClient/internal/config"
	"github.com/vivasaayi/PersonalMailClient/internal/eventbus"
	"github.com/vivasaayi/PersonalMailClient/internal/imapclient"
	"github.com/vivasaayi/PersonalMailClient/internal/logging"
	"github.com/vivasaayi/PersonalMailClient/internal/storage"
)

// Mode selects which enumeration strategy Run uses.
type Mode int

const (
	// ModeIncremental enumerates every UID and drops anything at or
	// below the account's watermark; an empty result is a no-op.
	ModeIncremental Mode = iota
	// ModeFull enumerates every UID up to uid_next-1 in large batches,
	// ignoring any existing watermark.
	ModeFull
	// ModeWindowed bisects a date range instead of a UID range, for
	// servers with a capped SEARCH result size.
	ModeWindowed
)

func (m Mode) String() string {
	switch m {
	case ModeIncremental:
		return "incremental"
	case ModeFull:
		return "full"
	case ModeWindowed:
		return "windowed"
	default:
		return "unknown"
	}
}

// RunOptions parameterizes one Run call.
type RunOptions struct {
	Mode Mode
	// Window is required when Mode == ModeWindowed.
	Window *imapclient.SyncWindow
	// ChunkSize overrides the engine's configured default chunk size
	// when positive.
	ChunkSize int
}

// Result summarizes one completed sync run.
type Result struct {
	AccountEmail string
	Mode         Mode
	Batches      int
	FetchedTotal int
	StoredTotal  int
	LastUID      string
	Elapsed      time.Duration
}

// ProgressEvent is the public progress payload emitted on
// eventbus.TopicFullSyncProgress, matching the sync state machine's
// progress contract.
type ProgressEvent struct {
	Email        string `json:"email"`
	Batch        int    `json:"batch"`
	TotalBatches int    `json:"totalBatches"`
	FetchedTotal int    `json:"fetchedTotal"`
	StoredTotal  int    `json:"storedTotal"`
	ElapsedMs    int64  `json:"elapsedMs"`
}

// fetchAllFunc matches imapclient.FetchAll's signature; Engine calls
// through this indirection so tests can substitute a fake IMAP session
// without dialing a real server.
type fetchAllFunc func(ctx context.Context, creds account.Credentials, sinceUID string, chunkSize int, window *imapclient.SyncWindow) (<-chan imapclient.BatchResult, <-chan error)

// Engine runs sync operations against one storage instance, emitting
// progress on one event sink.
type Engine struct {
	store    *storage.Store
	sink     eventbus.Sink
	cfg      config.SyncConfig
	log      zerolog.Logger
	fetchAll fetchAllFunc
}

// New builds an Engine. sink may be a *eventbus.LogSink if the caller
// has no richer progress consumer.
func New(store *storage.Store, sink eventbus.Sink, cfg config.SyncConfig) *Engine {
	return &Engine{
		store:    store,
		sink:     sink,
		cfg:      cfg,
		log:      logging.WithComponent("syncengine"),
		fetchAll: imapclient.FetchAll,
	}
}

// Run executes the state machine described in the sync engine design:
// Connect → Authenticate → Select → Enumerate → (per chunk) Fetch →
// Emit batch → Logout → Persist sync state.
func (e *Engine) Run(ctx context.Context, creds account.Credentials, opts RunOptions) (*Result, error) {
	start := time.Now()
	email := creds.Account.Email

	if opts.Mode == ModeWindowed && opts.Window == nil {
		return nil, fmt.Errorf("syncengine: windowed mode requires a window")
	}

	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = e.cfg.DefaultChunkSize
	}

	var sinceUID string
	if opts.Mode == ModeIncremental {
		uid, found, err := e.store.LatestUIDForAccount(email)
		if err != nil {
			return nil, fmt.Errorf("load watermark: %w", err)
		}
		if found {
			sinceUID = uid
		}
	}

	var window *imapclient.SyncWindow
	if opts.Mode == ModeWindowed {
		window = opts.Window
	}

	results, errCh := e.fetchAll(ctx, creds, sinceUID, chunkSize, window)

	var (
		batches      int
		fetchedTotal int
		storedTotal  int
		maxUID       uint64
	)
	hadExistingMax := false
	if sinceUID != "" {
		if parsed, err := strconv.ParseUint(sinceUID, 10, 64); err == nil {
			maxUID = parsed
			hadExistingMax = true
		}
	}

	for batch := range results {
		batches++
		fetchedTotal += batch.Fetched

		inserts := make([]storage.MessageInsert, 0, len(batch.Messages))
		for _, msg := range batch.Messages {
			inserts = append(inserts, toMessageInsert(email, msg))
			if uidNum, err := strconv.ParseUint(msg.UID, 10, 64); err == nil {
				if !hadExistingMax || uidNum > maxUID {
					maxUID = uidNum
					hadExistingMax = true
				}
			}
		}

		if len(inserts) > 0 {
			if err := e.store.UpsertMessages(inserts); err != nil {
				return nil, fmt.Errorf("persist batch %d: %w", batch.Index, err)
			}
			storedTotal += len(inserts)
		}

		e.sink.Emit(eventbus.TopicFullSyncProgress, ProgressEvent{
			Email:        email,
			Batch:        batch.Index,
			TotalBatches: batch.Total,
			FetchedTotal: fetchedTotal,
			StoredTotal:  storedTotal,
			ElapsedMs:    time.Since(start).Milliseconds(),
		})
	}

	if err := <-errCh; err != nil {
		return nil, err
	}

	lastUID := ""
	if hadExistingMax {
		lastUID = strconv.FormatUint(maxUID, 10)
	}

	isFull := opts.Mode != ModeIncremental
	var uidPtr *string
	if lastUID != "" {
		uidPtr = &lastUID
	}
	if err := e.store.UpdateSyncState(email, uidPtr, isFull, storedTotal); err != nil {
		return nil, fmt.Errorf("persist sync state: %w", err)
	}

	e.log.Info().
		Str("account", email).
		Str("mode", opts.Mode.String()).
		Int("batches", batches).
		Int("fetched", fetchedTotal).
		Int("stored", storedTotal).
		Dur("elapsed", time.Since(start)).
		Msg("sync run complete")

	return &Result{
		AccountEmail: email,
		Mode:         opts.Mode,
		Batches:      batches,
		FetchedTotal: fetchedTotal,
		StoredTotal:  storedTotal,
		LastUID:      lastUID,
		Elapsed:      time.Since(start),
	}, nil
}

func toMessageInsert(accountEmail string, msg imapclient.MessageEnvelope) storage.MessageInsert {
	var snippet *string
	if msg.Snippet != "" {
		s := msg.Snippet
		snippet = &s
	}

	flags := ""
	for i, f := range msg.Flags {
		if i > 0 {
			flags += " "
		}
		flags += f
	}

	return storage.MessageInsert{
		AccountEmail:  accountEmail,
		UID:           msg.UID,
		SenderEmail:   msg.SenderEmail,
		SenderDisplay: msg.SenderDisplay,
		Subject:       msg.Subject,
		Date:          msg.Date.Format(time.RFC3339),
		Snippet:       snippet,
		Flags:         flags,
	}
}

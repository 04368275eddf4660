package remotedelete

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vivasaayi/PersonalMailClient/internal/account"
	"github.com/vivasaayi/PersonalMailClient/internal/config"
	"github.com/vivasaayi/PersonalMailClient/internal/eventbus"
	"github.com/vivasaayi/PersonalMailClient/internal/imapclient"
	"github.com/vivasaayi/PersonalMailClient/internal/logging"
	"github.com/vivasaayi/PersonalMailClient/internal/storage"
)

// deleteBatchFunc matches imapclient.DeleteMessages; overridable in
// tests.
type deleteBatchFunc func(ctx context.Context, creds account.Credentials, uids []string) error

// deleteSingleFunc matches imapclient.DeleteMessage; overridable in
// tests.
type deleteSingleFunc func(ctx context.Context, creds account.Credentials, uid string) error

// Manager owns one worker goroutine and one reconciliation goroutine per
// account with at least one pending delete.
type Manager struct {
	store *storage.Store
	sink  eventbus.Sink
	cfg   config.RemoteDeleteConfig
	log   zerolog.Logger

	deleteBatch  deleteBatchFunc
	deleteSingle deleteSingleFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	workers     map[string]chan job
	pending     map[string]map[string]struct{}
	credentials map[string]account.Credentials
	overrides   map[string]Mode
	reconcile   map[string]context.CancelFunc
	metrics     map[string]*metricsState
}

type metricsState struct {
	history []MetricsEntry
	last    *MetricsSnapshot
}

// NewManager builds a Manager. The background context is independent of
// any single request; call Stop to shut every worker down cleanly.
func NewManager(store *storage.Store, sink eventbus.Sink, cfg config.RemoteDeleteConfig) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:        store,
		sink:         sink,
		cfg:          cfg,
		log:          logging.WithComponent("remotedelete"),
		deleteBatch:  imapclient.DeleteMessages,
		deleteSingle: imapclient.DeleteMessage,
		ctx:          ctx,
		cancel:       cancel,
		workers:      make(map[string]chan job),
		pending:      make(map[string]map[string]struct{}),
		credentials:  make(map[string]account.Credentials),
		overrides:    make(map[string]Mode),
		reconcile:    make(map[string]context.CancelFunc),
		metrics:      make(map[string]*metricsState),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Enqueue admits uid into account_email's pending set (a no-op if
// already pending) and starts its worker/reconciler if not running.
func (m *Manager) Enqueue(creds account.Credentials, uid string) {
	m.EnqueueMany(creds, []string{uid})
}

// EnqueueMany admits a batch of UIDs; duplicates against the in-memory
// pending set are silently dropped.
func (m *Manager) EnqueueMany(creds account.Credentials, uids []string) {
	email := normalizeEmail(creds.Account.Email)
	newItems := m.enqueueInternal(email, creds, uids)
	if len(newItems) > 0 {
		m.sink.Emit(eventbus.TopicRemoteDeleteQueued, QueuedEvent{AccountEmail: email, UIDs: newItems})
	}
	m.ensureReconciler(email)
}

func (m *Manager) enqueueInternal(email string, creds account.Credentials, uids []string) []string {
	filtered := make([]string, 0, len(uids))
	for _, uid := range uids {
		if strings.TrimSpace(uid) != "" {
			filtered = append(filtered, uid)
		}
	}
	if len(filtered) == 0 {
		return nil
	}

	m.mu.Lock()
	m.credentials[email] = creds
	set, ok := m.pending[email]
	if !ok {
		set = make(map[string]struct{})
		m.pending[email] = set
	}
	newItems := make([]string, 0, len(filtered))
	for _, uid := range filtered {
		if _, exists := set[uid]; !exists {
			set[uid] = struct{}{}
			newItems = append(newItems, uid)
		}
	}
	ch := m.ensureWorkerLocked(email)
	m.mu.Unlock()

	if len(newItems) == 0 {
		return nil
	}

	for _, uid := range newItems {
		select {
		case ch <- job{creds: creds, uid: uid}:
		case <-m.ctx.Done():
			return nil
		}
	}
	return newItems
}

func (m *Manager) ensureWorkerLocked(email string) chan job {
	if ch, ok := m.workers[email]; ok {
		return ch
	}
	ch := make(chan job, 256)
	m.workers[email] = ch
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runWorker(m.ctx, email, ch)
	}()
	return ch
}

func (m *Manager) clearPendingMany(email string, uids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.pending[email]
	if !ok {
		return
	}
	for _, uid := range uids {
		delete(set, uid)
	}
	if len(set) == 0 {
		delete(m.pending, email)
	}
}

func (m *Manager) pendingCount(email string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending[email])
}

func (m *Manager) modeOverride(email string) Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.overrides[email]
}

// SetMode overrides an account's batch/fallback behavior and ensures its
// reconciler is running. The worker itself starts on the first enqueue.
func (m *Manager) SetMode(email string, mode Mode) {
	email = normalizeEmail(email)
	m.mu.Lock()
	if mode == ModeAuto {
		delete(m.overrides, email)
	} else {
		m.overrides[email] = mode
	}
	m.mu.Unlock()
	m.ensureReconciler(email)
}

// ResumeAccount loads this account's persisted pending rows, clears any
// transient error so they retry, skips permanent failures, and
// re-enqueues the rest. Called once per known account at startup.
func (m *Manager) ResumeAccount(creds account.Credentials) error {
	email := normalizeEmail(creds.Account.Email)

	m.mu.Lock()
	m.credentials[email] = creds
	delete(m.overrides, email)
	m.mu.Unlock()

	rows, err := m.store.PendingRemoteDeletes(email, m.cfg.MaxBatchSize*10)
	if err != nil {
		return err
	}

	var retryUIDs []string
	for _, row := range rows {
		if isPermanent(row.RemoteError) {
			continue
		}
		if row.RemoteError != nil {
			if err := m.store.ClearRemoteError(email, row.UID); err != nil {
				m.log.Warn().Err(err).Str("account", email).Str("uid", row.UID).
					Msg("failed to clear remote delete error before retry")
				continue
			}
		}
		retryUIDs = append(retryUIDs, row.UID)
	}

	if len(retryUIDs) > 0 {
		newItems := m.enqueueInternal(email, creds, retryUIDs)
		if len(newItems) > 0 {
			m.sink.Emit(eventbus.TopicRemoteDeleteQueued, QueuedEvent{AccountEmail: email, UIDs: newItems})
		}
	}

	m.ensureReconciler(email)
	return nil
}

func isPermanent(remoteError *string) bool {
	if remoteError == nil {
		return false
	}
	lowered := strings.ToLower(*remoteError)
	for _, marker := range []string{"no such message", "not found", "already expunged", "invalid uid"} {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

// Metrics returns the latest snapshot and history for an account,
// refreshed with the current in-memory pending count.
func (m *Manager) Metrics(email string) MetricsResponse {
	email = normalizeEmail(email)

	m.mu.Lock()
	state, ok := m.metrics[email]
	var latest MetricsSnapshot
	var history []MetricsEntry
	if ok {
		if state.last != nil {
			latest = *state.last
		} else {
			latest = emptySnapshot(email)
		}
		history = append(history, state.history...)
	} else {
		latest = emptySnapshot(email)
	}
	m.mu.Unlock()

	latest.Pending = m.pendingCount(email)
	if total, err := m.store.CountPendingRemoteDeletes(email); err == nil {
		latest.TotalPending = total
	}

	return MetricsResponse{AccountEmail: email, Latest: latest, History: history}
}

func emptySnapshot(email string) MetricsSnapshot {
	return MetricsSnapshot{
		AccountEmail: email,
		Timestamp:    time.Now().UTC(),
		Mode:         "idle",
		ModeOverride: ModeAuto.String(),
	}
}

// Stop cancels every running worker and reconciler and waits for them to
// exit.
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
}

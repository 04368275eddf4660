package remotedelete

import (
	"context"
	"time"

	"github.com/vivasaayi/PersonalMailClient/internal/eventbus"
)

// ensureReconciler starts the durable reconciliation loop for email if
// one is not already running.
func (m *Manager) ensureReconciler(email string) {
	m.mu.Lock()
	if _, ok := m.reconcile[email]; ok {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(m.ctx)
	m.reconcile[email] = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.reconciliationLoop(ctx, email)
	}()
}

// reconciliationLoop ticks every ReconcileEvery and re-enqueues any
// pending row whose remote_error is null or transient, classifying
// "no such message / not found / already expunged / invalid uid" as
// permanent and skipping it.
func (m *Manager) reconciliationLoop(ctx context.Context, email string) {
	ticker := time.NewTicker(m.cfg.ReconcileEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reconcileOnce(email)
		}
	}
}

func (m *Manager) reconcileOnce(email string) {
	m.mu.Lock()
	creds, ok := m.credentials[email]
	m.mu.Unlock()
	if !ok {
		return
	}

	rows, err := m.store.PendingRemoteDeletes(email, m.cfg.MaxBatchSize*10)
	if err != nil {
		m.log.Warn().Err(err).Str("account", email).Msg("failed to load pending remote deletes during reconciliation")
		return
	}
	if len(rows) == 0 {
		return
	}

	var retryUIDs []string
	for _, row := range rows {
		if isPermanent(row.RemoteError) {
			continue
		}
		if row.RemoteError != nil {
			if err := m.store.ClearRemoteError(email, row.UID); err != nil {
				m.log.Warn().Err(err).Str("account", email).Str("uid", row.UID).
					Msg("failed to clear remote delete error before reconciliation")
				continue
			}
		}
		retryUIDs = append(retryUIDs, row.UID)
	}

	if len(retryUIDs) == 0 {
		return
	}

	newItems := m.enqueueInternal(email, creds, retryUIDs)
	if len(newItems) > 0 {
		m.sink.Emit(eventbus.TopicRemoteDeleteQueued, QueuedEvent{AccountEmail: email, UIDs: newItems})
	}
}

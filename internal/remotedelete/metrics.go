package remotedelete

import (
	"time"

	"github.com/vivasaayi/PersonalMailClient/internal/eventbus"
)

// recordMetrics appends one ring-buffer entry (capped at
// cfg.MetricsHistory), recomputes the trailing rate, and emits one
// metrics snapshot event.
func (m *Manager) recordMetrics(email, mode string, batchSize, processed, failed, pending int, override Mode) {
	now := time.Now().UTC()

	totalPending, err := m.store.CountPendingRemoteDeletes(email)
	if err != nil {
		m.log.Warn().Err(err).Str("account", email).Msg("failed to count pending remote deletes")
		totalPending = pending
	}

	m.mu.Lock()
	state, ok := m.metrics[email]
	if !ok {
		state = &metricsState{}
		m.metrics[email] = state
	}

	state.history = append(state.history, MetricsEntry{Timestamp: now, Processed: processed, Mode: mode, Pending: pending})
	if len(state.history) > m.cfg.MetricsHistory {
		state.history = state.history[len(state.history)-m.cfg.MetricsHistory:]
	}

	processedWindow := 0
	earliest := now
	for i := len(state.history) - 1; i >= 0; i-- {
		entry := state.history[i]
		if now.Sub(entry.Timestamp) <= m.cfg.MetricsWindow {
			processedWindow += entry.Processed
			earliest = entry.Timestamp
		} else {
			break
		}
	}
	elapsed := now.Sub(earliest)
	if elapsed <= 0 {
		elapsed = time.Second
	}
	rate := 0.0
	if processedWindow > 0 {
		rate = float64(processedWindow) * 60.0 / elapsed.Seconds()
	}

	snapshot := MetricsSnapshot{
		AccountEmail:  email,
		Timestamp:     now,
		Mode:          mode,
		BatchSize:     batchSize,
		Processed:     processed,
		Failed:        failed,
		Pending:       pending,
		TotalPending:  totalPending,
		RatePerMinute: rate,
		ModeOverride:  override.String(),
	}
	state.last = &snapshot
	history := append([]MetricsEntry(nil), state.history...)
	m.mu.Unlock()

	m.sink.Emit(eventbus.TopicRemoteDeleteMetrics, MetricsResponse{
		AccountEmail: email,
		Latest:       snapshot,
		History:      history,
	})
}

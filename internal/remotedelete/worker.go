package remotedelete

import (
	"context"
	"time"

	"github.com/vivasaayi/PersonalMailClient/internal/eventbus"
	"github.com/vivasaayi/PersonalMailClient/internal/providererror"
)

// runWorker is the per-account batching loop: block for the next job,
// then keep pulling jobs with a debounce window until the batch is full
// or the debounce timer expires, then execute one attempt.
func (m *Manager) runWorker(ctx context.Context, email string, jobs chan job) {
	currentBatchSize := m.cfg.InitialBatchSize
	var cooldownUntil time.Time
	consecutiveFailures := 0

	for {
		var first job
		select {
		case j, ok := <-jobs:
			if !ok {
				return
			}
			first = j
		case <-ctx.Done():
			return
		}

		if !cooldownUntil.IsZero() {
			if !sleepUntil(ctx, cooldownUntil) {
				return
			}
		}

		overrideMode := m.modeOverride(email)
		forceBatch := overrideMode == ModeForceBatch

		batch := []job{first}
		batch = m.fillBatch(ctx, jobs, batch, currentBatchSize)

		uids := make([]string, 0, len(batch))
		for _, j := range batch {
			uids = append(uids, j.uid)
		}
		creds := batch[len(batch)-1].creds
		batchSizeExecuted := len(batch)

		err := m.deleteBatch(ctx, creds, uids)

		var updates []StatusUpdate
		usedSingleFallback := false
		encounteredRateLimit := false

		if err == nil {
			consecutiveFailures = 0
			cooldownUntil = time.Time{}
			currentBatchSize = minInt(currentBatchSize+m.cfg.BatchGrowthStep, m.cfg.MaxBatchSize)

			now := time.Now().UTC()
			for _, uid := range uids {
				if markErr := m.store.MarkDeletedRemote(email, uid, &now, nil); markErr != nil {
					m.log.Error().Err(markErr).Str("account", email).Str("uid", uid).
						Msg("failed to mark remote delete success")
					continue
				}
				updates = append(updates, StatusUpdate{UID: uid, RemoteDeletedAt: &now})
			}
		} else {
			rateLimited := providererror.IsRateLimited(err)
			encounteredRateLimit = rateLimited
			consecutiveFailures++
			currentBatchSize = maxInt(currentBatchSize-m.cfg.BatchGrowthStep, m.cfg.MinBatchSize)

			if rateLimited {
				backoff := computeBackoff(consecutiveFailures, m.cfg.BackoffBase, m.cfg.BackoffMax)
				cooldownUntil = time.Now().Add(backoff)
				m.log.Warn().Str("account", email).Dur("backoff", backoff).Int("size", len(uids)).
					Msg("rate limit encountered during batch delete")
			} else {
				m.log.Warn().Str("account", email).Int("size", len(uids)).Err(err).
					Msg("batched remote delete failed; falling back to per-message deletes")
			}

			if rateLimited && forceBatch {
				if !sleepUntil(ctx, cooldownUntil) {
					return
				}
				requeue := append([]job(nil), batch...)
				go func() {
					for _, j := range requeue {
						select {
						case jobs <- j:
						case <-ctx.Done():
							return
						}
					}
				}()

				pending := m.pendingCount(email)
				m.recordMetrics(email, "batch-rate-limit", currentBatchSize, 0, 0, pending, overrideMode)
				continue
			}

			for _, j := range batch {
				if !cooldownUntil.IsZero() {
					if !sleepUntil(ctx, cooldownUntil) {
						return
					}
					cooldownUntil = time.Time{}
				}

				singleErr := m.deleteSingle(ctx, j.creds, j.uid)
				if rateLimited {
					if !sleepDuration(ctx, m.cfg.SingleDeleteGap) {
						return
					}
				}

				if singleErr == nil {
					now := time.Now().UTC()
					if markErr := m.store.MarkDeletedRemote(email, j.uid, &now, nil); markErr != nil {
						m.log.Error().Err(markErr).Str("account", email).Str("uid", j.uid).
							Msg("failed to mark remote delete success (fallback)")
						continue
					}
					updates = append(updates, StatusUpdate{UID: j.uid, RemoteDeletedAt: &now})
				} else {
					message := singleErr.Error()
					if markErr := m.store.MarkDeletedRemote(email, j.uid, nil, &message); markErr != nil {
						m.log.Error().Err(markErr).Str("account", email).Str("uid", j.uid).
							Msg("failed to mark remote delete error")
						continue
					}
					updates = append(updates, StatusUpdate{UID: j.uid, RemoteError: &message})
				}

				usedSingleFallback = true
			}

			if rateLimited {
				cooldownUntil = time.Now().Add(computeBackoff(consecutiveFailures, m.cfg.BackoffBase, m.cfg.BackoffMax))
			}
		}

		successCount := 0
		for _, u := range updates {
			if u.RemoteDeletedAt != nil {
				successCount++
			}
		}
		failedCount := len(updates) - successCount

		if len(updates) > 0 {
			m.sink.Emit(eventbus.TopicRemoteDeleteStatus, StatusEvent{AccountEmail: email, Updates: updates})
		}

		m.clearPendingMany(email, uids)
		pending := m.pendingCount(email)

		modeLabel, metricsBatchSize := classifyOutcome(usedSingleFallback, batchSizeExecuted, successCount, failedCount, encounteredRateLimit)
		m.recordMetrics(email, modeLabel, metricsBatchSize, successCount, failedCount, pending, overrideMode)
	}
}

// fillBatch pulls additional jobs with a per-item debounce window until
// the batch reaches targetSize or the debounce window expires.
func (m *Manager) fillBatch(ctx context.Context, jobs chan job, batch []job, targetSize int) []job {
	timer := time.NewTimer(m.cfg.BatchDebounce)
	defer timer.Stop()

	for len(batch) < targetSize {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(m.cfg.BatchDebounce)

		select {
		case j, ok := <-jobs:
			if !ok {
				return batch
			}
			batch = append(batch, j)
		case <-timer.C:
			return batch
		case <-ctx.Done():
			return batch
		}
	}
	return batch
}

func classifyOutcome(usedSingleFallback bool, batchSizeExecuted, successCount, failedCount int, encounteredRateLimit bool) (string, int) {
	switch {
	case usedSingleFallback && successCount > 0 && failedCount == 0:
		return "single", 1
	case usedSingleFallback && successCount > 0:
		return "single-mixed", 1
	case usedSingleFallback:
		return "single-failed", 1
	case batchSizeExecuted > 1 && failedCount == 0:
		return "batch", batchSizeExecuted
	case batchSizeExecuted > 1:
		return "batch-mixed", batchSizeExecuted
	case successCount > 0:
		return "single", 1
	case encounteredRateLimit:
		return "batch-rate-limit", batchSizeExecuted
	case failedCount > 0:
		return "single-failed", 1
	default:
		return "idle", batchSizeExecuted
	}
}

func computeBackoff(consecutiveFailures int, base, max time.Duration) time.Duration {
	exponent := consecutiveFailures
	if exponent > 6 {
		exponent = 6
	}
	backoff := base * time.Duration(int64(1)<<uint(exponent))
	if backoff > max {
		return max
	}
	return backoff
}

func sleepUntil(ctx context.Context, until time.Time) bool {
	d := time.Until(until)
	if d <= 0 {
		return true
	}
	return sleepDuration(ctx, d)
}

func sleepDuration(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

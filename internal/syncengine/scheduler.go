package syncengine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vivasaayi/PersonalMailClient/internal/account"
	"github.com/vivasaayi/PersonalMailClient/internal/logging"
)

// CredentialsLookup resolves an account email to its credentials,
// satisfied by the account registry. ok is false if the account is not
// (or no longer) connected.
type CredentialsLookup func(email string) (account.Credentials, bool)

// CompletionCallback is invoked after every scheduled run, successful or
// not, so a caller can clear UI progress state or log a failure.
type CompletionCallback func(email string, result *Result, err error)

// Scheduler runs one cancellable periodic incremental-sync task per
// account. Reconfiguring an account's interval cancels its prior task
// deterministically before starting the replacement.
type Scheduler struct {
	engine      *Engine
	credentials CredentialsLookup
	onComplete  CompletionCallback
	log         zerolog.Logger

	mu    sync.Mutex
	tasks map[string]*scheduledTask
}

type scheduledTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler builds a Scheduler bound to engine. credentials is
// typically the account registry's lookup method.
func NewScheduler(engine *Engine, credentials CredentialsLookup) *Scheduler {
	return &Scheduler{
		engine:      engine,
		credentials: credentials,
		log:         logging.WithComponent("syncengine-scheduler"),
		tasks:       make(map[string]*scheduledTask),
	}
}

// SetCompletionCallback sets the callback invoked after every run.
func (s *Scheduler) SetCompletionCallback(cb CompletionCallback) {
	s.onComplete = cb
}

// Configure starts (or replaces) the periodic task for email with the
// given interval. An interval of zero or less cancels any existing task
// and leaves the account on manual-sync-only.
func (s *Scheduler) Configure(email string, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked(email)

	if interval <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	task := &scheduledTask{cancel: cancel, done: make(chan struct{})}
	s.tasks[email] = task

	go s.run(ctx, email, interval, task.done)
}

// Cancel stops the periodic task for email, if any.
func (s *Scheduler) Cancel(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(email)
}

func (s *Scheduler) cancelLocked(email string) {
	if existing, ok := s.tasks[email]; ok {
		existing.cancel()
		<-existing.done
		delete(s.tasks, email)
	}
}

// StopAll cancels every running periodic task, for clean shutdown.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	emails := make([]string, 0, len(s.tasks))
	for email := range s.tasks {
		emails = append(emails, email)
	}
	s.mu.Unlock()

	for _, email := range emails {
		s.Cancel(email)
	}
}

func (s *Scheduler) run(ctx context.Context, email string, interval time.Duration, done chan struct{}) {
	defer close(done)

	s.tick(ctx, email)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, email)
			// Discard a tick that fired while the run was in flight, so it
			// is skipped rather than run as an immediate catch-up.
			select {
			case <-ticker.C:
			default:
			}
		}
	}
}

// tick runs one incremental sync for email. Ticks that fire while a run
// is in flight are discarded by run, not queued for a catch-up run.
func (s *Scheduler) tick(ctx context.Context, email string) {
	if ctx.Err() != nil {
		return
	}

	creds, ok := s.credentials(email)
	if !ok {
		s.log.Debug().Str("account", email).Msg("skipping tick, account not connected")
		return
	}

	result, err := s.engine.Run(ctx, creds, RunOptions{Mode: ModeIncremental})
	if err != nil {
		if ctx.Err() == nil {
			s.log.Error().Err(err).Str("account", email).Msg("periodic sync failed")
		}
	}

	if s.onComplete != nil {
		s.onComplete(email, result, err)
	}
}

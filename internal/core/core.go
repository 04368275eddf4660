// Package core wires the eight components (cipher, storage, IMAP
// client, sync engine, remote-delete queue, bulk-analysis pipeline,
// account registry, event bus) into one headless runtime, the way
// app.App wires the teacher's stores and engines together — but scoped
// to this module's components rather than the teacher's full desktop
// surface.
package core

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/vivasaayi/PersonalMailClient/internal/account"
	"github.com/vivasaayi/PersonalMailClient/internal/accountregistry"
	"github.com/vivasaayi/PersonalMailClient/internal/bulkanalysis"
	"github.com/vivasaayi/PersonalMailClient/internal/config"
	"github.com/vivasaayi/PersonalMailClient/internal/eventbus"
	"github.com/vivasaayi/PersonalMailClient/internal/logging"
	"github.com/vivasaayi/PersonalMailClient/internal/remotedelete"
	"github.com/vivasaayi/PersonalMailClient/internal/storage"
	"github.com/vivasaayi/PersonalMailClient/internal/syncengine"
)

// Core holds every long-lived component for one process. Callers (a
// CLI entrypoint, a future RPC wrapper) construct one Core and drive it
// through its component fields; Core itself has no business logic.
type Core struct {
	Config  config.Config
	Sink    eventbus.Sink
	Store   *storage.Store
	Sync    *syncengine.Engine
	Sched   *syncengine.Scheduler
	Remote  *remotedelete.Manager
	Bulk    *bulkanalysis.Pipeline
	Account *accountregistry.Registry

	log zerolog.Logger
}

// LLMConfig configures the optional bulk-analysis LLM worker. If
// BaseURL is empty, Core.Bulk is left nil — bulk analysis is opt-in.
type LLMConfig struct {
	BaseURL string
	Model   string
}

// Open builds and wires every component against cfg. It does not start
// the scheduler or any background loops; callers do that explicitly per
// account via Account.ConfigurePeriodicSync and Remote.ResumeAccount.
func Open(cfg config.Config, sink eventbus.Sink, llm LLMConfig) (*Core, error) {
	logging.Init(zerolog.InfoLevel, "")
	log := logging.WithComponent("core")

	if sink == nil {
		sink = eventbus.NewLogSink(log)
	}

	store, err := storage.Open(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	credSink, err := accountregistry.NewKeyringCredentialSink(store, cfg.Storage.MasterKeyPath)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open credential sink: %w", err)
	}

	// registry and scheduler are mutually referential (the scheduler
	// looks up credentials through the registry, the registry
	// reconfigures periodic sync through the scheduler), so the lookup
	// closure captures registry by reference and resolves it once both
	// are constructed below.
	var registry *accountregistry.Registry
	syncEngine := syncengine.New(store, sink, cfg.Sync)
	scheduler := syncengine.NewScheduler(syncEngine, func(email string) (account.Credentials, bool) {
		return registry.Credentials(email)
	})
	registry = accountregistry.New(store, credSink, scheduler)

	remoteManager := remotedelete.NewManager(store, sink, cfg.RemoteDelete)

	var pipeline *bulkanalysis.Pipeline
	if llm.BaseURL != "" {
		completer := bulkanalysis.NewHTTPCompleter(llm.BaseURL, llm.Model)
		pipeline = bulkanalysis.NewPipeline(store, sink, completer, cfg.BulkAnalysis)
	}

	return &Core{
		Config:  cfg,
		Sink:    sink,
		Store:   store,
		Sync:    syncEngine,
		Sched:   scheduler,
		Remote:  remoteManager,
		Bulk:    pipeline,
		Account: registry,
		log:     log,
	}, nil
}

// Close stops background work and releases the storage connection.
func (c *Core) Close() error {
	c.Sched.StopAll()
	c.Remote.Stop()
	return c.Store.Close()
}

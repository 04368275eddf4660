package bulkanalysis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vivasaayi/PersonalMailClient/internal/config"
	"github.com/vivasaayi/PersonalMailClient/internal/eventbus"
	"github.com/vivasaayi/PersonalMailClient/internal/logging"
	"github.com/vivasaayi/PersonalMailClient/internal/storage"
)

// targetLoaderFunc matches storage.Store.MessagesWithAnalysisForAccount;
// overridable in tests.
type targetLoaderFunc func(accountEmail string) ([]storage.MessageWithAnalysis, error)

// upsertFunc matches storage.Store.UpsertAnalysis; overridable in tests.
type upsertFunc func(batch []storage.AnalysisInsert) error

// Pipeline runs the bulk-analysis pass for one account at a time.
type Pipeline struct {
	store     *storage.Store
	sink      eventbus.Sink
	completer Completer
	cfg       config.BulkAnalysisConfig
	log       zerolog.Logger

	loadTargets targetLoaderFunc
	upsert      upsertFunc
}

// NewPipeline builds a Pipeline. completer is the external LLM worker
// collaborator; the pipeline never constructs one itself.
func NewPipeline(store *storage.Store, sink eventbus.Sink, completer Completer, cfg config.BulkAnalysisConfig) *Pipeline {
	return &Pipeline{
		store:       store,
		sink:        sink,
		completer:   completer,
		cfg:         cfg,
		log:         logging.WithComponent("bulkanalysis"),
		loadTargets: store.MessagesWithAnalysisForAccount,
		upsert:      store.UpsertAnalysis,
	}
}

// Run processes one account's work queue: every message, or only
// unanalyzed ones unless opts.Force, sequentially newest-first.
func (p *Pipeline) Run(ctx context.Context, accountEmail string, opts Options) (*Result, error) {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = p.cfg.MaxTokens
	}
	if opts.SnippetLimit <= 0 {
		opts.SnippetLimit = p.cfg.SnippetLimit
	}
	opts = opts.withDefaults()

	runID := uuid.NewString()
	start := time.Now()

	rows, err := p.loadTargets(accountEmail)
	if err != nil {
		return nil, fmt.Errorf("load analysis targets: %w", err)
	}

	var targets []storage.MessageWithAnalysis
	skipped := 0
	for _, row := range rows {
		if !opts.Force && row.Analysis != nil && row.Analysis.Analyzed {
			skipped++
			continue
		}
		targets = append(targets, row)
	}

	p.sink.Emit(eventbus.TopicBulkAnalysisProgress, StartedEvent{
		RunID:        runID,
		AccountEmail: accountEmail,
		TotalTargets: len(targets),
		Skipped:      skipped,
	})

	processed, errored := 0, 0
	for i, row := range targets {
		p.processOne(ctx, runID, accountEmail, row, opts, i+1, len(targets), &processed, &errored)
	}

	elapsed := time.Since(start)
	p.sink.Emit(eventbus.TopicBulkAnalysisProgress, CompletedEvent{
		RunID:        runID,
		AccountEmail: accountEmail,
		Processed:    processed,
		Errored:      errored,
		Skipped:      skipped,
		ElapsedMs:    elapsed.Milliseconds(),
	})

	return &Result{RunID: runID, Processed: processed, Errored: errored, Skipped: skipped, Elapsed: elapsed}, nil
}

func (p *Pipeline) processOne(ctx context.Context, runID, accountEmail string, row storage.MessageWithAnalysis, opts Options, index, total int, processed, errored *int) {
	emitError := func(stage MessageStage, err error) {
		*errored++
		p.log.Warn().Err(err).Str("account", accountEmail).Str("uid", row.Message.UID).Str("stage", string(stage)).Msg("bulk analysis step failed")
		p.sink.Emit(eventbus.TopicBulkAnalysisProgress, MessageEvent{
			RunID: runID, AccountEmail: accountEmail, UID: row.Message.UID,
			Status: StatusError, Stage: stage, Error: err.Error(),
			Processed: index, Total: total,
		})
	}

	prompt := buildPrompt(row.Message, opts.AllowedTags, opts.SnippetLimit)

	raw, err := p.completer.Complete(ctx, prompt, opts.MaxTokens)
	if err != nil {
		emitError(StageLLM, err)
		return
	}

	parsed, err := parseModelOutput(raw)
	if err != nil {
		emitError(StageParse, err)
		return
	}

	norm := normalizeOutput(parsed, opts.AllowedTags)

	metadata := map[string]any{
		"version":       1,
		"sentiment":     nullIfEmpty(norm.Sentiment),
		"priority":      nullIfEmpty(norm.Priority),
		"actionability": nullIfEmpty(norm.Actionability),
		"risk":          nullIfEmpty(norm.Risk),
		"source_type":   nullIfEmpty(norm.SourceType),
		"thread_role":   nullIfEmpty(norm.ThreadRole),
		"lifecycle":     nullIfEmpty(norm.Lifecycle),
		"raw_output":    raw,
		"run_id":        runID,
		"account_email": accountEmail,
		"uid":           row.Message.UID,
		"tags":          norm.Tags,
		"summary":       norm.Summary,
		"model_id":      opts.ModelID,
	}
	if row.Analysis != nil {
		if len(row.Analysis.Categories) > 0 {
			metadata["prior_categories"] = row.Analysis.Categories
		}
		if len(row.Analysis.Metadata) > 0 {
			metadata["prior_metadata"] = row.Analysis.Metadata
		}
	}

	now := time.Now().UTC()
	confidence := norm.Confidence
	insert := storage.AnalysisInsert{
		AccountEmail: accountEmail,
		UID:          row.Message.UID,
		Summary:      norm.Summary,
		Sentiment:    norm.Sentiment,
		Categories:   norm.Tags,
		Metadata:     metadata,
		ModelID:      opts.ModelID,
		Analyzed:     true,
		AnalyzedAt:   &now,
		Confidence:   &confidence,
	}
	if opts.ValidatorModelID != "" {
		insert.Validation = &storage.ValidationRecord{
			ValidatorModelID: opts.ValidatorModelID,
			Status:           "pending",
		}
	}

	if err := p.upsert([]storage.AnalysisInsert{insert}); err != nil {
		emitError(StageStorage, err)
		return
	}

	*processed++
	p.sink.Emit(eventbus.TopicBulkAnalysisProgress, MessageEvent{
		RunID: runID, AccountEmail: accountEmail, UID: row.Message.UID,
		Status: StatusProcessed, Processed: index, Total: total,
	})
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

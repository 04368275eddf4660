// Package bulkanalysis runs the closed-taxonomy LLM analysis pass over
// every unanalyzed message (or every message, under force), normalizing
// model output against a fixed enum set before persisting it.
package bulkanalysis

import "time"

// Default limits, mirrored from spec's literal constants.
const (
	DefaultMaxTokens    = 512
	DefaultSnippetLimit = 2048
	maxSubjectChars     = 240
)

// Closed enums the model's structured output is normalized against.
var (
	allowedPriorities     = []string{"low", "medium", "high", "urgent"}
	allowedActionability  = []string{"none", "read_only", "reply_needed", "action_needed"}
	allowedRisk           = []string{"none", "low", "medium", "high"}
	allowedSourceTypes    = []string{"person", "newsletter", "notification", "transactional", "marketing", "unknown"}
	allowedThreadRoles    = []string{"root", "reply", "forward", "unknown"}
	allowedLifecycle      = []string{"new", "active", "resolved", "archived"}
)

// Options configures one analysis run.
type Options struct {
	AllowedTags      []string
	MaxTokens        int
	SnippetLimit     int
	Force            bool
	ModelID          string
	ValidatorModelID string
}

func (o Options) withDefaults() Options {
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	if o.SnippetLimit <= 0 {
		o.SnippetLimit = DefaultSnippetLimit
	}
	return o
}

// MessageStage names where per-message processing failed, used only on
// status=error progress events.
type MessageStage string

const (
	StageLLM       MessageStage = "llm"
	StageParse     MessageStage = "parse"
	StageNormalize MessageStage = "normalize"
	StageStorage   MessageStage = "storage"
)

// ProgressStatus is processed|error for one message's outcome.
type ProgressStatus string

const (
	StatusProcessed ProgressStatus = "processed"
	StatusError     ProgressStatus = "error"
)

// StartedEvent opens a run's progress stream.
type StartedEvent struct {
	RunID        string `json:"run_id"`
	AccountEmail string `json:"account_email"`
	TotalTargets int    `json:"total_targets"`
	Skipped      int    `json:"skipped"`
}

// MessageEvent reports one message's outcome.
type MessageEvent struct {
	RunID        string       `json:"run_id"`
	AccountEmail string       `json:"account_email"`
	UID          string       `json:"uid"`
	Status       ProgressStatus `json:"status"`
	Stage        MessageStage `json:"stage,omitempty"`
	Error        string       `json:"error,omitempty"`
	Processed    int          `json:"processed"`
	Total        int          `json:"total"`
}

// CompletedEvent closes a run's progress stream.
type CompletedEvent struct {
	RunID        string `json:"run_id"`
	AccountEmail string `json:"account_email"`
	Processed    int    `json:"processed"`
	Errored      int    `json:"errored"`
	Skipped      int    `json:"skipped"`
	ElapsedMs    int64  `json:"elapsed_ms"`
}

// Result summarizes a completed run for the caller.
type Result struct {
	RunID     string
	Processed int
	Errored   int
	Skipped   int
	Elapsed   time.Duration
}

// structuredOutput is the closed-schema object the model is instructed
// to return, parsed either directly or via brace-counted extraction.
type structuredOutput struct {
	Summary        string   `json:"summary"`
	Sentiment      string   `json:"sentiment"`
	Tags           []string `json:"tags"`
	Priority       string   `json:"priority"`
	Actionability  string   `json:"actionability"`
	Risk           string   `json:"risk"`
	SourceType     string   `json:"source_type"`
	ThreadRole     string   `json:"thread_role"`
	Lifecycle      string   `json:"lifecycle"`
	Confidence     float64  `json:"confidence"`
}

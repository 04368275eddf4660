// Package eventbus defines the typed, fire-and-forget progress sink the
// core emits on. The core must not depend on a specific UI framework;
// this is an interface collaborator exactly as called out in the
// re-architecture notes. A headless implementation (LogSink) is
// provided; a UI process substitutes its own Sink (e.g. a Wails
// EventsEmit wrapper, or a broadcast channel).
package eventbus

import "github.com/rs/zerolog"

// Topic names the stable event channels the core emits on.
type Topic string

const (
	TopicFullSyncProgress     Topic = "full-sync-progress"
	TopicRemoteDeleteStatus   Topic = "remote-delete-status"
	TopicRemoteDeleteQueued   Topic = "remote-delete-queued"
	TopicRemoteDeleteMetrics  Topic = "remote-delete-metrics"
	TopicModelDownloadProgress Topic = "model-download-progress"
	TopicBulkAnalysisProgress  Topic = "llm-bulk-analysis-progress"
)

// Sink is the narrow interface every emitter depends on. Implementations
// must never block the caller for long and must never panic; a failing
// emit is the sink's problem to log, not the caller's to handle.
type Sink interface {
	Emit(topic Topic, payload any)
}

// LogSink is the default headless Sink: it logs every emission at debug
// level and never fails. Failure to emit is logged but never fatal,
// matching the event bus contract.
type LogSink struct {
	log zerolog.Logger
}

// NewLogSink builds a LogSink using the given component-scoped logger.
func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Emit(topic Topic, payload any) {
	s.log.Debug().Str("topic", string(topic)).Interface("payload", payload).Msg("event emitted")
}

// ChannelSink fans emissions out onto a buffered Go channel, useful for
// tests and for headless consumers that want to range over events
// rather than poll a log. Sends never block: a full channel drops the
// event and logs a warning, preserving the "never fatal" contract.
type ChannelSink struct {
	ch  chan Envelope
	log zerolog.Logger
}

// Envelope pairs a topic with its payload for ChannelSink consumers.
type Envelope struct {
	Topic   Topic
	Payload any
}

// NewChannelSink builds a ChannelSink with the given buffer depth.
func NewChannelSink(log zerolog.Logger, depth int) *ChannelSink {
	return &ChannelSink{ch: make(chan Envelope, depth), log: log}
}

// Events returns the channel of emitted envelopes.
func (s *ChannelSink) Events() <-chan Envelope {
	return s.ch
}

func (s *ChannelSink) Emit(topic Topic, payload any) {
	select {
	case s.ch <- Envelope{Topic: topic, Payload: payload}:
	default:
		s.log.Warn().Str("topic", string(topic)).Msg("event dropped, channel full")
	}
}

package bulkanalysis

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vivasaayi/PersonalMailClient/internal/config"
	"github.com/vivasaayi/PersonalMailClient/internal/eventbus"
	"github.com/vivasaayi/PersonalMailClient/internal/storage"
)

type fakeCompleter struct {
	response string
	err      error
	calls    int
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func newTestPipeline(t *testing.T, completer Completer) (*Pipeline, *storage.Store, *eventbus.ChannelSink) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.Open(config.StorageConfig{
		Path:          filepath.Join(dir, "mail_cache.db"),
		MasterKeyPath: filepath.Join(dir, "master.key"),
		MaxOpenConns:  4,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.UpsertAccount(storage.Account{Email: "user@example.com", Provider: "gmail"}))

	sink := eventbus.NewChannelSink(zerolog.Nop(), 128)
	cfg := config.BulkAnalysisConfig{MaxTokens: DefaultMaxTokens, SnippetLimit: DefaultSnippetLimit}
	return NewPipeline(store, sink, completer, cfg), store, sink
}

func TestRunSkipsAlreadyAnalyzedUnlessForced(t *testing.T) {
	completer := &fakeCompleter{response: `{"summary":"s","sentiment":"positive","tags":["work"],"confidence":0.8,"priority":"low"}`}
	p, store, _ := newTestPipeline(t, completer)

	require.NoError(t, store.UpsertMessages([]storage.MessageInsert{
		{AccountEmail: "user@example.com", UID: "1", SenderEmail: "a@example.com", Subject: "one", Date: "2024-01-01T00:00:00Z"},
		{AccountEmail: "user@example.com", UID: "2", SenderEmail: "a@example.com", Subject: "two", Date: "2024-01-02T00:00:00Z"},
	}))

	opts := Options{AllowedTags: []string{"work", "personal"}}
	result, err := p.Run(context.Background(), "user@example.com", opts)
	require.NoError(t, err)
	require.Equal(t, 2, result.Processed)
	require.Equal(t, 0, result.Skipped)
	require.Equal(t, 2, completer.calls)

	result2, err := p.Run(context.Background(), "user@example.com", opts)
	require.NoError(t, err)
	require.Equal(t, 0, result2.Processed)
	require.Equal(t, 2, result2.Skipped)
	require.Equal(t, 2, completer.calls, "completer must not be invoked again for already-analyzed messages")

	result3, err := p.Run(context.Background(), "user@example.com", Options{AllowedTags: opts.AllowedTags, Force: true})
	require.NoError(t, err)
	require.Equal(t, 2, result3.Processed)
	require.Equal(t, 4, completer.calls)
}

func TestRunRecordsParseErrorAndCompletesRun(t *testing.T) {
	completer := &fakeCompleter{response: "not json at all, no braces"}
	p, store, sink := newTestPipeline(t, completer)

	require.NoError(t, store.UpsertMessages([]storage.MessageInsert{
		{AccountEmail: "user@example.com", UID: "1", SenderEmail: "a@example.com", Subject: "one", Date: "2024-01-01T00:00:00Z"},
	}))

	result, err := p.Run(context.Background(), "user@example.com", Options{AllowedTags: []string{"work"}})
	require.NoError(t, err)
	require.Equal(t, 0, result.Processed)
	require.Equal(t, 1, result.Errored)

	var sawStarted, sawErrorEvent, sawCompleted bool
	for i := 0; i < 3; i++ {
		env := <-sink.Events()
		switch ev := env.Payload.(type) {
		case StartedEvent:
			sawStarted = true
		case MessageEvent:
			require.Equal(t, StatusError, ev.Status)
			require.Equal(t, StageParse, ev.Stage)
			sawErrorEvent = true
		case CompletedEvent:
			sawCompleted = true
		}
	}
	require.True(t, sawStarted)
	require.True(t, sawErrorEvent)
	require.True(t, sawCompleted)
}

func TestRunNormalizesTagsAndPersistsMetadata(t *testing.T) {
	completer := &fakeCompleter{response: `{"summary":"important update","sentiment":"neg","tags":["Work","bogus"],"priority":"HIGH","confidence":1.4}`}
	p, store, _ := newTestPipeline(t, completer)

	require.NoError(t, store.UpsertMessages([]storage.MessageInsert{
		{AccountEmail: "user@example.com", UID: "1", SenderEmail: "a@example.com", Subject: "one", Date: "2024-01-01T00:00:00Z"},
	}))

	_, err := p.Run(context.Background(), "user@example.com", Options{AllowedTags: []string{"Work", "Personal"}, ModelID: "test-model"})
	require.NoError(t, err)

	rows, err := store.MessagesWithAnalysisForAccount("user@example.com")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].Analysis)
	require.Equal(t, "negative", rows[0].Analysis.Sentiment)
	require.Equal(t, []string{"Work"}, rows[0].Analysis.Categories)
	require.Equal(t, "test-model", rows[0].Analysis.ModelID)
	require.NotNil(t, rows[0].Analysis.Confidence)
	require.Equal(t, 1.0, *rows[0].Analysis.Confidence)
	require.Equal(t, "high", rows[0].Analysis.Metadata["priority"])
}

package syncengine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vivasaayi/PersonalMailClient/internal/account"
	"github.com/vivasaayi/PersonalMailClient/internal/config"
	"github.com/vivasaayi/PersonalMailClient/internal/eventbus"
	"github.com/vivasaayi/PersonalMailClient/internal/imapclient"
	"github.com/vivasaayi/PersonalMailClient/internal/storage"
)

func newTestEngine(t *testing.T) (*Engine, *storage.Store) {
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

	sink := eventbus.NewChannelSink(zerolog.Nop(), 32)
	engine := New(store, sink, config.SyncConfig{DefaultChunkSize: 200, MaxUIDsPerSearch: 900})
	return engine, store
}

func fakeFetchAll(batches []imapclient.BatchResult, runErr error) fetchAllFunc {
	return func(ctx context.Context, creds account.Credentials, sinceUID string, chunkSize int, window *imapclient.SyncWindow) (<-chan imapclient.BatchResult, <-chan error) {
		results := make(chan imapclient.BatchResult, len(batches))
		errCh := make(chan error, 1)
		for _, b := range batches {
			results <- b
		}
		close(results)
		errCh <- runErr
		close(errCh)
		return results, errCh
	}
}

func testCreds() account.Credentials {
	return account.Credentials{
		Account:  account.Account{Email: "user@example.com", Provider: account.ProviderGmail},
		Password: "secret",
	}
}

func TestEngineRunPersistsBatchesAndUpdatesWatermark(t *testing.T) {
	engine, store := newTestEngine(t)
	engine.fetchAll = fakeFetchAll([]imapclient.BatchResult{
		{
			Index: 1, Total: 2, Requested: 2, Fetched: 2,
			Messages: []imapclient.MessageEnvelope{
				{UID: "10", SenderEmail: "a@example.com", Subject: "one", Date: time.Now()},
				{UID: "11", SenderEmail: "a@example.com", Subject: "two", Date: time.Now()},
			},
		},
		{
			Index: 2, Total: 2, Requested: 1, Fetched: 1,
			Messages: []imapclient.MessageEnvelope{
				{UID: "12", SenderEmail: "b@example.com", Subject: "three", Date: time.Now()},
			},
		},
	}, nil)

	result, err := engine.Run(context.Background(), testCreds(), RunOptions{Mode: ModeFull})
	require.NoError(t, err)
	require.Equal(t, 2, result.Batches)
	require.Equal(t, 3, result.FetchedTotal)
	require.Equal(t, 3, result.StoredTotal)
	require.Equal(t, "12", result.LastUID)

	state, err := store.SyncStateFor("user@example.com")
	require.NoError(t, err)
	require.NotNil(t, state.LastFullSync)
	require.NotNil(t, state.LastUID)
	require.Equal(t, "12", *state.LastUID)
	require.Equal(t, 3, state.TotalMessages)
}

func TestEngineRunEmptyResultIsNoOpButRefreshesIncrementalWatermark(t *testing.T) {
	engine, store := newTestEngine(t)
	engine.fetchAll = fakeFetchAll(nil, nil)

	result, err := engine.Run(context.Background(), testCreds(), RunOptions{Mode: ModeIncremental})
	require.NoError(t, err)
	require.Equal(t, 0, result.Batches)

	state, err := store.SyncStateFor("user@example.com")
	require.NoError(t, err)
	require.NotNil(t, state.LastIncrementalSync)
	require.Nil(t, state.LastFullSync)
}

func TestEngineRunPropagatesFetchError(t *testing.T) {
	engine, _ := newTestEngine(t)
	engine.fetchAll = fakeFetchAll(nil, errors.New("network exploded"))

	_, err := engine.Run(context.Background(), testCreds(), RunOptions{Mode: ModeFull})
	require.Error(t, err)
}

func TestEngineRunWindowedRequiresWindow(t *testing.T) {
	engine, _ := newTestEngine(t)
	_, err := engine.Run(context.Background(), testCreds(), RunOptions{Mode: ModeWindowed})
	require.Error(t, err)
}

package accountregistry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vivasaayi/PersonalMailClient/internal/account"
	"github.com/vivasaayi/PersonalMailClient/internal/config"
	"github.com/vivasaayi/PersonalMailClient/internal/imapclient"
	"github.com/vivasaayi/PersonalMailClient/internal/storage"
)

type memoryCredentialSink struct {
	passwords map[string]string
}

func newMemoryCredentialSink() *memoryCredentialSink {
	return &memoryCredentialSink{passwords: make(map[string]string)}
}

func (m *memoryCredentialSink) SetPassword(email, password string) error {
	m.passwords[email] = password
	return nil
}

func (m *memoryCredentialSink) GetPassword(email string) (string, error) {
	p, ok := m.passwords[email]
	if !ok {
		return "", ErrPasswordNotFound
	}
	return p, nil
}

func (m *memoryCredentialSink) DeletePassword(email string) error {
	delete(m.passwords, email)
	return nil
}

type fakeScheduler struct {
	configured map[string]time.Duration
	cancelled  []string
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{configured: make(map[string]time.Duration)}
}

func (f *fakeScheduler) Configure(email string, interval time.Duration) {
	f.configured[email] = interval
}

func (f *fakeScheduler) Cancel(email string) {
	f.cancelled = append(f.cancelled, email)
	delete(f.configured, email)
}

func newTestRegistry(t *testing.T) (*Registry, *storage.Store, *fakeScheduler) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.Open(config.StorageConfig{
		Path:          filepath.Join(dir, "mail_cache.db"),
		MasterKeyPath: filepath.Join(dir, "master.key"),
		MaxOpenConns:  4,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	sched := newFakeScheduler()
	reg := New(store, newMemoryCredentialSink(), sched)
	return reg, store, sched
}

func TestConnectVerifiesPersistsAndCachesRecent(t *testing.T) {
	reg, store, _ := newTestRegistry(t)
	var verifyCalled bool
	reg.verify = func(ctx context.Context, creds account.Credentials) error {
		verifyCalled = true
		return nil
	}
	reg.fetchRecent = func(ctx context.Context, creds account.Credentials, n int) ([]imapclient.MessageEnvelope, error) {
		require.Equal(t, recentFetchCount, n)
		return []imapclient.MessageEnvelope{
			{UID: "1", SenderEmail: "a@example.com", Subject: "hi", Date: time.Now()},
		}, nil
	}

	acct := account.Account{Email: "User@Example.com", Provider: account.ProviderGmail}
	recent, err := reg.Connect(context.Background(), acct, "secret")
	require.NoError(t, err)
	require.True(t, verifyCalled)
	require.Len(t, recent, 1)

	creds, ok := reg.Credentials("user@example.com")
	require.True(t, ok)
	require.Equal(t, "secret", creds.Password)

	stored, err := store.AccountByEmail("user@example.com")
	require.NoError(t, err)
	require.Equal(t, "gmail", stored.Provider)

	summaries, err := store.RecentMessageSummaries("user@example.com", 10)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
}

func TestConnectFailsOnVerificationError(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	reg.verify = func(ctx context.Context, creds account.Credentials) error {
		return context.DeadlineExceeded
	}

	_, err := reg.Connect(context.Background(), account.Account{Email: "x@example.com", Provider: account.ProviderGmail}, "pw")
	require.Error(t, err)

	_, ok := reg.Credentials("x@example.com")
	require.False(t, ok)
}

func TestDisconnectRemovesEverything(t *testing.T) {
	reg, store, sched := newTestRegistry(t)
	reg.verify = func(ctx context.Context, creds account.Credentials) error { return nil }
	reg.fetchRecent = func(ctx context.Context, creds account.Credentials, n int) ([]imapclient.MessageEnvelope, error) {
		return nil, nil
	}

	acct := account.Account{Email: "gone@example.com", Provider: account.ProviderGmail}
	_, err := reg.Connect(context.Background(), acct, "secret")
	require.NoError(t, err)

	reg.ConfigurePeriodicSync("gone@example.com", time.Minute)
	require.Contains(t, sched.configured, "gone@example.com")

	require.NoError(t, reg.Disconnect("gone@example.com"))

	_, ok := reg.Credentials("gone@example.com")
	require.False(t, ok)
	require.Contains(t, sched.cancelled, "gone@example.com")

	_, err = store.AccountByEmail("gone@example.com")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListReportsHasPassword(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	reg.verify = func(ctx context.Context, creds account.Credentials) error { return nil }
	reg.fetchRecent = func(ctx context.Context, creds account.Credentials, n int) ([]imapclient.MessageEnvelope, error) {
		return nil, nil
	}

	acct := account.Account{Email: "listed@example.com", Provider: account.ProviderOutlook, CustomHost: "mail.example.com"}
	_, err := reg.Connect(context.Background(), acct, "secret")
	require.NoError(t, err)

	accounts, err := reg.List()
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	require.True(t, accounts[0].HasPassword)
	require.Equal(t, "mail.example.com", accounts[0].CustomHost)
}

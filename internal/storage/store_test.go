package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vivasaayi/PersonalMailClient/internal/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	cfg := config.StorageConfig{
		Path:          filepath.Join(dir, "mail_cache.db"),
		MasterKeyPath: filepath.Join(dir, "master.key"),
		MaxOpenConns:  4,
	}
	s, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertMessagesRoundTripsEncryptedFields(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertAccount(Account{Email: "user@example.com", Provider: "gmail"}))

	snippet := "hello world this is a snippet"
	err := s.UpsertMessages([]MessageInsert{
		{
			AccountEmail:  "user@example.com",
			UID:           "101",
			SenderEmail:   "sender@example.com",
			SenderDisplay: "Sender Name",
			Subject:       "Test subject",
			Date:          "2026-01-01T00:00:00Z",
			Snippet:       &snippet,
			Body:          []byte("full body content"),
			Flags:         "\\Seen",
		},
	})
	require.NoError(t, err)

	groups, err := s.GroupedMessagesForAccount("user@example.com")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Equal(t, "sender@example.com", groups[0].SenderEmail)
	require.Len(t, groups[0].Messages, 1)

	msg := groups[0].Messages[0].Message
	require.Equal(t, "Test subject", msg.Subject)
	require.Equal(t, snippet, msg.Snippet)
	require.Equal(t, []byte("full body content"), msg.Body)
	require.Equal(t, SenderStatusNeutral, groups[0].Messages[0].Status)
}

func TestUpsertMessagesPreservesCreatedAtOnConflict(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertAccount(Account{Email: "user@example.com", Provider: "gmail"}))

	insert := MessageInsert{
		AccountEmail: "user@example.com",
		UID:          "5",
		SenderEmail:  "a@example.com",
		Subject:      "v1",
		Flags:        "",
	}
	require.NoError(t, s.UpsertMessages([]MessageInsert{insert}))

	summaries, err := s.RecentMessageSummaries("user@example.com", 10)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	firstUpdated := summaries[0].UpdatedAt
	groups, err := s.GroupedMessagesForAccount("user@example.com")
	require.NoError(t, err)
	firstCreated := groups[0].Messages[0].Message.CreatedAt

	time.Sleep(5 * time.Millisecond)
	insert.Subject = "v2"
	insert.Flags = "\\Seen"
	require.NoError(t, s.UpsertMessages([]MessageInsert{insert}))

	summaries, err = s.RecentMessageSummaries("user@example.com", 10)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.Equal(t, "v2", summaries[0].Subject)
	require.True(t, summaries[0].UpdatedAt.After(firstUpdated) || summaries[0].UpdatedAt.Equal(firstUpdated))
	groups, err = s.GroupedMessagesForAccount("user@example.com")
	require.NoError(t, err)
	require.True(t, groups[0].Messages[0].Message.CreatedAt.Equal(firstCreated))
}

func TestLatestUIDForAccountOrdersNumerically(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertAccount(Account{Email: "user@example.com", Provider: "gmail"}))

	require.NoError(t, s.UpsertMessages([]MessageInsert{
		{AccountEmail: "user@example.com", UID: "9", SenderEmail: "a@example.com", Subject: "s9"},
		{AccountEmail: "user@example.com", UID: "100", SenderEmail: "a@example.com", Subject: "s100"},
		{AccountEmail: "user@example.com", UID: "55", SenderEmail: "a@example.com", Subject: "s55"},
	}))

	uid, found, err := s.LatestUIDForAccount("user@example.com")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "100", uid)
}

func TestLatestUIDForAccountEmpty(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertAccount(Account{Email: "user@example.com", Provider: "gmail"}))

	_, found, err := s.LatestUIDForAccount("user@example.com")
	require.NoError(t, err)
	require.False(t, found)
}

func TestUpsertAnalysisSkipsUnmatchedRow(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertAccount(Account{Email: "user@example.com", Provider: "gmail"}))

	err := s.UpsertAnalysis([]AnalysisInsert{
		{AccountEmail: "user@example.com", UID: "does-not-exist", Summary: "ignored", Analyzed: true},
	})
	require.NoError(t, err)
}

func TestUpsertAnalysisAttachesToExistingMessage(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertAccount(Account{Email: "user@example.com", Provider: "gmail"}))
	require.NoError(t, s.UpsertMessages([]MessageInsert{
		{AccountEmail: "user@example.com", UID: "1", SenderEmail: "a@example.com", Subject: "hi"},
	}))

	confidence := 0.87
	err := s.UpsertAnalysis([]AnalysisInsert{
		{
			AccountEmail: "user@example.com",
			UID:          "1",
			Summary:      "a short summary",
			Sentiment:    "positive",
			Categories:   []string{"work", "finance"},
			Metadata:     map[string]any{"k": "v"},
			ModelID:      "test-model",
			Analyzed:     true,
			Confidence:   &confidence,
		},
	})
	require.NoError(t, err)

	groups, err := s.GroupedMessagesForAccount("user@example.com")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Len(t, groups[0].Messages, 1)
	analysis := groups[0].Messages[0].Analysis
	require.NotNil(t, analysis)
	require.Equal(t, "a short summary", analysis.Summary)
	require.Equal(t, []string{"work", "finance"}, analysis.Categories)
	require.True(t, analysis.Analyzed)
	require.NotNil(t, analysis.Confidence)
	require.InDelta(t, 0.87, *analysis.Confidence, 0.0001)
}

func TestSenderStatusDefaultsToNeutral(t *testing.T) {
	s := newTestStore(t)
	status, err := s.SenderStatusFor("nobody@example.com")
	require.NoError(t, err)
	require.Equal(t, SenderStatusNeutral, status)

	require.NoError(t, s.SetSenderStatus("blocked@example.com", SenderStatusBlocked))
	status, err = s.SenderStatusFor("blocked@example.com")
	require.NoError(t, err)
	require.Equal(t, SenderStatusBlocked, status)
}

func TestSetSenderStatusRejectsUnknownValue(t *testing.T) {
	s := newTestStore(t)
	err := s.SetSenderStatus("x@example.com", SenderStatus("bogus"))
	require.Error(t, err)
}

func TestPendingRemoteDeletesAndMarkDeleted(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertAccount(Account{Email: "user@example.com", Provider: "gmail"}))
	require.NoError(t, s.UpsertMessages([]MessageInsert{
		{AccountEmail: "user@example.com", UID: "1", SenderEmail: "a@example.com", Subject: "hi"},
		{AccountEmail: "user@example.com", UID: "2", SenderEmail: "a@example.com", Subject: "hi2"},
	}))

	count, err := s.CountPendingRemoteDeletes("user@example.com")
	require.NoError(t, err)
	require.Equal(t, 2, count)

	now := time.Now().UTC()
	require.NoError(t, s.MarkDeletedRemote("user@example.com", "1", &now, nil))

	count, err = s.CountPendingRemoteDeletes("user@example.com")
	require.NoError(t, err)
	require.Equal(t, 1, count)

	pending, err := s.PendingRemoteDeletes("user@example.com", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "2", pending[0].UID)
}

func TestMarkDeletedRemoteWithError(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertAccount(Account{Email: "user@example.com", Provider: "gmail"}))
	require.NoError(t, s.UpsertMessages([]MessageInsert{
		{AccountEmail: "user@example.com", UID: "1", SenderEmail: "a@example.com", Subject: "hi"},
	}))

	msg := "rate limited"
	require.NoError(t, s.MarkDeletedRemote("user@example.com", "1", nil, &msg))

	pending, err := s.PendingRemoteDeletes("user@example.com", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.NotNil(t, pending[0].RemoteError)
	require.Equal(t, "rate limited", *pending[0].RemoteError)
}

func TestUpdateSyncStateCoalescesLastUID(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertAccount(Account{Email: "user@example.com", Provider: "gmail"}))

	uid := "42"
	require.NoError(t, s.UpdateSyncState("user@example.com", &uid, true, 10))

	state, err := s.SyncStateFor("user@example.com")
	require.NoError(t, err)
	require.NotNil(t, state.LastFullSync)
	require.NotNil(t, state.LastUID)
	require.Equal(t, "42", *state.LastUID)
	require.Equal(t, 10, state.TotalMessages)

	require.NoError(t, s.UpdateSyncState("user@example.com", nil, false, 11))

	state, err = s.SyncStateFor("user@example.com")
	require.NoError(t, err)
	require.Equal(t, "42", *state.LastUID)
	require.Equal(t, 11, state.TotalMessages)
}

func TestSettingsGetSet(t *testing.T) {
	s := newTestStore(t)
	_, found, err := s.GetSetting("theme")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, s.SetSetting("theme", "dark"))
	value, found, err := s.GetSetting("theme")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "dark", value)
}

func TestAccountLifecycle(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertAccount(Account{Email: "a@example.com", Provider: "gmail"}))
	require.NoError(t, s.UpsertAccount(Account{Email: "b@example.com", Provider: "outlook"}))

	accounts, err := s.ListAccounts()
	require.NoError(t, err)
	require.Len(t, accounts, 2)

	got, err := s.AccountByEmail("a@example.com")
	require.NoError(t, err)
	require.Equal(t, "gmail", got.Provider)

	require.NoError(t, s.RemoveAccount("a@example.com"))
	_, err = s.AccountByEmail("a@example.com")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDecryptionTamperSurfacesAsStorageError(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertAccount(Account{Email: "user@example.com", Provider: "gmail"}))
	require.NoError(t, s.UpsertMessages([]MessageInsert{
		{AccountEmail: "user@example.com", UID: "1", SenderEmail: "a@example.com", Subject: "hi"},
	}))

	_, err := s.db.Exec(`UPDATE messages SET subject = 'not-valid-base64-ciphertext' WHERE uid = '1'`)
	require.NoError(t, err)

	_, err = s.GroupedMessagesForAccount("user@example.com")
	require.Error(t, err)
	var storageErr *Error
	require.ErrorAs(t, err, &storageErr)
	require.Equal(t, KindDecryption, storageErr.Kind)
}

// Package accountregistry maintains the in-memory email→Credentials map
// and its mirror in the accounts table, implementing the connect/
// disconnect flow: verify, persist, prime the local cache, hand the
// password to the keychain collaborator; and the reverse on disconnect.
package accountregistry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vivasaayi/PersonalMailClient/internal/account"
	"github.com/vivasaayi/PersonalMailClient/internal/imapclient"
	"github.com/vivasaayi/PersonalMailClient/internal/logging"
	"github.com/vivasaayi/PersonalMailClient/internal/storage"
)

// recentFetchCount is how many messages Connect caches immediately so
// the UI has something to show before the first full sync completes.
const recentFetchCount = 25

// verifyFunc matches imapclient.VerifyCredentials; overridable in tests.
type verifyFunc func(ctx context.Context, creds account.Credentials) error

// fetchRecentFunc matches imapclient.FetchRecent; overridable in tests.
type fetchRecentFunc func(ctx context.Context, creds account.Credentials, n int) ([]imapclient.MessageEnvelope, error)

// PeriodicSyncConfigurer is the narrow slice of syncengine.Scheduler the
// registry needs, letting tests substitute a fake.
type PeriodicSyncConfigurer interface {
	Configure(email string, interval time.Duration)
	Cancel(email string)
}

// SavedAccount is the password-free projection of a registered account,
// named directly after the original's SavedAccount read model.
type SavedAccount struct {
	Email       string
	Provider    account.Provider
	CustomHost  string
	CustomPort  int
	DisplayName string
	HasPassword bool
}

// Registry is the in-memory, mirrored-to-storage account directory.
type Registry struct {
	store       *storage.Store
	credentials CredentialSink
	scheduler   PeriodicSyncConfigurer
	log         zerolog.Logger

	verify      verifyFunc
	fetchRecent fetchRecentFunc

	mu       sync.RWMutex
	accounts map[string]account.Credentials
}

// New builds a Registry. scheduler may be nil if the caller manages
// periodic sync separately.
func New(store *storage.Store, credentials CredentialSink, scheduler PeriodicSyncConfigurer) *Registry {
	return &Registry{
		store:       store,
		credentials: credentials,
		scheduler:   scheduler,
		log:         logging.WithComponent("accountregistry"),
		verify:      imapclient.VerifyCredentials,
		fetchRecent: imapclient.FetchRecent,
		accounts:    make(map[string]account.Credentials),
	}
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Connect verifies the credentials, persists the account row, fetches
// the 25 most recent messages to prime the local cache, hands the
// password to the credential sink, and registers the account in memory.
func (r *Registry) Connect(ctx context.Context, acct account.Account, password string) ([]imapclient.MessageEnvelope, error) {
	acct.Email = account.NormalizeEmail(acct.Email)
	creds := account.Credentials{Account: acct, Password: password}

	if err := r.verify(ctx, creds); err != nil {
		return nil, fmt.Errorf("verify credentials: %w", err)
	}

	if err := r.store.UpsertAccount(toStorageAccount(acct)); err != nil {
		return nil, fmt.Errorf("persist account: %w", err)
	}

	recent, err := r.fetchRecent(ctx, creds, recentFetchCount)
	if err != nil {
		r.log.Warn().Err(err).Str("account", acct.Email).Msg("failed to fetch recent messages on connect")
		recent = nil
	} else if len(recent) > 0 {
		inserts := make([]storage.MessageInsert, 0, len(recent))
		for _, msg := range recent {
			inserts = append(inserts, envelopeToInsert(acct.Email, msg))
		}
		if err := r.store.UpsertMessages(inserts); err != nil {
			r.log.Warn().Err(err).Str("account", acct.Email).Msg("failed to cache recent messages on connect")
		}
	}

	if err := r.credentials.SetPassword(acct.Email, password); err != nil {
		r.log.Warn().Err(err).Str("account", acct.Email).Msg("failed to store password in credential sink")
	}

	r.mu.Lock()
	r.accounts[acct.Email] = creds
	r.mu.Unlock()

	return recent, nil
}

// Disconnect removes the in-memory entry, deletes the persisted account
// row (cascading to its messages/analysis/sync-state), deletes the
// stored password, and cancels any periodic sync task.
func (r *Registry) Disconnect(email string) error {
	email = normalize(email)

	r.mu.Lock()
	delete(r.accounts, email)
	r.mu.Unlock()

	if r.scheduler != nil {
		r.scheduler.Cancel(email)
	}

	if err := r.credentials.DeletePassword(email); err != nil {
		r.log.Warn().Err(err).Str("account", email).Msg("failed to delete stored password")
	}

	if err := r.store.RemoveAccount(email); err != nil {
		return fmt.Errorf("remove account: %w", err)
	}
	return nil
}

// Credentials resolves email to its in-memory credentials, satisfying
// syncengine.CredentialsLookup and the remote-delete manager's needs.
func (r *Registry) Credentials(email string) (account.Credentials, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	creds, ok := r.accounts[normalize(email)]
	return creds, ok
}

// ConfigurePeriodicSync reconfigures (or disables, for interval<=0) the
// periodic incremental-sync task for email.
func (r *Registry) ConfigurePeriodicSync(email string, interval time.Duration) {
	if r.scheduler == nil {
		return
	}
	r.scheduler.Configure(normalize(email), interval)
}

// List returns every persisted account as a password-free projection.
func (r *Registry) List() ([]SavedAccount, error) {
	rows, err := r.store.ListAccounts()
	if err != nil {
		return nil, err
	}

	out := make([]SavedAccount, 0, len(rows))
	for _, row := range rows {
		saved := SavedAccount{
			Email:    row.Email,
			Provider: account.Provider(row.Provider),
		}
		if row.CustomHost != nil {
			saved.CustomHost = *row.CustomHost
		}
		if row.CustomPort != nil {
			saved.CustomPort = *row.CustomPort
		}
		if row.DisplayName != nil {
			saved.DisplayName = *row.DisplayName
		}
		if _, err := r.credentials.GetPassword(row.Email); err == nil {
			saved.HasPassword = true
		}
		out = append(out, saved)
	}
	return out, nil
}

func toStorageAccount(acct account.Account) storage.Account {
	sa := storage.Account{Email: acct.Email, Provider: string(acct.Provider)}
	if acct.CustomHost != "" {
		sa.CustomHost = &acct.CustomHost
	}
	if acct.CustomPort != 0 {
		sa.CustomPort = &acct.CustomPort
	}
	if acct.DisplayName != "" {
		sa.DisplayName = &acct.DisplayName
	}
	return sa
}

func envelopeToInsert(accountEmail string, msg imapclient.MessageEnvelope) storage.MessageInsert {
	var snippet *string
	if msg.Snippet != "" {
		s := msg.Snippet
		snippet = &s
	}
	flags := strings.Join(msg.Flags, " ")
	return storage.MessageInsert{
		AccountEmail:  accountEmail,
		UID:           msg.UID,
		SenderEmail:   msg.SenderEmail,
		SenderDisplay: msg.SenderDisplay,
		Subject:       msg.Subject,
		Date:          msg.Date.Format(time.RFC3339),
		Snippet:       snippet,
		Flags:         flags,
	}
}

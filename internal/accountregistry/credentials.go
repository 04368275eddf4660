package accountregistry

import (
	"fmt"

	"github.com/rs/zerolog"
	gokeyring "github.com/zalando/go-keyring"

	"github.com/vivasaayi/PersonalMailClient/internal/cipher"
	"github.com/vivasaayi/PersonalMailClient/internal/logging"
	"github.com/vivasaayi/PersonalMailClient/internal/storage"
)

const keyringService = "personal-mail-client"

// ErrPasswordNotFound is returned when neither the OS keyring nor the
// encrypted fallback holds a password for the given account.
var ErrPasswordNotFound = fmt.Errorf("accountregistry: password not found")

// CredentialSink is the "external keychain collaborator" referenced by
// the account registry design: a narrow interface so the core never
// depends on a concrete keyring implementation.
type CredentialSink interface {
	SetPassword(email, password string) error
	GetPassword(email string) (string, error)
	DeletePassword(email string) error
}

// KeyringCredentialSink stores passwords in the OS keyring, probing
// availability once at construction and falling back to an
// app-settings-backed encrypted store (keyed by the shared cipher) when
// the keyring is unusable, matching the teacher's keyring-then-DB-
// fallback shape.
type KeyringCredentialSink struct {
	keyringEnabled bool
	store          *storage.Store
	cipher         *cipher.Cipher
	log            zerolog.Logger
}

// NewKeyringCredentialSink builds a KeyringCredentialSink. store backs
// the encrypted fallback path (via its settings table); masterKeyPath
// is loaded independently so the registry doesn't need access to the
// storage package's private cipher instance.
func NewKeyringCredentialSink(store *storage.Store, masterKeyPath string) (*KeyringCredentialSink, error) {
	c, err := cipher.Load(masterKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load cipher for credential fallback: %w", err)
	}

	log := logging.WithComponent("accountregistry-keyring")
	enabled := probeKeyring()
	if enabled {
		log.Info().Msg("OS keyring available, using as primary credential storage")
	} else {
		log.Warn().Msg("OS keyring unavailable, using encrypted settings fallback")
	}

	return &KeyringCredentialSink{keyringEnabled: enabled, store: store, cipher: c, log: log}, nil
}

func probeKeyring() bool {
	const testKey = "personal-mail-client-keyring-check"
	if err := gokeyring.Set(keyringService, testKey, "probe"); err != nil {
		return false
	}
	_ = gokeyring.Delete(keyringService, testKey)
	return true
}

func settingKey(email string) string { return "credential:" + email }

func (s *KeyringCredentialSink) SetPassword(email, password string) error {
	if password == "" {
		return nil
	}
	if s.keyringEnabled {
		if err := gokeyring.Set(keyringService, email, password); err == nil {
			s.clearFallback(email)
			return nil
		} else {
			s.log.Warn().Err(err).Str("account", email).Msg("failed to store in OS keyring, using fallback")
		}
	}

	encrypted, err := s.cipher.EncryptString(password)
	if err != nil {
		return fmt.Errorf("encrypt password: %w", err)
	}
	return s.store.SetSetting(settingKey(email), encrypted)
}

func (s *KeyringCredentialSink) GetPassword(email string) (string, error) {
	if s.keyringEnabled {
		password, err := gokeyring.Get(keyringService, email)
		if err == nil {
			return password, nil
		}
		if err != gokeyring.ErrNotFound {
			s.log.Warn().Err(err).Str("account", email).Msg("error reading OS keyring, trying fallback")
		}
	}

	encrypted, found, err := s.store.GetSetting(settingKey(email))
	if err != nil {
		return "", fmt.Errorf("read password fallback: %w", err)
	}
	if !found || encrypted == "" {
		return "", ErrPasswordNotFound
	}
	password, err := s.cipher.DecryptString(encrypted)
	if err != nil {
		return "", fmt.Errorf("decrypt password fallback: %w", err)
	}
	return password, nil
}

func (s *KeyringCredentialSink) DeletePassword(email string) error {
	if s.keyringEnabled {
		_ = gokeyring.Delete(keyringService, email)
	}
	s.clearFallback(email)
	return nil
}

func (s *KeyringCredentialSink) clearFallback(email string) {
	_ = s.store.SetSetting(settingKey(email), "")
}

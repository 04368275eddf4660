// Package account defines the account identity and credential shapes
// shared by the IMAP client, the sync engine, and the account registry.
// Credentials are never persisted by this package; only the account
// registry (internal/accountregistry) holds them in memory.
package account

import "strings"

// Provider is the set of supported mail providers, each implying a
// default IMAP host when the account does not specify a custom one.
type Provider string

const (
	ProviderGmail   Provider = "gmail"
	ProviderOutlook Provider = "outlook"
	ProviderYahoo   Provider = "yahoo"
	ProviderCustom  Provider = "custom"
)

// DefaultHost returns the provider's well-known IMAP host. Callers must
// supply their own host for ProviderCustom.
func (p Provider) DefaultHost() string {
	switch p {
	case ProviderGmail:
		return "imap.gmail.com"
	case ProviderOutlook:
		return "outlook.office365.com"
	case ProviderYahoo:
		return "imap.mail.yahoo.com"
	default:
		return ""
	}
}

// DisplayName is the human-readable provider label.
func (p Provider) DisplayName() string {
	switch p {
	case ProviderGmail:
		return "Gmail"
	case ProviderOutlook:
		return "Outlook / Live"
	case ProviderYahoo:
		return "Yahoo Mail"
	default:
		return "Custom IMAP"
	}
}

// Valid reports whether p is one of the four known providers.
func (p Provider) Valid() bool {
	switch p {
	case ProviderGmail, ProviderOutlook, ProviderYahoo, ProviderCustom:
		return true
	default:
		return false
	}
}

// NormalizeEmail trims whitespace and lowercases an address, matching
// the data model's invariant that email is the normalized primary key
// across the system.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Account is the persisted identity for a connected mailbox.
type Account struct {
	Email       string
	Provider    Provider
	CustomHost  string
	CustomPort  int
	DisplayName string
}

// Host resolves the effective IMAP host: CustomHost if set, else the
// provider default.
func (a Account) Host() string {
	if a.CustomHost != "" {
		return a.CustomHost
	}
	return a.Provider.DefaultHost()
}

// Port resolves the effective IMAP port: CustomPort if set, else 993.
func (a Account) Port() int {
	if a.CustomPort != 0 {
		return a.CustomPort
	}
	return 993
}

// Credentials are the ephemeral in-memory pair an IMAP session is
// opened with. The core never persists the password; it is owned
// exclusively by the account registry and handed to an external
// keychain collaborator.
type Credentials struct {
	Account  Account
	Password string
}

// Key is a stable identity for logging and in-memory map keys that
// never includes the password.
func (c Credentials) Key() string {
	return string(c.Account.Provider) + "::" + c.Account.Email
}

// Package imapclient is a blocking, synchronous IMAP session wrapped
// behind an async boundary. Every exported operation opens its own TLS
// session, authenticates, does its work, and logs out; sessions are
// never pooled, so connection cost is amortized inside each bulk
// operation by doing many fetches per session rather than by reuse
// across operations.
package imapclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"
	"github.com/rs/zerolog"

	"github.com/vivasaayi/PersonalMailClient/internal/account"
	"github.com/vivasaayi/PersonalMailClient/internal/logging"
	"github.com/vivasaayi/PersonalMailClient/internal/providererror"
)

const (
	connectTimeout = 30 * time.Second
	readTimeout    = 3 * time.Minute
	writeTimeout   = 30 * time.Second
)

// deadlineConn enforces read/write deadlines on every operation, since
// the underlying net.Conn has none by default and a stalled server
// would otherwise hang a session forever.
type deadlineConn struct {
	net.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if c.readTimeout > 0 {
		c.Conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	}
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	if c.writeTimeout > 0 {
		c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.Conn.Write(b)
}

// searchRangeFunc matches Session.searchDateRange's signature. Session
// calls through this indirection (rather than calling searchDateRange
// directly) so tests can drive the windowed-search bisection algorithm
// against a fake date/UID-count model without dialing a real server.
type searchRangeFunc func(ctx context.Context, since time.Time, before *time.Time) ([]uint32, error)

// fetchEnvelopesFunc matches Session.fetchEnvelopesWire's signature,
// substitutable in tests for the same reason as searchRangeFunc.
type fetchEnvelopesFunc func(ctx context.Context, set imap.NumSet, isUID bool) ([]MessageEnvelope, error)

// Session is one logical LOGIN..LOGOUT IMAP conversation.
type Session struct {
	client *imapclient.Client
	caps   imap.CapSet
	log    zerolog.Logger

	searchRange    searchRangeFunc
	fetchEnvelopes fetchEnvelopesFunc
}

// Open resolves the account's host/port, dials TLS, waits for the
// greeting, and authenticates. TLS is mandatory; there is no plaintext
// or STARTTLS fallback.
func Open(ctx context.Context, creds account.Credentials) (*Session, error) {
	log := logging.WithComponent("imapclient")

	host := creds.Account.Host()
	if host == "" {
		return nil, providererror.OtherMessage("no IMAP host resolved for account")
	}
	port := creds.Account.Port()
	addr := fmt.Sprintf("%s:%d", host, port)

	dialer := &net.Dialer{Timeout: connectTimeout}
	tlsConfig := &tls.Config{ServerName: host}

	rawConn, err := tls.DialWithDialer(dialer, "tcp", addr, tlsConfig)
	if err != nil {
		return nil, providererror.Network(fmt.Errorf("dial %s: %w", addr, err))
	}
	wrapped := &deadlineConn{Conn: rawConn, readTimeout: readTimeout, writeTimeout: writeTimeout}

	c := imapclient.New(wrapped, &imapclient.Options{})
	if err := c.WaitGreeting(); err != nil {
		c.Close()
		return nil, providererror.Network(fmt.Errorf("greeting: %w", err))
	}

	s := &Session{client: c, caps: c.Caps(), log: log}
	s.searchRange = s.searchDateRange
	s.fetchEnvelopes = s.fetchEnvelopesWire

	if err := s.login(creds); err != nil {
		c.Close()
		return nil, err
	}
	s.caps = c.Caps()
	return s, nil
}

func (s *Session) login(creds account.Credentials) error {
	if s.caps.Has(imap.CapLoginDisabled) {
		saslClient := sasl.NewPlainClient("", creds.Account.Email, creds.Password)
		if err := s.client.Authenticate(saslClient); err != nil {
			return providererror.Authentication(fmt.Errorf("authenticate: %w", err))
		}
		return nil
	}
	if err := s.client.Login(creds.Account.Email, creds.Password).Wait(); err != nil {
		return providererror.Authentication(fmt.Errorf("login: %w", err))
	}
	return nil
}

// Close logs out and closes the underlying connection. Logout failures
// are logged but never returned, matching the source's close behavior:
// a session that cannot log out gracefully is closed anyway.
func (s *Session) Close() {
	if s.client == nil {
		return
	}
	if err := s.client.Logout().Wait(); err != nil {
		s.log.Warn().Err(err).Msg("logout failed, closing anyway")
	}
	s.client.Close()
}

// selectInbox selects INBOX and returns its status, cancellable via ctx
// since Wait() otherwise blocks indefinitely on a stalled server.
func (s *Session) selectInbox(ctx context.Context) (*imap.SelectData, error) {
	return s.selectMailbox(ctx, "INBOX")
}

func (s *Session) selectMailbox(ctx context.Context, name string) (*imap.SelectData, error) {
	type result struct {
		data *imap.SelectData
		err  error
	}
	resultCh := make(chan result, 1)
	go func() {
		data, err := s.client.Select(name, nil).Wait()
		resultCh <- result{data, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-resultCh:
		if r.err != nil {
			return nil, providererror.Imap(fmt.Errorf("select %s: %w", name, r.err))
		}
		return r.data, nil
	}
}

// ensureMailbox selects name, creating it first if the server reports
// it does not exist (used for the trash folder on delete operations).
func (s *Session) ensureMailbox(ctx context.Context, name string) (*imap.SelectData, error) {
	data, err := s.selectMailbox(ctx, name)
	if err == nil {
		return data, nil
	}
	if createErr := s.client.Create(name, nil).Wait(); createErr != nil {
		return nil, providererror.Imap(fmt.Errorf("create mailbox %s: %w", name, createErr))
	}
	return s.selectMailbox(ctx, name)
}

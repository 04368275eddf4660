// Package storage is the durable, encrypted, concurrent-safe cache of
// all message and analysis state. Its methods block until their result
// is ready, and internally every database operation runs on a single
// serialized worker goroutine — each method dispatches its call as an
// opaque unit of work onto that worker and waits for it, exactly as the
// component design specifies.
// Journal mode is WAL, synchronous=NORMAL (configured in
// internal/database, reused here unchanged).
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vivasaayi/PersonalMailClient/internal/cipher"
	"github.com/vivasaayi/PersonalMailClient/internal/config"
	"github.com/vivasaayi/PersonalMailClient/internal/database"
	"github.com/vivasaayi/PersonalMailClient/internal/logging"
)

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = errors.New("storage: not found")

// Kind classifies a storage-layer failure so callers can distinguish
// a decryption/key problem from an ordinary database error.
type Kind string

const (
	KindDatabase      Kind = "database"
	KindKey           Kind = "key"
	KindEncryption    Kind = "encryption"
	KindDecryption    Kind = "decryption"
	KindSerialization Kind = "serialization"
)

// Error is the single typed error this layer surfaces; the façade does
// not retry internally on any of these.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string { return fmt.Sprintf("storage: %s: %s", e.Kind, e.Message) }
func (e *Error) Unwrap() error { return e.Cause }

func wrapErr(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Store is the single owner of the database connection. No other
// component is permitted to hold it directly.
type Store struct {
	db     *database.DB
	cipher *cipher.Cipher
	log    zerolog.Logger

	jobs chan func()
	done chan struct{}
}

// Open opens (creating if necessary) the encrypted SQLite cache
// described by cfg, runs pending migrations, and starts the
// single-writer worker.
func Open(cfg config.StorageConfig) (*Store, error) {
	log := logging.WithComponent("storage")

	c, err := cipher.Load(cfg.MasterKeyPath)
	if err != nil {
		return nil, wrapErr(KindKey, "failed to load master key", err)
	}

	db, err := database.Open(cfg.Path)
	if err != nil {
		return nil, wrapErr(KindDatabase, "failed to open database", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, wrapErr(KindDatabase, "failed to migrate database", err)
	}

	s := &Store{
		db:     db,
		cipher: c,
		log:    log,
		jobs:   make(chan func(), 64),
		done:   make(chan struct{}),
	}
	go s.worker()
	return s, nil
}

// worker is the single serialized writer goroutine. Every public method
// dispatches its work here, even reads, so that storage behaves as one
// logical single-writer actor regardless of the underlying connection
// pool's concurrency.
func (s *Store) worker() {
	for {
		select {
		case job, ok := <-s.jobs:
			if !ok {
				close(s.done)
				return
			}
			job()
		}
	}
}

// dispatch submits fn to the worker and blocks until it completes.
func (s *Store) dispatch(fn func() error) error {
	resultCh := make(chan error, 1)
	s.jobs <- func() {
		resultCh <- fn()
	}
	return <-resultCh
}

// Close drains the worker and closes the underlying database. A normal
// shutdown lets the blocking pool drain before closing.
func (s *Store) Close() error {
	close(s.jobs)
	<-s.done
	return s.db.Close()
}

// ---- messages -------------------------------------------------------

// UpsertMessages inserts or updates a batch of messages within one
// transaction. created_at is preserved on update; updated_at always
// advances. Encryption of subject/snippet/body happens per-row inside
// the transaction. Failure rolls back the whole batch.
func (s *Store) UpsertMessages(batch []MessageInsert) error {
	return s.dispatch(func() error {
		if len(batch) == 0 {
			return nil
		}
		tx, err := s.db.Begin()
		if err != nil {
			return wrapErr(KindDatabase, "begin upsert_messages", err)
		}
		defer tx.Rollback()

		stmt, err := tx.Prepare(`
			INSERT INTO messages (account_email, uid, sender_email, sender_display, subject, date, snippet, body, flags, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
			ON CONFLICT(account_email, uid) DO UPDATE SET
				sender_email = excluded.sender_email,
				sender_display = excluded.sender_display,
				subject = excluded.subject,
				date = excluded.date,
				snippet = COALESCE(excluded.snippet, messages.snippet),
				body = COALESCE(excluded.body, messages.body),
				flags = excluded.flags,
				updated_at = excluded.updated_at
		`)
		if err != nil {
			return wrapErr(KindDatabase, "prepare upsert_messages", err)
		}
		defer stmt.Close()

		for _, m := range batch {
			encSubject, err := s.cipher.EncryptString(m.Subject)
			if err != nil {
				return wrapErr(KindEncryption, "encrypt subject", err)
			}

			var encSnippet any
			if m.Snippet != nil {
				v, err := s.cipher.EncryptString(*m.Snippet)
				if err != nil {
					return wrapErr(KindEncryption, "encrypt snippet", err)
				}
				encSnippet = v
			}

			var encBody any
			if m.Body != nil {
				v, err := s.cipher.EncryptBytes(m.Body)
				if err != nil {
					return wrapErr(KindEncryption, "encrypt body", err)
				}
				encBody = v
			}

			senderEmail := lowerTrim(m.SenderEmail)
			accountEmail := lowerTrim(m.AccountEmail)

			if _, err := stmt.Exec(accountEmail, m.UID, senderEmail, m.SenderDisplay, encSubject, m.Date, encSnippet, encBody, m.Flags); err != nil {
				return wrapErr(KindDatabase, "exec upsert_messages", err)
			}
		}

		if err := tx.Commit(); err != nil {
			return wrapErr(KindDatabase, "commit upsert_messages", err)
		}
		return nil
	})
}

// DeleteMessage performs a local-only delete; cascades the analysis row.
func (s *Store) DeleteMessage(accountEmail, uid string) error {
	return s.dispatch(func() error {
		_, err := s.db.Exec(`DELETE FROM messages WHERE account_email = ? AND uid = ?`, lowerTrim(accountEmail), uid)
		if err != nil {
			return wrapErr(KindDatabase, "delete_message", err)
		}
		return nil
	})
}

func (s *Store) decryptMessageRow(id int64, accountEmail, uid, senderEmail, senderDisplay string, encSubject string, date sql.NullString, encSnippet, encBody sql.NullString, flags string, remoteDeletedAt sql.NullTime, remoteError sql.NullString, createdAt, updatedAt time.Time) (Message, error) {
	subject, err := s.cipher.DecryptString(encSubject)
	if err != nil {
		return Message{}, wrapErr(KindDecryption, "decrypt subject", err)
	}

	var snippet string
	if encSnippet.Valid && encSnippet.String != "" {
		snippet, err = s.cipher.DecryptString(encSnippet.String)
		if err != nil {
			return Message{}, wrapErr(KindDecryption, "decrypt snippet", err)
		}
	}

	var body []byte
	if encBody.Valid && encBody.String != "" {
		body, err = s.cipher.DecryptBytes(encBody.String)
		if err != nil {
			return Message{}, wrapErr(KindDecryption, "decrypt body", err)
		}
	}

	m := Message{
		ID:            id,
		AccountEmail:  accountEmail,
		UID:           uid,
		SenderEmail:   senderEmail,
		SenderDisplay: senderDisplay,
		Subject:       subject,
		Snippet:       snippet,
		Body:          body,
		Flags:         flags,
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
	}
	if date.Valid {
		m.Date = date.String
	}
	if remoteDeletedAt.Valid {
		t := remoteDeletedAt.Time
		m.RemoteDeletedAt = &t
	}
	if remoteError.Valid {
		e := remoteError.String
		m.RemoteError = &e
	}
	return m, nil
}

// GroupedMessagesForAccount returns messages ordered by sender_email
// then date DESC, id DESC, with status and analysis joined. Decryption
// happens during this projection.
func (s *Store) GroupedMessagesForAccount(accountEmail string) ([]SenderGroup, error) {
	var groups []SenderGroup
	err := s.dispatch(func() error {
		rows, err := s.db.Query(`
			SELECT
				m.id, m.account_email, m.uid, m.sender_email, m.sender_display, m.subject, m.date,
				m.snippet, m.body, m.flags, m.remote_deleted_at, m.remote_error, m.created_at, m.updated_at,
				COALESCE(ss.status, 'neutral'),
				a.message_id, a.summary, a.sentiment, a.categories, a.metadata, a.model_id, a.analyzed, a.analyzed_at, a.analysis_confidence,
				a.validator_model_id, a.validation_status, a.validation_confidence, a.validation_notes, a.validated_at
			FROM messages m
			LEFT JOIN sender_status ss ON ss.sender_email = m.sender_email
			LEFT JOIN analysis_results a ON a.message_id = m.id
			WHERE m.account_email = ?
			ORDER BY m.sender_email ASC, m.date DESC, m.id DESC
		`, lowerTrim(accountEmail))
		if err != nil {
			return wrapErr(KindDatabase, "grouped_messages_for_account", err)
		}
		defer rows.Close()

		var current *SenderGroup
		for rows.Next() {
			var (
				id                                        int64
				accEmail, uid, senderEmail, senderDisplay string
				encSubject                                string
				date, encSnippet, encBody                 sql.NullString
				flags                                      string
				remoteDeletedAt                            sql.NullTime
				remoteError                                 sql.NullString
				createdAt, updatedAt                        time.Time
				status                                      string
				analysisMessageID                           sql.NullInt64
				summary, sentiment, categories, metadata, modelID sql.NullString
				analyzed                                    sql.NullBool
				analyzedAt                                  sql.NullTime
				confidence                                  sql.NullFloat64
				validatorModelID, validationStatus, validationNotes sql.NullString
				validationConfidence                        sql.NullFloat64
				validatedAt                                 sql.NullTime
			)
			if err := rows.Scan(
				&id, &accEmail, &uid, &senderEmail, &senderDisplay, &encSubject, &date,
				&encSnippet, &encBody, &flags, &remoteDeletedAt, &remoteError, &createdAt, &updatedAt,
				&status,
				&analysisMessageID, &summary, &sentiment, &categories, &metadata, &modelID, &analyzed, &analyzedAt, &confidence,
				&validatorModelID, &validationStatus, &validationConfidence, &validationNotes, &validatedAt,
			); err != nil {
				return wrapErr(KindDatabase, "scan grouped_messages_for_account", err)
			}

			msg, err := s.decryptMessageRow(id, accEmail, uid, senderEmail, senderDisplay, encSubject, date, encSnippet, encBody, flags, remoteDeletedAt, remoteError, createdAt, updatedAt)
			if err != nil {
				return err
			}

			var analysis *Analysis
			if analysisMessageID.Valid {
				a := &Analysis{MessageID: analysisMessageID.Int64}
				if summary.Valid {
					a.Summary = summary.String
				}
				if sentiment.Valid {
					a.Sentiment = sentiment.String
				}
				if categories.Valid && categories.String != "" {
					_ = json.Unmarshal([]byte(categories.String), &a.Categories)
				}
				if metadata.Valid && metadata.String != "" {
					_ = json.Unmarshal([]byte(metadata.String), &a.Metadata)
				}
				if modelID.Valid {
					a.ModelID = modelID.String
				}
				a.Analyzed = analyzed.Valid && analyzed.Bool
				if analyzedAt.Valid {
					t := analyzedAt.Time
					a.AnalyzedAt = &t
				}
				if confidence.Valid {
					v := confidence.Float64
					a.Confidence = &v
				}
				if validatorModelID.Valid && validatorModelID.String != "" {
					v := &ValidationRecord{ValidatorModelID: validatorModelID.String}
					if validationStatus.Valid {
						v.Status = validationStatus.String
					}
					if validationConfidence.Valid {
						c := validationConfidence.Float64
						v.Confidence = &c
					}
					if validationNotes.Valid {
						v.Notes = validationNotes.String
					}
					if validatedAt.Valid {
						t := validatedAt.Time
						v.ValidatedAt = &t
					}
					a.Validation = v
				}
				analysis = a
			}

			if current == nil || current.SenderEmail != senderEmail {
				if current != nil {
					groups = append(groups, *current)
				}
				current = &SenderGroup{
					SenderEmail:   senderEmail,
					SenderDisplay: senderDisplay,
					Status:        SenderStatus(status),
				}
			}
			current.Messages = append(current.Messages, MessageWithAnalysis{
				Message:  msg,
				Status:   SenderStatus(status),
				Analysis: analysis,
			})
		}
		if current != nil {
			groups = append(groups, *current)
		}
		return rows.Err()
	})
	return groups, err
}

// MessagesWithAnalysisForAccount returns every message for the account
// with its analysis (if any) joined, newest-first by date then id —
// the target-selection order the bulk-analysis pipeline processes in.
func (s *Store) MessagesWithAnalysisForAccount(accountEmail string) ([]MessageWithAnalysis, error) {
	var out []MessageWithAnalysis
	err := s.dispatch(func() error {
		rows, err := s.db.Query(`
			SELECT
				m.id, m.account_email, m.uid, m.sender_email, m.sender_display, m.subject, m.date,
				m.snippet, m.body, m.flags, m.remote_deleted_at, m.remote_error, m.created_at, m.updated_at,
				COALESCE(ss.status, 'neutral'),
				a.message_id, a.summary, a.sentiment, a.categories, a.metadata, a.model_id, a.analyzed, a.analyzed_at, a.analysis_confidence,
				a.validator_model_id, a.validation_status, a.validation_confidence, a.validation_notes, a.validated_at
			FROM messages m
			LEFT JOIN sender_status ss ON ss.sender_email = m.sender_email
			LEFT JOIN analysis_results a ON a.message_id = m.id
			WHERE m.account_email = ?
			ORDER BY m.date DESC, m.id DESC
		`, lowerTrim(accountEmail))
		if err != nil {
			return wrapErr(KindDatabase, "messages_with_analysis_for_account", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				id                                                 int64
				accEmail, uid, senderEmail, senderDisplay         string
				encSubject                                         string
				date, encSnippet, encBody                          sql.NullString
				flags                                              string
				remoteDeletedAt                                    sql.NullTime
				remoteError                                        sql.NullString
				createdAt, updatedAt                               time.Time
				status                                             string
				analysisMessageID                                  sql.NullInt64
				summary, sentiment, categories, metadata, modelID sql.NullString
				analyzed                                           sql.NullBool
				analyzedAt                                         sql.NullTime
				confidence                                         sql.NullFloat64
				validatorModelID, validationStatus, validationNotes sql.NullString
				validationConfidence                               sql.NullFloat64
				validatedAt                                        sql.NullTime
			)
			if err := rows.Scan(
				&id, &accEmail, &uid, &senderEmail, &senderDisplay, &encSubject, &date,
				&encSnippet, &encBody, &flags, &remoteDeletedAt, &remoteError, &createdAt, &updatedAt,
				&status,
				&analysisMessageID, &summary, &sentiment, &categories, &metadata, &modelID, &analyzed, &analyzedAt, &confidence,
				&validatorModelID, &validationStatus, &validationConfidence, &validationNotes, &validatedAt,
			); err != nil {
				return wrapErr(KindDatabase, "scan messages_with_analysis_for_account", err)
			}

			msg, err := s.decryptMessageRow(id, accEmail, uid, senderEmail, senderDisplay, encSubject, date, encSnippet, encBody, flags, remoteDeletedAt, remoteError, createdAt, updatedAt)
			if err != nil {
				return err
			}

			var analysis *Analysis
			if analysisMessageID.Valid {
				a := &Analysis{MessageID: analysisMessageID.Int64}
				if summary.Valid {
					a.Summary = summary.String
				}
				if sentiment.Valid {
					a.Sentiment = sentiment.String
				}
				if categories.Valid && categories.String != "" {
					_ = json.Unmarshal([]byte(categories.String), &a.Categories)
				}
				if metadata.Valid && metadata.String != "" {
					_ = json.Unmarshal([]byte(metadata.String), &a.Metadata)
				}
				if modelID.Valid {
					a.ModelID = modelID.String
				}
				a.Analyzed = analyzed.Valid && analyzed.Bool
				if analyzedAt.Valid {
					t := analyzedAt.Time
					a.AnalyzedAt = &t
				}
				if confidence.Valid {
					v := confidence.Float64
					a.Confidence = &v
				}
				if validatorModelID.Valid && validatorModelID.String != "" {
					v := &ValidationRecord{ValidatorModelID: validatorModelID.String}
					if validationStatus.Valid {
						v.Status = validationStatus.String
					}
					if validationConfidence.Valid {
						c := validationConfidence.Float64
						v.Confidence = &c
					}
					if validationNotes.Valid {
						v.Notes = validationNotes.String
					}
					if validatedAt.Valid {
						t := validatedAt.Time
						v.ValidatedAt = &t
					}
					a.Validation = v
				}
				analysis = a
			}

			out = append(out, MessageWithAnalysis{Message: msg, Status: SenderStatus(status), Analysis: analysis})
		}
		return rows.Err()
	})
	return out, err
}

// RecentMessageSummaries returns up to limit (capped at 100000)
// envelope-only summaries newest-first by updated_at, id.
func (s *Store) RecentMessageSummaries(accountEmail string, limit int) ([]MessageSummary, error) {
	if limit > 100000 {
		limit = 100000
	}
	if limit <= 0 {
		limit = 50
	}

	var out []MessageSummary
	err := s.dispatch(func() error {
		rows, err := s.db.Query(`
			SELECT id, account_email, uid, sender_email, sender_display, subject, date, snippet, flags, updated_at
			FROM messages
			WHERE account_email = ?
			ORDER BY updated_at DESC, id DESC
			LIMIT ?
		`, lowerTrim(accountEmail), limit)
		if err != nil {
			return wrapErr(KindDatabase, "recent_message_summaries", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				id                                         int64
				accEmail, uid, senderEmail, senderDisplay  string
				encSubject                                 string
				date, encSnippet                           sql.NullString
				flags                                      string
				updatedAt                                  time.Time
			)
			if err := rows.Scan(&id, &accEmail, &uid, &senderEmail, &senderDisplay, &encSubject, &date, &encSnippet, &flags, &updatedAt); err != nil {
				return wrapErr(KindDatabase, "scan recent_message_summaries", err)
			}
			subject, err := s.cipher.DecryptString(encSubject)
			if err != nil {
				return wrapErr(KindDecryption, "decrypt subject", err)
			}
			var snippet string
			if encSnippet.Valid && encSnippet.String != "" {
				snippet, err = s.cipher.DecryptString(encSnippet.String)
				if err != nil {
					return wrapErr(KindDecryption, "decrypt snippet", err)
				}
			}
			sum := MessageSummary{
				ID: id, AccountEmail: accEmail, UID: uid, SenderEmail: senderEmail,
				SenderDisplay: senderDisplay, Subject: subject, Snippet: snippet, Flags: flags, UpdatedAt: updatedAt,
			}
			if date.Valid {
				sum.Date = date.String
			}
			out = append(out, sum)
		}
		return rows.Err()
	})
	return out, err
}

// LatestUIDForAccount returns the numerically greatest UID observed for
// the account, or ("", false, nil) if the account has no messages.
func (s *Store) LatestUIDForAccount(accountEmail string) (string, bool, error) {
	var uid string
	found := false
	err := s.dispatch(func() error {
		row := s.db.QueryRow(`
			SELECT uid FROM messages
			WHERE account_email = ?
			ORDER BY CAST(uid AS INTEGER) DESC, id DESC
			LIMIT 1
		`, lowerTrim(accountEmail))
		switch err := row.Scan(&uid); {
		case err == sql.ErrNoRows:
			return nil
		case err != nil:
			return wrapErr(KindDatabase, "latest_uid_for_account", err)
		default:
			found = true
			return nil
		}
	})
	return uid, found, err
}

// ---- analysis ---------------------------------------------------------

// UpsertAnalysis resolves each row's message_id by (account_email, uid);
// rows with no matching message are silently skipped (no error).
func (s *Store) UpsertAnalysis(batch []AnalysisInsert) error {
	return s.dispatch(func() error {
		if len(batch) == 0 {
			return nil
		}
		tx, err := s.db.Begin()
		if err != nil {
			return wrapErr(KindDatabase, "begin upsert_analysis", err)
		}
		defer tx.Rollback()

		for _, a := range batch {
			categoriesJSON, err := json.Marshal(a.Categories)
			if err != nil {
				return wrapErr(KindSerialization, "marshal categories", err)
			}
			metadataJSON, err := json.Marshal(a.Metadata)
			if err != nil {
				return wrapErr(KindSerialization, "marshal metadata", err)
			}

			var validatorModelID, validationStatus, validationNotes any
			var validationConfidence any
			var validatedAt any
			if a.Validation != nil {
				validatorModelID = a.Validation.ValidatorModelID
				validationStatus = a.Validation.Status
				validationNotes = a.Validation.Notes
				if a.Validation.Confidence != nil {
					validationConfidence = *a.Validation.Confidence
				}
				if a.Validation.ValidatedAt != nil {
					validatedAt = *a.Validation.ValidatedAt
				}
			}

			var analyzedAt any
			if a.AnalyzedAt != nil {
				analyzedAt = *a.AnalyzedAt
			}
			var confidence any
			if a.Confidence != nil {
				confidence = *a.Confidence
			}

			res, err := tx.Exec(`
				INSERT INTO analysis_results (message_id, summary, sentiment, categories, metadata, model_id, analyzed, analyzed_at, analysis_confidence, validator_model_id, validation_status, validation_confidence, validation_notes, validated_at)
				SELECT id, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
				FROM messages WHERE account_email = ? AND uid = ?
				ON CONFLICT(message_id) DO UPDATE SET
					summary = excluded.summary,
					sentiment = excluded.sentiment,
					categories = excluded.categories,
					metadata = excluded.metadata,
					model_id = excluded.model_id,
					analyzed = excluded.analyzed,
					analyzed_at = excluded.analyzed_at,
					analysis_confidence = excluded.analysis_confidence,
					validator_model_id = excluded.validator_model_id,
					validation_status = excluded.validation_status,
					validation_confidence = excluded.validation_confidence,
					validation_notes = excluded.validation_notes,
					validated_at = excluded.validated_at
			`,
				a.Summary, a.Sentiment, string(categoriesJSON), string(metadataJSON), a.ModelID, a.Analyzed, analyzedAt, confidence,
				validatorModelID, validationStatus, validationConfidence, validationNotes, validatedAt,
				lowerTrim(a.AccountEmail), a.UID,
			)
			if err != nil {
				return wrapErr(KindDatabase, "exec upsert_analysis", err)
			}
			_ = res
		}

		if err := tx.Commit(); err != nil {
			return wrapErr(KindDatabase, "commit upsert_analysis", err)
		}
		return nil
	})
}

// ---- sender status ------------------------------------------------

// SetSenderStatus upserts a sender's status.
func (s *Store) SetSenderStatus(senderEmail string, status SenderStatus) error {
	if !status.Valid() {
		return wrapErr(KindSerialization, "invalid sender status "+string(status), nil)
	}
	return s.dispatch(func() error {
		_, err := s.db.Exec(`
			INSERT INTO sender_status (sender_email, status, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(sender_email) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at
		`, lowerTrim(senderEmail), string(status))
		if err != nil {
			return wrapErr(KindDatabase, "set_sender_status", err)
		}
		return nil
	})
}

// SenderStatusFor returns a sender's status, defaulting to neutral when
// no row exists.
func (s *Store) SenderStatusFor(senderEmail string) (SenderStatus, error) {
	var status string
	err := s.dispatch(func() error {
		row := s.db.QueryRow(`SELECT status FROM sender_status WHERE sender_email = ?`, lowerTrim(senderEmail))
		switch err := row.Scan(&status); {
		case err == sql.ErrNoRows:
			status = string(SenderStatusNeutral)
			return nil
		case err != nil:
			return wrapErr(KindDatabase, "sender_status", err)
		default:
			return nil
		}
	})
	return SenderStatus(status), err
}

// ListSenderStatuses returns every sender with a non-default status row.
func (s *Store) ListSenderStatuses() (map[string]SenderStatus, error) {
	out := make(map[string]SenderStatus)
	err := s.dispatch(func() error {
		rows, err := s.db.Query(`SELECT sender_email, status FROM sender_status`)
		if err != nil {
			return wrapErr(KindDatabase, "list_statuses", err)
		}
		defer rows.Close()
		for rows.Next() {
			var email, status string
			if err := rows.Scan(&email, &status); err != nil {
				return wrapErr(KindDatabase, "scan list_statuses", err)
			}
			out[email] = SenderStatus(status)
		}
		return rows.Err()
	})
	return out, err
}

// ---- sync state -----------------------------------------------------

// UpdateSyncState records the outcome of a sync run. last_full_sync and
// last_uid are COALESCEd so a partial update never erases prior
// progress; last_incremental_sync is always overwritten.
func (s *Store) UpdateSyncState(accountEmail string, lastUID *string, isFull bool, totalMessages int) error {
	return s.dispatch(func() error {
		var lastUIDArg any
		if lastUID != nil {
			lastUIDArg = *lastUID
		}

		if isFull {
			_, err := s.db.Exec(`
				INSERT INTO account_sync_state (account_email, last_full_sync, last_incremental_sync, last_uid, total_messages)
				VALUES (?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP, ?, ?)
				ON CONFLICT(account_email) DO UPDATE SET
					last_full_sync = CURRENT_TIMESTAMP,
					last_incremental_sync = CURRENT_TIMESTAMP,
					last_uid = COALESCE(?, account_sync_state.last_uid),
					total_messages = ?
			`, lowerTrim(accountEmail), lastUIDArg, totalMessages, lastUIDArg, totalMessages)
			if err != nil {
				return wrapErr(KindDatabase, "update_sync_state(full)", err)
			}
			return nil
		}

		_, err := s.db.Exec(`
			INSERT INTO account_sync_state (account_email, last_incremental_sync, last_uid, total_messages)
			VALUES (?, CURRENT_TIMESTAMP, ?, ?)
			ON CONFLICT(account_email) DO UPDATE SET
				last_incremental_sync = CURRENT_TIMESTAMP,
				last_uid = COALESCE(?, account_sync_state.last_uid),
				total_messages = ?
		`, lowerTrim(accountEmail), lastUIDArg, totalMessages, lastUIDArg, totalMessages)
		if err != nil {
			return wrapErr(KindDatabase, "update_sync_state(incremental)", err)
		}
		return nil
	})
}

// SyncStateFor returns the current sync watermarks for an account.
func (s *Store) SyncStateFor(accountEmail string) (AccountSyncState, error) {
	var state AccountSyncState
	state.AccountEmail = lowerTrim(accountEmail)
	err := s.dispatch(func() error {
		var lastFull, lastIncr sql.NullTime
		var lastUID sql.NullString
		var total int
		row := s.db.QueryRow(`
			SELECT last_full_sync, last_incremental_sync, last_uid, total_messages
			FROM account_sync_state WHERE account_email = ?
		`, state.AccountEmail)
		switch err := row.Scan(&lastFull, &lastIncr, &lastUID, &total); {
		case err == sql.ErrNoRows:
			return nil
		case err != nil:
			return wrapErr(KindDatabase, "sync_state_for", err)
		}
		if lastFull.Valid {
			t := lastFull.Time
			state.LastFullSync = &t
		}
		if lastIncr.Valid {
			t := lastIncr.Time
			state.LastIncrementalSync = &t
		}
		if lastUID.Valid {
			v := lastUID.String
			state.LastUID = &v
		}
		state.TotalMessages = total
		return nil
	})
	return state, err
}

// ---- remote delete substrate (C5) ------------------------------------

// PendingRemoteDeletes returns up to limit messages awaiting remote
// deletion confirmation (remote_deleted_at IS NULL).
func (s *Store) PendingRemoteDeletes(accountEmail string, limit int) ([]PendingRemoteDelete, error) {
	var out []PendingRemoteDelete
	err := s.dispatch(func() error {
		rows, err := s.db.Query(`
			SELECT uid, remote_error FROM messages
			WHERE account_email = ? AND remote_deleted_at IS NULL
			ORDER BY id ASC
			LIMIT ?
		`, lowerTrim(accountEmail), limit)
		if err != nil {
			return wrapErr(KindDatabase, "pending_remote_deletes", err)
		}
		defer rows.Close()
		for rows.Next() {
			var uid string
			var remoteError sql.NullString
			if err := rows.Scan(&uid, &remoteError); err != nil {
				return wrapErr(KindDatabase, "scan pending_remote_deletes", err)
			}
			p := PendingRemoteDelete{AccountEmail: lowerTrim(accountEmail), UID: uid}
			if remoteError.Valid {
				e := remoteError.String
				p.RemoteError = &e
			}
			out = append(out, p)
		}
		return rows.Err()
	})
	return out, err
}

// CountPendingRemoteDeletes counts rows awaiting remote deletion.
func (s *Store) CountPendingRemoteDeletes(accountEmail string) (int, error) {
	var count int
	err := s.dispatch(func() error {
		row := s.db.QueryRow(`
			SELECT COUNT(*) FROM messages WHERE account_email = ? AND remote_deleted_at IS NULL
		`, lowerTrim(accountEmail))
		if err := row.Scan(&count); err != nil {
			return wrapErr(KindDatabase, "count_pending_remote_deletes", err)
		}
		return nil
	})
	return count, err
}

// MarkDeletedRemote records the outcome of a remote-delete attempt for
// one UID. If okTS is set, remote_error is cleared (the invariant:
// remote_deleted_at set implies remote_error null). If errMsg is set
// instead, remote_deleted_at stays null.
func (s *Store) MarkDeletedRemote(accountEmail, uid string, okTS *time.Time, errMsg *string) error {
	return s.dispatch(func() error {
		var deletedAtArg, errArg any
		if okTS != nil {
			deletedAtArg = *okTS
			errArg = nil
		} else if errMsg != nil {
			errArg = *errMsg
		}
		_, err := s.db.Exec(`
			UPDATE messages SET remote_deleted_at = ?, remote_error = ? WHERE account_email = ? AND uid = ?
		`, deletedAtArg, errArg, lowerTrim(accountEmail), uid)
		if err != nil {
			return wrapErr(KindDatabase, "mark_deleted_remote", err)
		}
		return nil
	})
}

// ClearRemoteError clears a transient remote_error ahead of
// re-enqueuing, used by the reconciliation loop.
func (s *Store) ClearRemoteError(accountEmail, uid string) error {
	return s.dispatch(func() error {
		_, err := s.db.Exec(`
			UPDATE messages SET remote_error = NULL WHERE account_email = ? AND uid = ?
		`, lowerTrim(accountEmail), uid)
		if err != nil {
			return wrapErr(KindDatabase, "clear_remote_error", err)
		}
		return nil
	})
}

// ---- settings ---------------------------------------------------------

// SetSetting upserts a process-wide preference.
func (s *Store) SetSetting(key, value string) error {
	return s.dispatch(func() error {
		_, err := s.db.Exec(`
			INSERT INTO app_settings (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, key, value)
		if err != nil {
			return wrapErr(KindDatabase, "set_setting", err)
		}
		return nil
	})
}

// GetSetting returns a preference value, or ("", false, nil) if unset.
func (s *Store) GetSetting(key string) (string, bool, error) {
	var value string
	found := false
	err := s.dispatch(func() error {
		row := s.db.QueryRow(`SELECT value FROM app_settings WHERE key = ?`, key)
		switch err := row.Scan(&value); {
		case err == sql.ErrNoRows:
			return nil
		case err != nil:
			return wrapErr(KindDatabase, "get_setting", err)
		default:
			found = true
			return nil
		}
	})
	return value, found, err
}

// ---- accounts -----------------------------------------------------

// UpsertAccount inserts or updates account metadata.
func (s *Store) UpsertAccount(a Account) error {
	return s.dispatch(func() error {
		_, err := s.db.Exec(`
			INSERT INTO accounts (email, provider, custom_host, custom_port, display_name, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
			ON CONFLICT(email) DO UPDATE SET
				provider = excluded.provider,
				custom_host = excluded.custom_host,
				custom_port = excluded.custom_port,
				display_name = excluded.display_name,
				updated_at = excluded.updated_at
		`, lowerTrim(a.Email), a.Provider, a.CustomHost, a.CustomPort, a.DisplayName)
		if err != nil {
			return wrapErr(KindDatabase, "upsert_account", err)
		}
		return nil
	})
}

// RemoveAccount deletes an account row; cascades messages and analyses.
func (s *Store) RemoveAccount(email string) error {
	return s.dispatch(func() error {
		_, err := s.db.Exec(`DELETE FROM accounts WHERE email = ?`, lowerTrim(email))
		if err != nil {
			return wrapErr(KindDatabase, "remove_account", err)
		}
		return nil
	})
}

// ListAccounts returns every persisted account.
func (s *Store) ListAccounts() ([]Account, error) {
	var out []Account
	err := s.dispatch(func() error {
		rows, err := s.db.Query(`SELECT email, provider, custom_host, custom_port, display_name, created_at, updated_at FROM accounts ORDER BY email ASC`)
		if err != nil {
			return wrapErr(KindDatabase, "list_accounts", err)
		}
		defer rows.Close()
		for rows.Next() {
			var a Account
			var customHost, displayName sql.NullString
			var customPort sql.NullInt64
			if err := rows.Scan(&a.Email, &a.Provider, &customHost, &customPort, &displayName, &a.CreatedAt, &a.UpdatedAt); err != nil {
				return wrapErr(KindDatabase, "scan list_accounts", err)
			}
			if customHost.Valid {
				v := customHost.String
				a.CustomHost = &v
			}
			if customPort.Valid {
				v := int(customPort.Int64)
				a.CustomPort = &v
			}
			if displayName.Valid {
				v := displayName.String
				a.DisplayName = &v
			}
			out = append(out, a)
		}
		return rows.Err()
	})
	return out, err
}

// AccountByEmail looks up one account, returning ErrNotFound if absent.
func (s *Store) AccountByEmail(email string) (Account, error) {
	var a Account
	err := s.dispatch(func() error {
		var customHost, displayName sql.NullString
		var customPort sql.NullInt64
		row := s.db.QueryRow(`SELECT email, provider, custom_host, custom_port, display_name, created_at, updated_at FROM accounts WHERE email = ?`, lowerTrim(email))
		switch err := row.Scan(&a.Email, &a.Provider, &customHost, &customPort, &displayName, &a.CreatedAt, &a.UpdatedAt); {
		case err == sql.ErrNoRows:
			return ErrNotFound
		case err != nil:
			return wrapErr(KindDatabase, "account_by_email", err)
		}
		if customHost.Valid {
			v := customHost.String
			a.CustomHost = &v
		}
		if customPort.Valid {
			v := int(customPort.Int64)
			a.CustomPort = &v
		}
		if displayName.Valid {
			v := displayName.String
			a.DisplayName = &v
		}
		return nil
	})
	return a, err
}

func lowerTrim(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

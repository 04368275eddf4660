package imapclient

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/vivasaayi/PersonalMailClient/internal/account"
	"github.com/vivasaayi/PersonalMailClient/internal/providererror"
)

const (
	// maxUIDsPerSearch is the windowed-search bisection threshold: a
	// SINCE/BEFORE search returning at least this many UIDs triggers a
	// further date-range bisection, working around servers (notably
	// Yahoo) with a result-set cap around 1000.
	maxUIDsPerSearch = 900
	// fullSyncEnumerationBatch is the UID-range batch size used while
	// enumerating every UID up to uid_next-1 in a full sync.
	fullSyncEnumerationBatch = 10000
	// snippetFetchBytes caps how much of BODY[TEXT] is read per message
	// for snippet extraction.
	snippetFetchBytes = 4096
	trashMailboxName  = "Trash"
)

// BatchResult is one chunk streamed by FetchAll.
type BatchResult struct {
	Index     int
	Total     int
	Requested int
	Fetched   int
	Messages  []MessageEnvelope
}

// SyncWindow bounds a windowed (date-based) enumeration. Before is
// optional; when nil a single SINCE search is issued with no upper
// bound.
type SyncWindow struct {
	Since  time.Time
	Before *time.Time
}

// VerifyCredentials performs LOGIN + SELECT INBOX + LOGOUT; success
// means the credentials are valid and the inbox is selectable.
func VerifyCredentials(ctx context.Context, creds account.Credentials) error {
	s, err := Open(ctx, creds)
	if err != nil {
		return err
	}
	defer s.Close()

	if _, err := s.selectInbox(ctx); err != nil {
		return err
	}
	return nil
}

// FetchRecent fetches the n most recent messages (n must be in
// [1,200]) using the sequence-range (EXISTS-n+1):EXISTS, then resolves
// envelope/date/flags for that range in one round trip. Results are
// sorted newest-first by date.
func FetchRecent(ctx context.Context, creds account.Credentials, n int) ([]MessageEnvelope, error) {
	n = clampFetchLimit(n)
	if n <= 0 {
		return nil, providererror.OtherMessage("limit must be greater than zero")
	}

	s, err := Open(ctx, creds)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	selectData, err := s.selectInbox(ctx)
	if err != nil {
		return nil, err
	}
	if selectData.NumMessages == 0 {
		return nil, nil
	}

	return s.fetchRecentFromCount(ctx, selectData.NumMessages, n)
}

// clampFetchLimit caps FetchRecent's n at 200; a non-positive input is
// left as-is so the caller can reject it with a clearer error than a
// silently-empty result.
func clampFetchLimit(n int) int {
	if n > 200 {
		return 200
	}
	return n
}

// fetchRecentFromCount computes the sequence range for the n most
// recent of numMessages total messages, fetches it, and returns the
// result sorted newest-first. Split out from FetchRecent so the
// sequence-range arithmetic and sort order are testable without a live
// session.
func (s *Session) fetchRecentFromCount(ctx context.Context, numMessages uint32, n int) ([]MessageEnvelope, error) {
	if numMessages == 0 {
		return nil, nil
	}

	start := uint32(1)
	if numMessages > uint32(n) {
		start = numMessages - uint32(n) + 1
	}

	seqSet := imap.SeqSet{}
	seqSet.AddRange(start, numMessages)

	messages, err := s.fetchEnvelopes(ctx, seqSet, false)
	if err != nil {
		return nil, err
	}

	sort.Slice(messages, func(i, j int) bool { return messages[i].Date.After(messages[j].Date) })
	return messages, nil
}

// fetchEnvelopesWire issues one FETCH for UID, ENVELOPE, INTERNALDATE,
// FLAGS, and a BODY.PEEK[TEXT] section for snippet extraction, over
// either a sequence set or a UID set. The section is requested without
// a partial range; only its first snippetFetchBytes bytes are read.
func (s *Session) fetchEnvelopesWire(ctx context.Context, set imap.NumSet, isUID bool) ([]MessageEnvelope, error) {
	options := &imap.FetchOptions{
		UID:          true,
		Envelope:     true,
		InternalDate: true,
		Flags:        true,
		BodySection: []*imap.FetchItemBodySection{
			{Specifier: imap.PartSpecifierText, Peek: true},
		},
	}

	var fetchCmd *imapclient.FetchCommand
	if isUID {
		fetchCmd = s.client.Fetch(set, options)
	} else {
		fetchCmd = s.client.Fetch(set, options)
	}

	var out []MessageEnvelope
	for {
		if ctx.Err() != nil {
			fetchCmd.Close()
			return out, ctx.Err()
		}
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		var uid imap.UID
		var envelope *imap.Envelope
		var internalDate time.Time
		var flags []imap.Flag
		var bodyText []byte

		for {
			item := msg.Next()
			if item == nil {
				break
			}
			switch data := item.(type) {
			case imapclient.FetchItemDataUID:
				uid = data.UID
			case imapclient.FetchItemDataEnvelope:
				envelope = data.Envelope
			case imapclient.FetchItemDataInternalDate:
				internalDate = data.Time
			case imapclient.FetchItemDataFlags:
				flags = data.Flags
			case imapclient.FetchItemDataBodySection:
				if data.Literal != nil {
					lr := io.LimitReader(data.Literal, snippetFetchBytes)
					b, _ := io.ReadAll(lr)
					bodyText = b
				}
			}
		}

		if uid == 0 {
			continue
		}

		subject, senderEmail, senderDisplay := decodeEnvelope(envelope)
		out = append(out, MessageEnvelope{
			UID:           strconv.FormatUint(uint64(uid), 10),
			SenderEmail:   senderEmail,
			SenderDisplay: senderDisplay,
			Subject:       subject,
			Date:          resolveDate(internalDate, envelope),
			Snippet:       extractSnippet(bodyText),
			Flags:         mapFlags(flags),
		})
	}

	if err := fetchCmd.Close(); err != nil && ctx.Err() == nil {
		return out, providererror.Imap(fmt.Errorf("fetch: %w", err))
	}
	return out, nil
}

// FetchAll streams every message matching since/window constraints in
// chunks of chunkSize (clamped to [50,1000]). The results channel is
// bounded (64 batches): once its buffer is full the producer goroutine
// blocks until the consumer drains it or ctx is cancelled, so a slow
// consumer applies backpressure instead of letting memory grow. Batches
// are emitted in ascending index order. The error channel receives at
// most one value before being closed.
func FetchAll(ctx context.Context, creds account.Credentials, sinceUID string, chunkSize int, window *SyncWindow) (<-chan BatchResult, <-chan error) {
	results := make(chan BatchResult, 64)
	errCh := make(chan error, 1)

	chunkSize = clampChunkSize(chunkSize)

	go func() {
		defer close(results)
		defer close(errCh)

		s, err := Open(ctx, creds)
		if err != nil {
			errCh <- err
			return
		}
		defer s.Close()

		selectData, err := s.selectInbox(ctx)
		if err != nil {
			errCh <- err
			return
		}

		var uids []uint32
		if window != nil {
			uids, err = s.enumerateWindowed(ctx, *window)
		} else {
			uids, err = s.enumerateFull(ctx, uint32(selectData.UIDNext))
		}
		if err != nil {
			errCh <- err
			return
		}

		s.streamUIDBatches(ctx, uids, sinceUID, chunkSize, results, errCh)
	}()

	return results, errCh
}

// clampChunkSize bounds a caller-requested FetchAll chunk size to
// [50,1000].
func clampChunkSize(n int) int {
	if n < 50 {
		return 50
	}
	if n > 1000 {
		return 1000
	}
	return n
}

// streamUIDBatches filters uids to those above the sinceUID watermark
// (if any), sorts ascending, and fetches+emits them in chunkSize
// batches on results. Split out from FetchAll so the
// filter/sort/chunk sequencing is testable without a live session: a
// test constructs a Session with a fake fetchEnvelopes and calls this
// directly.
func (s *Session) streamUIDBatches(ctx context.Context, uids []uint32, sinceUID string, chunkSize int, results chan<- BatchResult, errCh chan<- error) {
	if sinceUID != "" {
		threshold, parseErr := strconv.ParseUint(sinceUID, 10, 32)
		if parseErr == nil {
			filtered := uids[:0]
			for _, uid := range uids {
				if uint64(uid) > threshold {
					filtered = append(filtered, uid)
				}
			}
			uids = filtered
		}
	}

	if len(uids) == 0 {
		return
	}

	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })

	total := (len(uids) + chunkSize - 1) / chunkSize
	for i := 0; i < len(uids); i += chunkSize {
		if ctx.Err() != nil {
			errCh <- ctx.Err()
			return
		}
		end := i + chunkSize
		if end > len(uids) {
			end = len(uids)
		}
		chunk := uids[i:end]

		uidSet := imap.UIDSet{}
		for _, uid := range chunk {
			uidSet.AddNum(imap.UID(uid))
		}

		messages, fetchErr := s.fetchEnvelopes(ctx, uidSet, true)
		if fetchErr != nil {
			errCh <- fetchErr
			return
		}

		select {
		case results <- BatchResult{
			Index:     i/chunkSize + 1,
			Total:     total,
			Requested: len(chunk),
			Fetched:   len(messages),
			Messages:  messages,
		}:
		case <-ctx.Done():
			errCh <- ctx.Err()
			return
		}
	}
}

// enumerateFull collects every existing UID below uidNext by issuing
// UID-range FETCH(UID) calls in batches of fullSyncEnumerationBatch. If
// a batch fails, enumeration stops and whatever was collected so far is
// returned (partial progress is acceptable, per the full-sync design).
func (s *Session) enumerateFull(ctx context.Context, uidNext uint32) ([]uint32, error) {
	if uidNext <= 1 {
		return nil, nil
	}
	maxUID := uidNext - 1

	var all []uint32
	for start := uint32(1); start <= maxUID; start += fullSyncEnumerationBatch {
		if ctx.Err() != nil {
			return all, nil
		}
		end := start + fullSyncEnumerationBatch - 1
		if end > maxUID {
			end = maxUID
		}

		uidSet := imap.UIDSet{}
		uidSet.AddRange(imap.UID(start), imap.UID(end))

		fetchCmd := s.client.Fetch(uidSet, &imap.FetchOptions{UID: true})
		var batchUIDs []uint32
		batchFailed := false
		for {
			msg := fetchCmd.Next()
			if msg == nil {
				break
			}
			for {
				item := msg.Next()
				if item == nil {
					break
				}
				if data, ok := item.(imapclient.FetchItemDataUID); ok {
					batchUIDs = append(batchUIDs, uint32(data.UID))
				}
			}
		}
		if err := fetchCmd.Close(); err != nil {
			batchFailed = true
		}

		all = append(all, batchUIDs...)
		if batchFailed {
			break
		}
	}
	return all, nil
}

// enumerateWindowed issues UID SEARCH SINCE/BEFORE and recursively
// bisects the date range whenever the result count reaches
// maxUIDsPerSearch, terminating bisection once the span is at most one
// day (accepting a truncated result at that point).
func (s *Session) enumerateWindowed(ctx context.Context, window SyncWindow) ([]uint32, error) {
	if window.Before == nil {
		return s.searchRange(ctx, window.Since, nil)
	}
	return s.bisectWindow(ctx, window.Since, *window.Before)
}

func (s *Session) bisectWindow(ctx context.Context, since, before time.Time) ([]uint32, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	uids, err := s.searchRange(ctx, since, &before)
	if err != nil {
		return nil, err
	}

	if len(uids) < maxUIDsPerSearch {
		return uids, nil
	}

	span := before.Sub(since)
	if span <= 24*time.Hour {
		s.log.Warn().
			Time("since", since).
			Time("before", before).
			Int("count", len(uids)).
			Msg("windowed search truncated at minimum bisection span")
		return uids, nil
	}

	mid := since.Add(span / 2)
	left, err := s.bisectWindow(ctx, since, mid)
	if err != nil {
		return nil, err
	}
	right, err := s.bisectWindow(ctx, mid, before)
	if err != nil {
		return nil, err
	}
	return append(left, right...), nil
}

func (s *Session) searchDateRange(ctx context.Context, since time.Time, before *time.Time) ([]uint32, error) {
	criteria := &imap.SearchCriteria{}
	criteria.Since = since
	if before != nil {
		criteria.Before = *before
	}

	searchCmd := s.client.UIDSearch(criteria, nil)

	type result struct {
		data *imap.SearchData
		err  error
	}
	resultCh := make(chan result, 1)
	go func() {
		data, err := searchCmd.Wait()
		resultCh <- result{data, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-resultCh:
		if r.err != nil {
			return nil, providererror.Imap(fmt.Errorf("uid search: %w", r.err))
		}
		uids := make([]uint32, 0, len(r.data.AllUIDs()))
		for _, uid := range r.data.AllUIDs() {
			uids = append(uids, uint32(uid))
		}
		return uids, nil
	}
}

// parseUIDs converts UID strings to uint32, silently skipping any that
// do not parse (a malformed UID from a stale caller should not abort
// the whole batch).
func parseUIDs(uidStrs []string) []uint32 {
	out := make([]uint32, 0, len(uidStrs))
	for _, s := range uidStrs {
		n, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			continue
		}
		out = append(out, uint32(n))
	}
	return out
}

// DeleteMessage deletes a single message via DeleteMessages.
func DeleteMessage(ctx context.Context, creds account.Credentials, uid string) error {
	return DeleteMessages(ctx, creds, []string{uid})
}

// DeleteMessages selects INBOX, ensures the trash folder exists, copies
// the given UIDs to it, marks them \Deleted, and expunges.
func DeleteMessages(ctx context.Context, creds account.Credentials, uids []string) error {
	if len(uids) == 0 {
		return nil
	}

	s, err := Open(ctx, creds)
	if err != nil {
		return err
	}
	defer s.Close()

	if _, err := s.selectInbox(ctx); err != nil {
		return err
	}

	uidSet := imap.UIDSet{}
	for _, uid := range parseUIDs(uids) {
		uidSet.AddNum(imap.UID(uid))
	}

	if _, err := s.ensureMailbox(ctx, trashMailboxName); err == nil {
		if _, err := s.selectInbox(ctx); err != nil {
			return err
		}
		copyCmd := s.client.Copy(uidSet, trashMailboxName)
		if _, err := copyCmd.Wait(); err != nil {
			return providererror.Imap(fmt.Errorf("copy to trash: %w", err))
		}
	}

	storeFlags := imap.StoreFlags{Op: imap.StoreFlagsAdd, Flags: []imap.Flag{imap.FlagDeleted}, Silent: true}
	storeCmd := s.client.Store(uidSet, &storeFlags, nil)
	if err := storeCmd.Close(); err != nil {
		return providererror.Imap(fmt.Errorf("store deleted flag: %w", err))
	}

	if s.caps.Has(imap.CapUIDPlus) {
		if err := s.client.UIDExpunge(uidSet).Close(); err != nil {
			return providererror.Imap(fmt.Errorf("uid expunge: %w", err))
		}
		return nil
	}
	if err := s.client.Expunge().Close(); err != nil {
		return providererror.Imap(fmt.Errorf("expunge: %w", err))
	}
	return nil
}

// MoveBlocked moves every message from each sender address into folder:
// for each sender, UID SEARCH FROM "sender", then COPY+STORE+EXPUNGE.
func MoveBlocked(ctx context.Context, creds account.Credentials, senders []string, folder string) error {
	if len(senders) == 0 {
		return nil
	}

	s, err := Open(ctx, creds)
	if err != nil {
		return err
	}
	defer s.Close()

	if _, err := s.selectInbox(ctx); err != nil {
		return err
	}
	if _, err := s.ensureMailbox(ctx, folder); err != nil {
		return err
	}
	if _, err := s.selectInbox(ctx); err != nil {
		return err
	}

	for _, sender := range senders {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		criteria := &imap.SearchCriteria{
			Header: []imap.SearchCriteriaHeaderField{{Key: "FROM", Value: sender}},
		}
		searchCmd := s.client.UIDSearch(criteria, nil)
		data, err := searchCmd.Wait()
		if err != nil {
			return providererror.Imap(fmt.Errorf("search from %s: %w", sender, err))
		}
		allUIDs := data.AllUIDs()
		if len(allUIDs) == 0 {
			continue
		}

		uidSet := imap.UIDSet{}
		for _, uid := range allUIDs {
			uidSet.AddNum(uid)
		}

		copyCmd := s.client.Copy(uidSet, folder)
		if _, err := copyCmd.Wait(); err != nil {
			return providererror.Imap(fmt.Errorf("copy blocked sender %s: %w", sender, err))
		}

		storeFlags := imap.StoreFlags{Op: imap.StoreFlagsAdd, Flags: []imap.Flag{imap.FlagDeleted}, Silent: true}
		if err := s.client.Store(uidSet, &storeFlags, nil).Close(); err != nil {
			return providererror.Imap(fmt.Errorf("store deleted flag for %s: %w", sender, err))
		}

		if s.caps.Has(imap.CapUIDPlus) {
			if err := s.client.UIDExpunge(uidSet).Close(); err != nil {
				return providererror.Imap(fmt.Errorf("uid expunge for %s: %w", sender, err))
			}
		} else if err := s.client.Expunge().Close(); err != nil {
			return providererror.Imap(fmt.Errorf("expunge for %s: %w", sender, err))
		}
	}

	return nil
}

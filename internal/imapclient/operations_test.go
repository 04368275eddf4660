package imapclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeServerSearch models a server whose UID SEARCH SINCE/BEFORE caps
// results at capPerSearch, splitting allUIDs (assigned one per step,
// one hour when step is zero, starting at since) across the requested
// window.
type fakeServerSearch struct {
	since        time.Time
	totalUIDs    int
	capPerSearch int
	step         time.Duration
	calls        int
}

func (f *fakeServerSearch) search(ctx context.Context, since time.Time, before *time.Time) ([]uint32, error) {
	f.calls++
	step := f.step
	if step == 0 {
		step = time.Hour
	}
	var uids []uint32
	for i := 0; i < f.totalUIDs; i++ {
		t := f.since.Add(time.Duration(i) * step)
		if t.Before(since) {
			continue
		}
		if before != nil && !t.Before(*before) {
			continue
		}
		uids = append(uids, uint32(i+1))
	}
	if len(uids) > f.capPerSearch {
		uids = uids[:f.capPerSearch]
	}
	return uids, nil
}

// TestBisectWindowEnumeratesAllUIDsAcrossACappedServer is spec.md §8
// scenario 6: a server caps UID SEARCH at 900 results; 2000 messages
// exist across a wide date span; the implementation must issue at
// least 3 searches and ultimately enumerate every UID exactly once.
func TestBisectWindowEnumeratesAllUIDsAcrossACappedServer(t *testing.T) {
	since := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	before := since.Add(2000 * time.Hour)
	fake := &fakeServerSearch{since: since, totalUIDs: 2000, capPerSearch: 900}

	s := &Session{log: zerolog.Nop(), searchRange: fake.search}

	uids, err := s.bisectWindow(context.Background(), since, before)
	require.NoError(t, err)

	require.GreaterOrEqual(t, fake.calls, 3, "a 900-cap server holding 2000 messages must be searched at least 3 times")

	seen := make(map[uint32]bool, len(uids))
	for _, u := range uids {
		require.False(t, seen[u], "uid %d enumerated more than once", u)
		seen[u] = true
	}
	require.Len(t, seen, 2000, "must ultimately enumerate all 2000 uids")
}

func TestBisectWindowReturnsWithoutSplittingWhenUnderCap(t *testing.T) {
	since := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	before := since.Add(24 * time.Hour)
	fake := &fakeServerSearch{since: since, totalUIDs: 10, capPerSearch: 900}

	s := &Session{log: zerolog.Nop(), searchRange: fake.search}

	uids, err := s.bisectWindow(context.Background(), since, before)
	require.NoError(t, err)
	require.Len(t, uids, 10)
	require.Equal(t, 1, fake.calls, "a result under the cap must not trigger a split")
}

func TestBisectWindowStopsSplittingAtOneDaySpan(t *testing.T) {
	since := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	before := since.Add(24 * time.Hour)
	// One message per minute puts 1440 messages inside the one-day span,
	// so the 900-capped search is saturated and bisection would keep
	// trying were it not for the span floor.
	fake := &fakeServerSearch{since: since, totalUIDs: 5000, capPerSearch: 900, step: time.Minute}

	s := &Session{log: zerolog.Nop(), searchRange: fake.search}

	uids, err := s.bisectWindow(context.Background(), since, before)
	require.NoError(t, err)
	require.Equal(t, 1, fake.calls, "a span already at the one-day floor must not recurse further")
	require.Len(t, uids, 900, "the truncated, capped result is accepted once the floor is hit")
}

func TestBisectWindowSplitsExactlyInHalf(t *testing.T) {
	since := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	// 1200 hourly messages over 50 days: the first search saturates the
	// 900 cap, and each 25-day half holds 600, so exactly one split.
	before := since.Add(50 * 24 * time.Hour)
	fake := &fakeServerSearch{since: since, totalUIDs: 1200, capPerSearch: 900}

	s := &Session{log: zerolog.Nop(), searchRange: fake.search}

	uids, err := s.bisectWindow(context.Background(), since, before)
	require.NoError(t, err)
	require.Len(t, uids, 1200)
	require.Equal(t, 3, fake.calls, "one saturated search followed by one search per half")
}

func TestEnumerateWindowedWithoutBeforeIssuesOneOpenEndedSearch(t *testing.T) {
	since := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := &fakeServerSearch{since: since, totalUIDs: 5, capPerSearch: 900}

	s := &Session{log: zerolog.Nop(), searchRange: fake.search}

	uids, err := s.enumerateWindowed(context.Background(), SyncWindow{Since: since})
	require.NoError(t, err)
	require.Len(t, uids, 5)
	require.Equal(t, 1, fake.calls)
}

func TestFetchRecentFromCountClampsStartAndSortsNewestFirst(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var requestedSet imap.NumSet
	fakeFetch := func(ctx context.Context, set imap.NumSet, isUID bool) ([]MessageEnvelope, error) {
		requestedSet = set
		require.False(t, isUID, "FetchRecent fetches by sequence number, not UID")
		return []MessageEnvelope{
			{UID: "101", Date: base},
			{UID: "103", Date: base.Add(2 * time.Hour)},
			{UID: "102", Date: base.Add(time.Hour)},
		}, nil
	}

	s := &Session{fetchEnvelopes: fakeFetch}

	msgs, err := s.fetchRecentFromCount(context.Background(), 150, 50)
	require.NoError(t, err)
	requestedStr := fmt.Sprintf("%v", requestedSet)
	require.Contains(t, requestedStr, "101", "150 total messages limited to 50 must start at 101")
	require.Contains(t, requestedStr, "150")
	require.Equal(t, "103", msgs[0].UID, "newest message must sort first")
	require.Equal(t, "102", msgs[1].UID)
	require.Equal(t, "101", msgs[2].UID)
}

func TestFetchRecentFromCountWhenCountBelowLimitStartsAtOne(t *testing.T) {
	var requestedSet imap.NumSet
	fakeFetch := func(ctx context.Context, set imap.NumSet, isUID bool) ([]MessageEnvelope, error) {
		requestedSet = set
		return nil, nil
	}

	s := &Session{fetchEnvelopes: fakeFetch}

	_, err := s.fetchRecentFromCount(context.Background(), 30, 50)
	require.NoError(t, err)
	requestedStr := fmt.Sprintf("%v", requestedSet)
	require.Contains(t, requestedStr, "30", "fewer messages than the limit must still request the full range up to the mailbox count")
}

func TestClampFetchLimit(t *testing.T) {
	require.Equal(t, 200, clampFetchLimit(500))
	require.Equal(t, 50, clampFetchLimit(50))
	require.Equal(t, 0, clampFetchLimit(0))
}

func TestClampChunkSize(t *testing.T) {
	require.Equal(t, 50, clampChunkSize(1))
	require.Equal(t, 1000, clampChunkSize(5000))
	require.Equal(t, 200, clampChunkSize(200))
}

func TestStreamUIDBatchesFiltersSinceUIDAndChunks(t *testing.T) {
	var fetchedSets []imap.NumSet
	fakeFetch := func(ctx context.Context, set imap.NumSet, isUID bool) ([]MessageEnvelope, error) {
		require.True(t, isUID)
		fetchedSets = append(fetchedSets, set)
		return []MessageEnvelope{{UID: "x"}}, nil
	}
	s := &Session{fetchEnvelopes: fakeFetch}

	results := make(chan BatchResult, 16)
	errCh := make(chan error, 1)

	uids := []uint32{5, 1, 2, 3, 4, 6, 7, 8, 9, 10}
	s.streamUIDBatches(context.Background(), uids, "3", 3, results, errCh)
	close(results)
	close(errCh)

	require.NoError(t, <-errCh)

	var batches []BatchResult
	for b := range results {
		batches = append(batches, b)
	}

	// uids > 3: {4,5,6,7,8,9,10} = 7 uids, chunked by 3 => 3 batches (3,3,1)
	require.Len(t, batches, 3)
	require.Equal(t, 3, batches[2].Total)
	require.Equal(t, 1, batches[2].Requested)
	require.Len(t, fetchedSets, 3)
}

func TestStreamUIDBatchesWithNoSinceUIDKeepsEverything(t *testing.T) {
	fakeFetch := func(ctx context.Context, set imap.NumSet, isUID bool) ([]MessageEnvelope, error) {
		return []MessageEnvelope{{UID: "x"}}, nil
	}
	s := &Session{fetchEnvelopes: fakeFetch}

	results := make(chan BatchResult, 16)
	errCh := make(chan error, 1)

	s.streamUIDBatches(context.Background(), []uint32{1, 2, 3}, "", 50, results, errCh)
	close(results)
	close(errCh)

	require.NoError(t, <-errCh)
	var total int
	for b := range results {
		total += b.Requested
	}
	require.Equal(t, 3, total)
}

func TestStreamUIDBatchesPropagatesFetchError(t *testing.T) {
	fakeErr := errFixture{"fetch failed"}
	fakeFetch := func(ctx context.Context, set imap.NumSet, isUID bool) ([]MessageEnvelope, error) {
		return nil, fakeErr
	}
	s := &Session{fetchEnvelopes: fakeFetch}

	results := make(chan BatchResult, 16)
	errCh := make(chan error, 1)

	s.streamUIDBatches(context.Background(), []uint32{1}, "", 50, results, errCh)
	close(results)
	close(errCh)

	require.Equal(t, fakeErr, <-errCh)
}

type errFixture struct{ msg string }

func (e errFixture) Error() string { return e.msg }

func TestParseUIDsSkipsInvalidEntries(t *testing.T) {
	out := parseUIDs([]string{"1", "not-a-number", "42", ""})
	require.Equal(t, []uint32{1, 42}, out)
}

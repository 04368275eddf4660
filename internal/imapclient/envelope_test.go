package imapclient

import (
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelopeNil(t *testing.T) {
	subject, email, display := decodeEnvelope(nil)
	require.Empty(t, subject)
	require.Empty(t, email)
	require.Empty(t, display)
}

func TestDecodeEnvelopeExtractsSubjectAndSender(t *testing.T) {
	env := &imap.Envelope{
		Subject: "  Hello World  ",
		From: []imap.Address{
			{Name: "Jane Doe", Mailbox: "jane", Host: "example.com"},
		},
	}
	subject, email, display := decodeEnvelope(env)
	require.Equal(t, "Hello World", subject)
	require.Equal(t, "jane@example.com", email)
	require.Equal(t, "Jane Doe", display)
}

func TestDecodeEnvelopeNoFrom(t *testing.T) {
	env := &imap.Envelope{Subject: "no sender"}
	_, email, display := decodeEnvelope(env)
	require.Empty(t, email)
	require.Empty(t, display)
}

func TestLossyUTF8StripsInvalidBytes(t *testing.T) {
	invalid := string([]byte{0xff, 0xfe, 'o', 'k'})
	require.Equal(t, "ok", lossyUTF8(invalid))
}

func TestMapFlagsKnownAndUnknown(t *testing.T) {
	flags := []imap.Flag{
		imap.FlagSeen,
		imap.FlagAnswered,
		imap.FlagFlagged,
		imap.FlagDeleted,
		imap.FlagDraft,
		imap.FlagRecent,
		imap.Flag("\\Custom"),
	}
	out := mapFlags(flags)
	require.Equal(t, []string{"seen", "answered", "flagged", "deleted", "draft", "recent", "Custom"}, out)
}

func TestMapFlagsEmpty(t *testing.T) {
	out := mapFlags(nil)
	require.Empty(t, out)
}

func TestExtractSnippetCollapsesNewlines(t *testing.T) {
	raw := []byte("line one\r\nline two\nline three")
	snippet := extractSnippet(raw)
	require.Equal(t, "line one line two line three", snippet)
}

func TestExtractSnippetTruncatesLongText(t *testing.T) {
	words := make([]string, 100)
	for i := range words {
		words[i] = "word"
	}
	raw := []byte(strings.Join(words, " "))
	snippet := extractSnippet(raw)

	// first 80 words of "word" joined by single spaces = 399 chars before
	// the 280-char truncation kicks in.
	require.True(t, strings.HasSuffix(snippet, "…"))
	require.LessOrEqual(t, len([]rune(snippet)), 281)
}

func TestExtractSnippetEmpty(t *testing.T) {
	require.Equal(t, "", extractSnippet(nil))
}

func TestResolveDatePrefersInternalDate(t *testing.T) {
	internal := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	envelopeDate := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	env := &imap.Envelope{Date: envelopeDate}

	got := resolveDate(internal, env)
	require.Equal(t, internal.UTC(), got)
}

func TestResolveDateFallsBackToEnvelope(t *testing.T) {
	envelopeDate := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	env := &imap.Envelope{Date: envelopeDate}

	got := resolveDate(time.Time{}, env)
	require.Equal(t, envelopeDate.UTC(), got)
}

func TestResolveDateZeroWhenNeitherSet(t *testing.T) {
	got := resolveDate(time.Time{}, &imap.Envelope{})
	require.True(t, got.IsZero())

	got = resolveDate(time.Time{}, nil)
	require.True(t, got.IsZero())
}

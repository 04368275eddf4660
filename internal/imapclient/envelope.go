package imapclient

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/emersion/go-imap/v2"
)

// MessageEnvelope is one decoded message as produced by fetch_recent and
// fetch_all, before any storage-layer encryption.
type MessageEnvelope struct {
	UID           string
	SenderEmail   string
	SenderDisplay string
	Subject       string
	Date          time.Time
	Snippet       string
	Flags         []string
}

// decodeEnvelope extracts subject and sender from an IMAP envelope.
// Subjects and addresses arrive as byte slices; decoding here is
// UTF-8-lossy with trimming, since servers are not always strict about
// header encoding.
func decodeEnvelope(env *imap.Envelope) (subject, senderEmail, senderDisplay string) {
	if env == nil {
		return "", "", ""
	}
	subject = lossyUTF8(env.Subject)
	if len(env.From) > 0 {
		from := env.From[0]
		senderDisplay = lossyUTF8(from.Name)
		senderEmail = lossyUTF8(from.Addr())
	}
	return subject, senderEmail, senderDisplay
}

func lossyUTF8(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return strings.TrimSpace(s)
}

// mapFlags renders IMAP flags to their lowercase names; flags outside
// the standard set pass through verbatim (minus the leading backslash).
func mapFlags(flags []imap.Flag) []string {
	out := make([]string, 0, len(flags))
	for _, f := range flags {
		switch f {
		case imap.FlagSeen:
			out = append(out, "seen")
		case imap.FlagAnswered:
			out = append(out, "answered")
		case imap.FlagFlagged:
			out = append(out, "flagged")
		case imap.FlagDeleted:
			out = append(out, "deleted")
		case imap.FlagDraft:
			out = append(out, "draft")
		case imap.FlagRecent:
			out = append(out, "recent")
		case "\\MayCreate":
			out = append(out, "may-create")
		default:
			out = append(out, strings.TrimPrefix(string(f), "\\"))
		}
	}
	return out
}

// extractSnippet collapses CR/LF to spaces, keeps the first 80
// whitespace-separated tokens, and truncates to 280 characters with a
// trailing ellipsis if longer.
func extractSnippet(raw []byte) string {
	text := string(raw)
	text = strings.ReplaceAll(text, "\r", " ")
	text = strings.ReplaceAll(text, "\n", " ")

	fields := strings.Fields(text)
	if len(fields) > 80 {
		fields = fields[:80]
	}
	joined := strings.Join(fields, " ")

	const maxLen = 280
	runes := []rune(joined)
	if len(runes) > maxLen {
		return string(runes[:maxLen]) + "…"
	}
	return joined
}

// resolveDate prefers INTERNALDATE over the envelope's Date header,
// matching the source's date-preference rule.
func resolveDate(internalDate time.Time, envelope *imap.Envelope) time.Time {
	if !internalDate.IsZero() {
		return internalDate.UTC()
	}
	if envelope != nil && !envelope.Date.IsZero() {
		return envelope.Date.UTC()
	}
	return time.Time{}
}

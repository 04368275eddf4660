package bulkanalysis

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vivasaayi/PersonalMailClient/internal/storage"
)

// buildPrompt assembles the sorted allowed-tag list, strict schema
// instructions, and message context into the completion prompt.
func buildPrompt(msg storage.Message, allowedTags []string, snippetLimit int) string {
	tags := append([]string(nil), allowedTags...)
	sort.Strings(tags)

	var b strings.Builder
	b.WriteString("Classify this email and respond with a single JSON object only, no prose.\n\n")
	b.WriteString("Allowed tags (choose zero or more, verbatim): ")
	b.WriteString(strings.Join(tags, ", "))
	b.WriteString("\n\n")
	b.WriteString("Required JSON schema:\n")
	b.WriteString(`{"summary": string, "sentiment": "positive"|"negative"|"neutral"|"unknown", `)
	b.WriteString(`"tags": [string], "priority": "low"|"medium"|"high"|"urgent", `)
	b.WriteString(`"actionability": "none"|"read_only"|"reply_needed"|"action_needed", `)
	b.WriteString(`"risk": "none"|"low"|"medium"|"high", `)
	b.WriteString(`"source_type": "person"|"newsletter"|"notification"|"transactional"|"marketing"|"unknown", `)
	b.WriteString(`"thread_role": "root"|"reply"|"forward"|"unknown", `)
	b.WriteString(`"lifecycle": "new"|"active"|"resolved"|"archived", `)
	b.WriteString(`"confidence": number between 0 and 1}`)
	b.WriteString("\n\n")

	subject := msg.Subject
	if len(subject) > maxSubjectChars {
		subject = subject[:maxSubjectChars]
	}
	snippet := msg.Snippet
	if len(snippet) > snippetLimit {
		snippet = snippet[:snippetLimit] + "…"
	}

	b.WriteString(fmt.Sprintf("Message id: %d\n", msg.ID))
	b.WriteString(fmt.Sprintf("UID: %s\n", msg.UID))
	b.WriteString(fmt.Sprintf("Sender: %s\n", msg.SenderEmail))
	b.WriteString(fmt.Sprintf("Date: %s\n", msg.Date))
	b.WriteString(fmt.Sprintf("Subject: %s\n", subject))
	b.WriteString(fmt.Sprintf("Snippet: %s\n", snippet))

	return b.String()
}

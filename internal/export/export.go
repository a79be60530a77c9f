// Package export serializes the curated conversation set to a flat text
// transcript. Sensitivity flags drive review only; nothing is redacted here.
// The user decides per message, and the export simply omits what they marked.
package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/chatscrub/chatscrub/internal/store"
)

const banner = "CHATGPT CONVERSATIONS EXPORT - FILTERED"

var delimiter = strings.Repeat("=", 80)
var messageDelimiter = strings.Repeat("-", 80)

// Filter drops every message marked for deletion, then drops any
// conversation left empty. It produces a transient export view; the store is
// not mutated.
func Filter(convs []store.Conversation) []store.Conversation {
	out := make([]store.Conversation, 0, len(convs))
	for _, c := range convs {
		kept := make([]store.Message, 0, len(c.Messages))
		for _, m := range c.Messages {
			if !m.IsMarkedForDeletion {
				kept = append(kept, m)
			}
		}
		if len(kept) == 0 {
			continue
		}
		c.Messages = kept
		out = append(out, c)
	}
	return out
}

// Render produces the flat-text transcript for an already-filtered set.
// Content is written untruncated.
func Render(convs []store.Conversation) string {
	var b strings.Builder
	b.WriteString(delimiter + "\n")
	b.WriteString(banner + "\n")
	b.WriteString(delimiter + "\n\n")

	for i, c := range convs {
		b.WriteString("\n" + delimiter + "\n")
		fmt.Fprintf(&b, "CONVERSATION %d: %s\n", i+1, c.Title)
		b.WriteString(delimiter + "\n\n")

		for _, m := range c.Messages {
			fmt.Fprintf(&b, "[%s]:\n", strings.ToUpper(string(m.Role)))
			b.WriteString(m.Content + "\n\n")
			b.WriteString(messageDelimiter + "\n\n")
		}
	}

	return b.String()
}

// Filename returns the timestamp-suffixed download name for one export.
func Filename() string {
	return fmt.Sprintf("chatgpt_export_filtered_%d.txt", time.Now().UnixMilli())
}

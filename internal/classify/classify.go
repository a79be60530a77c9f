// Package classify is the remote tier of sensitive-content detection: it
// batches eligible messages and asks a chat-completion service for a verdict
// per message. A failed batch is logged and skipped, never retried; the scan
// as a whole keeps going.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/chatscrub/chatscrub/internal/detect"
	"github.com/chatscrub/chatscrub/internal/llm"
	"github.com/chatscrub/chatscrub/internal/logger"
)

const (
	// BatchSize is how many messages share one classification request.
	BatchSize = 10
	// minLength and maxLength bound which messages are submitted at all.
	minLength = 50
	maxLength = 2000
	// excerptLength is how much of each message the service actually sees.
	excerptLength = 500
)

const systemPrompt = `Analyze these messages for sensitive personal information that the user might not want to share publicly.

Detect:
- Personal Identifiable Information (PII): full names, email addresses, phone numbers, physical addresses, SSN, passport/ID numbers, birth dates
- Financial information: bank accounts, credit cards, salary details
- Medical/health information: conditions, medications, treatments
- Intimate/private content: sexual discussions, relationships, infidelity, affairs, private family matters
- Personal problems: mental health struggles, personal conflicts, embarrassing situations
- Confidential work information: trade secrets, internal company information
- Precise locations that could identify someone's home or workplace

Respond with JSON array (one per message):
[
  {"index": 1, "hasSensitiveData": true/false, "reason": "brief description or null"},
  ...
]

Ignore:
- First names only
- Generic/public information
- Code/technical variables
- General discussions without personal details`

// Key identifies one message across the loaded set; it is the sole key used
// to merge verdicts back into store state.
type Key struct {
	ConversationID string
	MessageID      string
}

// Item is one message submitted for remote classification.
type Item struct {
	ConversationID string
	MessageID      string
	Text           string
}

// ResultSet holds merge-ready verdicts keyed by (conversation id, message id).
type ResultSet map[Key]detect.Verdict

// Eligible reports whether a message text is submitted to the remote
// classifier: too-short messages are assumed non-sensitive, too-long ones are
// skipped for cost.
func Eligible(text string) bool {
	return len(text) >= minLength && len(text) < maxLength
}

// Classifier submits batches of messages to the classification service.
type Classifier struct {
	client llm.Client
	model  string
}

func New(client llm.Client, model string) *Classifier {
	return &Classifier{client: client, model: model}
}

// Summary reports what one scan run did.
type Summary struct {
	Submitted     int `json:"submitted"`
	Batches       int `json:"batches"`
	FailedBatches int `json:"failedBatches"`
}

// Scan partitions items into fixed-size batches and classifies them strictly
// sequentially, one outstanding request at a time. After each successful
// batch, apply is called with that batch's verdicts, so a caller-side timeout
// preserves everything applied so far. The returned error is non-nil only
// when the context is done; individual batch failures are swallowed.
func (c *Classifier) Scan(ctx context.Context, items []Item, apply func(ResultSet)) (Summary, error) {
	sum := Summary{Submitted: len(items)}

	for start := 0; start < len(items); start += BatchSize {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		end := min(start+BatchSize, len(items))
		batch := items[start:end]
		sum.Batches++

		rs, err := c.classifyBatch(ctx, batch)
		if err != nil {
			sum.FailedBatches++
			logger.L.Warn("batch classification failed; skipping batch",
				"batch", sum.Batches, "size", len(batch), "error", err)
			continue
		}
		if apply != nil {
			apply(rs)
		}

		if end%50 == 0 || end == len(items) {
			logger.L.Info("scan progress", "analyzed", end, "total", len(items))
		}
	}

	return sum, nil
}

// batchVerdict is the wire shape of one verdict returned by the service.
type batchVerdict struct {
	Index            int     `json:"index"`
	HasSensitiveData bool    `json:"hasSensitiveData"`
	Reason           *string `json:"reason"`
}

func (c *Classifier) classifyBatch(ctx context.Context, batch []Item) (ResultSet, error) {
	var payload strings.Builder
	for i, item := range batch {
		if i > 0 {
			payload.WriteString("\n\n")
		}
		fmt.Fprintf(&payload, "[Message %d]:\n%s", i+1, excerpt(item.Text))
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: payload.String()},
		},
		Temperature: 0.3,
		MaxTokens:   500,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty completion response")
	}

	verdicts, err := parseVerdicts(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	rs := make(ResultSet, len(verdicts))
	for _, v := range verdicts {
		// The service labels messages 1-based; verdicts whose index does
		// not match a submitted message leave that slot untouched.
		i := v.Index - 1
		if i < 0 || i >= len(batch) {
			continue
		}
		reason := ""
		if v.Reason != nil {
			reason = *v.Reason
		}
		if !v.HasSensitiveData {
			reason = ""
		}
		key := Key{ConversationID: batch[i].ConversationID, MessageID: batch[i].MessageID}
		rs[key] = detect.Verdict{HasSensitiveData: v.HasSensitiveData, Reason: reason}
	}
	return rs, nil
}

// parseVerdicts parses the service's free-form reply, tolerating a
// surrounding markdown code fence.
func parseVerdicts(content string) ([]batchVerdict, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var verdicts []batchVerdict
	if err := json.Unmarshal([]byte(content), &verdicts); err != nil {
		return nil, fmt.Errorf("parse verdicts: %w", err)
	}
	return verdicts, nil
}

// excerpt truncates a message to its first excerptLength characters for the
// request payload; stored content is never truncated.
func excerpt(text string) string {
	runes := []rune(text)
	if len(runes) <= excerptLength {
		return text
	}
	return string(runes[:excerptLength])
}

// Package archive parses a chat-export archive and reconstructs each
// conversation's linear message order from its tree-shaped node mapping.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/chatscrub/chatscrub/internal/logger"
	"github.com/chatscrub/chatscrub/internal/store"
)

// ErrNoConversations is the single user-facing import failure: the archive
// is not valid JSON, or no conversation yielded any messages. No partial
// state is ever produced alongside it.
var ErrNoConversations = errors.New("no conversations found")

type rawConversation struct {
	ID      string             `json:"id"`
	Title   string             `json:"title"`
	Mapping map[string]rawNode `json:"mapping"`
}

type rawNode struct {
	ID       string      `json:"id"`
	Parent   string      `json:"parent"`
	Children []string    `json:"children"`
	Message  *rawMessage `json:"message"`
}

type rawMessage struct {
	Author struct {
		Role string `json:"role"`
	} `json:"author"`
	Content struct {
		// Parts may hold non-string entries (multimodal payloads);
		// only a leading string part yields a message.
		Parts []any `json:"parts"`
	} `json:"content"`
}

// Parse decodes an export archive and reconstructs every conversation.
// Conversations with zero extractable messages are dropped entirely; if
// nothing survives, the whole import fails with ErrNoConversations.
func Parse(data []byte) ([]store.Conversation, error) {
	var raw []rawConversation
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoConversations, err)
	}

	conversations := make([]store.Conversation, 0, len(raw))
	for _, rc := range raw {
		messages := reconstruct(rc.Mapping)
		if len(messages) == 0 {
			logger.L.Debug("dropping conversation with no extractable messages", "id", rc.ID, "title", rc.Title)
			continue
		}

		id := rc.ID
		if id == "" {
			id = fmt.Sprintf("conv-%d", len(conversations))
		}
		title := rc.Title
		if title == "" {
			title = fmt.Sprintf("Conversation %d", len(conversations)+1)
		}
		conversations = append(conversations, store.Conversation{
			ID:       id,
			Title:    title,
			Messages: messages,
		})
	}

	if len(conversations) == 0 {
		return nil, ErrNoConversations
	}
	return conversations, nil
}

// reconstruct walks a node mapping from its root, always following the first
// listed child. Alternate branches (regenerations, edits) are discarded. A
// visited set guards against cycles in malformed mappings.
func reconstruct(mapping map[string]rawNode) []store.Message {
	rootID, ok := findRoot(mapping)
	if !ok {
		return nil
	}

	var messages []store.Message
	visited := make(map[string]bool)
	currentID := rootID

	for currentID != "" && !visited[currentID] {
		visited[currentID] = true
		node, ok := mapping[currentID]
		if !ok {
			break
		}

		if msg, ok := extractMessage(node); ok {
			messages = append(messages, msg)
		}

		if len(node.Children) == 0 {
			break
		}
		currentID = node.Children[0]
	}

	return messages
}

// findRoot returns the unique node without a parent. Zero or several such
// nodes means the mapping is malformed and the conversation yields nothing.
func findRoot(mapping map[string]rawNode) (string, bool) {
	rootID := ""
	found := false
	for nodeID, node := range mapping {
		if node.Parent != "" {
			continue
		}
		if found {
			return "", false
		}
		rootID = nodeID
		found = true
	}
	return rootID, found
}

// extractMessage pulls a message out of a node, if it carries one. Nodes
// without a payload, with an empty or non-string first part, or with a role
// outside {user, assistant} are skipped; the walk continues through them.
func extractMessage(node rawNode) (store.Message, bool) {
	if node.Message == nil || len(node.Message.Content.Parts) == 0 {
		return store.Message{}, false
	}

	text, ok := node.Message.Content.Parts[0].(string)
	if !ok {
		return store.Message{}, false
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return store.Message{}, false
	}

	role := store.Role(node.Message.Author.Role)
	if role != store.RoleUser && role != store.RoleAssistant {
		return store.Message{}, false
	}

	id := node.ID
	if id == "" {
		id = uuid.NewString()
	}
	return store.Message{ID: id, Role: role, Content: text}, true
}

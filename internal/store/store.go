// Package store holds the canonical in-memory set of loaded conversations
// and every operation that mutates it. All mutation goes through one mutex,
// so a running scan's per-batch merges and user toggles interleave atomically.
package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/chatscrub/chatscrub/internal/classify"
	"github.com/chatscrub/chatscrub/internal/detect"
)

// Role is a message author role. Anything else is dropped at import time.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat message. Content, ID and Role are immutable after
// import; only the derived flags are ever mutated.
type Message struct {
	ID                  string `json:"id"`
	Role                Role   `json:"role"`
	Content             string `json:"content"`
	IsMarkedForDeletion bool   `json:"isMarkedForDeletion"`
	// HasSensitiveData is nil only before any detector has run.
	HasSensitiveData *bool  `json:"hasSensitiveData,omitempty"`
	SensitiveReason  string `json:"sensitiveReason,omitempty"`
}

// Conversation is one imported conversation in chronological order.
type Conversation struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Messages   []Message `json:"messages"`
	IsExpanded bool      `json:"isExpanded"`
}

// Stats is derived by full scan over current state, never cached.
type Stats struct {
	Total     int `json:"total"`
	Deleted   int `json:"deleted"`
	Sensitive int `json:"sensitive"`
}

// SensitiveRef points at one flagged message for the review flow.
type SensitiveRef struct {
	ConversationID    string  `json:"conversationId"`
	ConversationTitle string  `json:"conversationTitle"`
	Message           Message `json:"message"`
}

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
)

// Store is the conversation state store.
type Store struct {
	mu            sync.Mutex
	conversations []*Conversation
}

func New() *Store {
	return &Store{}
}

// Load replaces the loaded set wholesale. Prior state is discarded;
// conversations are never re-parsed or deduplicated against it.
func (s *Store) Load(convs []Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = make([]*Conversation, 0, len(convs))
	for i := range convs {
		c := convs[i]
		s.conversations = append(s.conversations, &c)
	}
}

// Conversations returns a deep copy of the current state.
func (s *Store) Conversations() []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		cp := *c
		cp.Messages = append([]Message(nil), c.Messages...)
		for i := range cp.Messages {
			if flag := cp.Messages[i].HasSensitiveData; flag != nil {
				f := *flag
				cp.Messages[i].HasSensitiveData = &f
			}
		}
		out = append(out, cp)
	}
	return out
}

// ToggleExpand flips a conversation's display flag and returns the new value.
func (s *Store) ToggleExpand(convID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.find(convID)
	if c == nil {
		return false, fmt.Errorf("%w: %s", ErrConversationNotFound, convID)
	}
	c.IsExpanded = !c.IsExpanded
	return c.IsExpanded, nil
}

// DeleteConversation removes a conversation and all its messages. The caller
// is expected to have confirmed with the user; this is irreversible.
func (s *Store) DeleteConversation(convID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.conversations {
		if c.ID == convID {
			s.conversations = append(s.conversations[:i], s.conversations[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrConversationNotFound, convID)
}

// ToggleMessageDeletion flips a message's deletion mark and returns the new
// value. Applying it twice restores the original state.
func (s *Store) ToggleMessageDeletion(convID, msgID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.find(convID)
	if c == nil {
		return false, fmt.Errorf("%w: %s", ErrConversationNotFound, convID)
	}
	for i := range c.Messages {
		if c.Messages[i].ID == msgID {
			c.Messages[i].IsMarkedForDeletion = !c.Messages[i].IsMarkedForDeletion
			return c.Messages[i].IsMarkedForDeletion, nil
		}
	}
	return false, fmt.Errorf("%w: %s/%s", ErrMessageNotFound, convID, msgID)
}

// ApplyLocalDetection runs the pattern detector over every message that does
// not yet carry a verdict, and reports how many it annotated. Messages with a
// defined flag are skipped, so a prior remote verdict is never clobbered.
func (s *Store) ApplyLocalDetection() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	annotated := 0
	for _, c := range s.conversations {
		for i := range c.Messages {
			m := &c.Messages[i]
			if m.HasSensitiveData != nil {
				continue
			}
			v := detect.Detect(m.Content)
			m.HasSensitiveData = &v.HasSensitiveData
			m.SensitiveReason = v.Reason
			annotated++
		}
	}
	return annotated
}

// ApplyRemoteDetection merges remote verdicts into matching messages. A
// remote verdict overrides any prior local one; messages without a verdict
// keep their existing flags. Deletion marks are never touched, so a merge
// cannot resurrect a message the user deleted while the scan was running.
func (s *Store) ApplyRemoteDetection(rs classify.ResultSet) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	merged := 0
	for _, c := range s.conversations {
		for i := range c.Messages {
			m := &c.Messages[i]
			v, ok := rs[classify.Key{ConversationID: c.ID, MessageID: m.ID}]
			if !ok {
				continue
			}
			flag := v.HasSensitiveData
			m.HasSensitiveData = &flag
			m.SensitiveReason = v.Reason
			merged++
		}
	}
	return merged
}

// ScanItems returns the messages eligible for remote classification.
func (s *Store) ScanItems() []classify.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []classify.Item
	for _, c := range s.conversations {
		for _, m := range c.Messages {
			if classify.Eligible(m.Content) {
				items = append(items, classify.Item{
					ConversationID: c.ID,
					MessageID:      m.ID,
					Text:           m.Content,
				})
			}
		}
	}
	return items
}

// SensitiveMessages returns every currently flagged message for review.
func (s *Store) SensitiveMessages() []SensitiveRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	var refs []SensitiveRef
	for _, c := range s.conversations {
		for _, m := range c.Messages {
			if m.HasSensitiveData != nil && *m.HasSensitiveData {
				refs = append(refs, SensitiveRef{
					ConversationID:    c.ID,
					ConversationTitle: c.Title,
					Message:           m,
				})
			}
		}
	}
	return refs
}

// MarkSensitiveForDeletion marks every flagged message for deletion and
// reports how many changed. It sets rather than toggles, so repeating the
// action cannot silently restore messages.
func (s *Store) MarkSensitiveForDeletion() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	marked := 0
	for _, c := range s.conversations {
		for i := range c.Messages {
			m := &c.Messages[i]
			if m.HasSensitiveData != nil && *m.HasSensitiveData && !m.IsMarkedForDeletion {
				m.IsMarkedForDeletion = true
				marked++
			}
		}
	}
	return marked
}

// Stats derives counts by full scan over current state.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st Stats
	for _, c := range s.conversations {
		st.Total += len(c.Messages)
		for _, m := range c.Messages {
			if m.IsMarkedForDeletion {
				st.Deleted++
			}
			if m.HasSensitiveData != nil && *m.HasSensitiveData {
				st.Sensitive++
			}
		}
	}
	return st
}

// find returns the live conversation with the given id; callers hold s.mu.
func (s *Store) find(convID string) *Conversation {
	for _, c := range s.conversations {
		if c.ID == convID {
			return c
		}
	}
	return nil
}

package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chatscrub/chatscrub/internal/classify"
)

func boolPtr(b bool) *bool { return &b }

func sampleConversations() []Conversation {
	return []Conversation{
		{
			ID:    "c1",
			Title: "First",
			Messages: []Message{
				{ID: "m1", Role: RoleUser, Content: "write to jane.doe@example.com about the rollout"},
				{ID: "m2", Role: RoleAssistant, Content: "hello world"},
			},
		},
		{
			ID:    "c2",
			Title: "Second",
			Messages: []Message{
				{ID: "m1", Role: RoleUser, Content: strings.Repeat("a perfectly ordinary sentence ", 4)},
			},
		},
	}
}

func TestToggleMessageDeletion_Reversible(t *testing.T) {
	s := New()
	s.Load(sampleConversations())

	marked, err := s.ToggleMessageDeletion("c1", "m2")
	require.NoError(t, err)
	require.True(t, marked)

	marked, err = s.ToggleMessageDeletion("c1", "m2")
	require.NoError(t, err)
	require.False(t, marked)

	_, err = s.ToggleMessageDeletion("c1", "nope")
	require.ErrorIs(t, err, ErrMessageNotFound)
	_, err = s.ToggleMessageDeletion("nope", "m1")
	require.ErrorIs(t, err, ErrConversationNotFound)
}

func TestToggleExpand(t *testing.T) {
	s := New()
	s.Load(sampleConversations())

	expanded, err := s.ToggleExpand("c1")
	require.NoError(t, err)
	require.True(t, expanded)

	expanded, err = s.ToggleExpand("c1")
	require.NoError(t, err)
	require.False(t, expanded)

	_, err = s.ToggleExpand("ghost")
	require.ErrorIs(t, err, ErrConversationNotFound)
}

func TestDeleteConversation(t *testing.T) {
	s := New()
	s.Load(sampleConversations())

	require.NoError(t, s.DeleteConversation("c1"))
	require.Len(t, s.Conversations(), 1)
	require.ErrorIs(t, s.DeleteConversation("c1"), ErrConversationNotFound)
}

func TestApplyLocalDetection_AnnotatesOnceAndSkipsDefined(t *testing.T) {
	s := New()
	s.Load(sampleConversations())

	require.Equal(t, 3, s.ApplyLocalDetection())

	convs := s.Conversations()
	flagged := convs[0].Messages[0]
	require.NotNil(t, flagged.HasSensitiveData)
	require.True(t, *flagged.HasSensitiveData)
	require.Equal(t, "Email address detected", flagged.SensitiveReason)

	clean := convs[0].Messages[1]
	require.NotNil(t, clean.HasSensitiveData)
	require.False(t, *clean.HasSensitiveData)
	require.Empty(t, clean.SensitiveReason)

	// A second pass finds nothing undefined and changes nothing.
	require.Zero(t, s.ApplyLocalDetection())
}

func TestApplyLocalDetection_DoesNotClobberRemoteVerdict(t *testing.T) {
	s := New()
	s.Load(sampleConversations())

	merged := s.ApplyRemoteDetection(classify.ResultSet{
		{ConversationID: "c1", MessageID: "m2"}: {HasSensitiveData: true, Reason: "remote verdict"},
	})
	require.Equal(t, 1, merged)

	// Local detection runs only over still-undefined messages.
	require.Equal(t, 2, s.ApplyLocalDetection())
	m := s.Conversations()[0].Messages[1]
	require.True(t, *m.HasSensitiveData)
	require.Equal(t, "remote verdict", m.SensitiveReason)
}

func TestApplyRemoteDetection_OverridesLocalAndKeepsUnmatched(t *testing.T) {
	s := New()
	s.Load(sampleConversations())
	s.ApplyLocalDetection()

	merged := s.ApplyRemoteDetection(classify.ResultSet{
		{ConversationID: "c1", MessageID: "m1"}: {HasSensitiveData: false},
		{ConversationID: "c9", MessageID: "m9"}: {HasSensitiveData: true, Reason: "no such message"},
	})
	require.Equal(t, 1, merged)

	convs := s.Conversations()
	overridden := convs[0].Messages[0]
	require.False(t, *overridden.HasSensitiveData)
	require.Empty(t, overridden.SensitiveReason)

	// The unmatched message keeps its local verdict.
	untouched := convs[0].Messages[1]
	require.False(t, *untouched.HasSensitiveData)
}

func TestApplyRemoteDetection_NeverResurrectsDeletedMessages(t *testing.T) {
	s := New()
	s.Load(sampleConversations())
	s.ApplyLocalDetection()

	// The user deletes a message while the scan is in flight.
	_, err := s.ToggleMessageDeletion("c2", "m1")
	require.NoError(t, err)

	s.ApplyRemoteDetection(classify.ResultSet{
		{ConversationID: "c2", MessageID: "m1"}: {HasSensitiveData: true, Reason: "late verdict"},
	})

	m := s.Conversations()[1].Messages[0]
	require.True(t, m.IsMarkedForDeletion)
	require.True(t, *m.HasSensitiveData)
	require.Equal(t, "late verdict", m.SensitiveReason)
}

func TestScanItems_FiltersByLength(t *testing.T) {
	s := New()
	s.Load([]Conversation{{
		ID: "c1",
		Messages: []Message{
			{ID: "short", Content: strings.Repeat("s", 49)},
			{ID: "eligible", Content: strings.Repeat("e", 50)},
			{ID: "long", Content: strings.Repeat("l", 2000)},
		},
	}})

	items := s.ScanItems()
	require.Len(t, items, 1)
	require.Equal(t, "eligible", items[0].MessageID)
	require.Equal(t, "c1", items[0].ConversationID)
}

func TestSensitiveReviewFlow(t *testing.T) {
	s := New()
	s.Load(sampleConversations())
	s.ApplyLocalDetection()

	refs := s.SensitiveMessages()
	require.Len(t, refs, 1)
	require.Equal(t, "c1", refs[0].ConversationID)
	require.Equal(t, "First", refs[0].ConversationTitle)
	require.Equal(t, "m1", refs[0].Message.ID)

	require.Equal(t, 1, s.MarkSensitiveForDeletion())
	// Repeating the action is a no-op, not a toggle.
	require.Zero(t, s.MarkSensitiveForDeletion())
	require.True(t, s.Conversations()[0].Messages[0].IsMarkedForDeletion)
}

func TestStats_RecomputedFromCurrentState(t *testing.T) {
	s := New()
	s.Load(sampleConversations())
	s.ApplyLocalDetection()

	require.Equal(t, Stats{Total: 3, Deleted: 0, Sensitive: 1}, s.Stats())

	_, err := s.ToggleMessageDeletion("c1", "m2")
	require.NoError(t, err)
	require.Equal(t, Stats{Total: 3, Deleted: 1, Sensitive: 1}, s.Stats())

	require.NoError(t, s.DeleteConversation("c1"))
	require.Equal(t, Stats{Total: 1, Deleted: 0, Sensitive: 0}, s.Stats())
}

func TestConversations_ReturnsCopies(t *testing.T) {
	s := New()
	s.Load(sampleConversations())

	snapshot := s.Conversations()
	snapshot[0].Messages[0].IsMarkedForDeletion = true
	snapshot[0].Messages[0].HasSensitiveData = boolPtr(true)

	fresh := s.Conversations()
	require.False(t, fresh[0].Messages[0].IsMarkedForDeletion)
	require.Nil(t, fresh[0].Messages[0].HasSensitiveData)
}

func TestConversations_SensitivityFlagIsNotAliased(t *testing.T) {
	s := New()
	s.Load(sampleConversations())
	s.ApplyLocalDetection()

	// Writing through the snapshot's flag pointer must not reach the store.
	snapshot := s.Conversations()
	require.NotNil(t, snapshot[0].Messages[1].HasSensitiveData)
	*snapshot[0].Messages[1].HasSensitiveData = true

	fresh := s.Conversations()
	require.False(t, *fresh[0].Messages[1].HasSensitiveData)
	require.Equal(t, 1, s.Stats().Sensitive)
}

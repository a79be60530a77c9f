package archive

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chatscrub/chatscrub/internal/store"
)

func node(id, parent string, children []string, role, text string) map[string]any {
	n := map[string]any{
		"id":       id,
		"parent":   parent,
		"children": children,
	}
	if role != "" || text != "" {
		n["message"] = map[string]any{
			"author":  map[string]any{"role": role},
			"content": map[string]any{"parts": []any{text}},
		}
	}
	return n
}

func marshalArchive(t *testing.T, convs ...map[string]any) []byte {
	t.Helper()
	data, err := json.Marshal(convs)
	require.NoError(t, err)
	return data
}

// chainArchive builds one conversation with a linear root-to-leaf chain of n
// alternating user/assistant messages.
func chainArchive(t *testing.T, n int) []byte {
	mapping := map[string]any{}
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("node-%d", i)
		parent := ""
		if i > 0 {
			parent = fmt.Sprintf("node-%d", i-1)
		}
		var children []string
		if i < n-1 {
			children = []string{fmt.Sprintf("node-%d", i+1)}
		}
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		mapping[id] = node(id, parent, children, role, fmt.Sprintf("message %d", i))
	}
	return marshalArchive(t, map[string]any{"id": "c1", "title": "Chain", "mapping": mapping})
}

func TestParse_LinearChain(t *testing.T) {
	convs, err := Parse(chainArchive(t, 5))
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Equal(t, "c1", convs[0].ID)
	require.Equal(t, "Chain", convs[0].Title)
	require.Len(t, convs[0].Messages, 5)
	for i, m := range convs[0].Messages {
		require.Equal(t, fmt.Sprintf("node-%d", i), m.ID)
		require.Equal(t, fmt.Sprintf("message %d", i), m.Content)
	}
	require.Equal(t, store.RoleUser, convs[0].Messages[0].Role)
	require.Equal(t, store.RoleAssistant, convs[0].Messages[1].Role)
}

func TestParse_SkipsInvalidNodesButContinuesWalk(t *testing.T) {
	mapping := map[string]any{
		"root": node("root", "", []string{"a"}, "", ""),           // no payload
		"a":    node("a", "root", []string{"b"}, "system", "sys"), // bad role
		"b":    node("b", "a", []string{"c"}, "user", "   "),      // whitespace only
		"c":    node("c", "b", nil, "assistant", "  kept  "),
	}
	convs, err := Parse(marshalArchive(t, map[string]any{"id": "c1", "title": "T", "mapping": mapping}))
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Len(t, convs[0].Messages, 1)
	require.Equal(t, "kept", convs[0].Messages[0].Content)
}

func TestParse_NonStringPartIsSkipped(t *testing.T) {
	mapping := map[string]any{
		"root": map[string]any{
			"id": "root", "parent": "", "children": []string{"a"},
			"message": map[string]any{
				"author":  map[string]any{"role": "user"},
				"content": map[string]any{"parts": []any{map[string]any{"asset": "img"}}},
			},
		},
		"a": node("a", "root", nil, "assistant", "text follows"),
	}
	convs, err := Parse(marshalArchive(t, map[string]any{"id": "c1", "mapping": mapping}))
	require.NoError(t, err)
	require.Len(t, convs[0].Messages, 1)
	require.Equal(t, "text follows", convs[0].Messages[0].Content)
}

func TestParse_NoRootDropsConversation(t *testing.T) {
	// Every node has a parent, so there is no root to walk from.
	orphans := map[string]any{
		"a": node("a", "b", nil, "user", "hello there friend"),
		"b": node("b", "a", []string{"a"}, "assistant", "hi"),
	}
	_, err := Parse(marshalArchive(t, map[string]any{"id": "c1", "mapping": orphans}))
	require.ErrorIs(t, err, ErrNoConversations)
}

func TestParse_MultipleRootsDropsConversation(t *testing.T) {
	mapping := map[string]any{
		"r1": node("r1", "", nil, "user", "first root"),
		"r2": node("r2", "", nil, "user", "second root"),
	}
	_, err := Parse(marshalArchive(t, map[string]any{"id": "c1", "mapping": mapping}))
	require.ErrorIs(t, err, ErrNoConversations)
}

func TestParse_CycleTerminates(t *testing.T) {
	mapping := map[string]any{
		"root": node("root", "", []string{"a"}, "user", "one"),
		"a":    node("a", "root", []string{"root"}, "assistant", "two"),
	}
	convs, err := Parse(marshalArchive(t, map[string]any{"id": "c1", "mapping": mapping}))
	require.NoError(t, err)
	require.Len(t, convs[0].Messages, 2)
}

func TestParse_OnlyFirstChildIsFollowed(t *testing.T) {
	mapping := map[string]any{
		"root": node("root", "", []string{"a", "alt"}, "user", "question"),
		"a":    node("a", "root", nil, "assistant", "kept answer"),
		"alt":  node("alt", "root", nil, "assistant", "regenerated answer"),
	}
	convs, err := Parse(marshalArchive(t, map[string]any{"id": "c1", "mapping": mapping}))
	require.NoError(t, err)
	require.Len(t, convs[0].Messages, 2)
	require.Equal(t, "kept answer", convs[0].Messages[1].Content)
}

func TestParse_FallbackIDsAndTitles(t *testing.T) {
	mapping := map[string]any{
		"root": node("", "", nil, "user", "anonymous node"),
	}
	convs, err := Parse(marshalArchive(t, map[string]any{"mapping": mapping}))
	require.NoError(t, err)
	require.Equal(t, "conv-0", convs[0].ID)
	require.Equal(t, "Conversation 1", convs[0].Title)
	require.NotEmpty(t, convs[0].Messages[0].ID)
}

func TestParse_InvalidJSON(t *testing.T) {
	_, err := Parse([]byte("not json at all"))
	require.ErrorIs(t, err, ErrNoConversations)
}

func TestParse_EmptyArchive(t *testing.T) {
	_, err := Parse([]byte("[]"))
	require.ErrorIs(t, err, ErrNoConversations)
}

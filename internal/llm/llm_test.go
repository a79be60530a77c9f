package llm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chatscrub/chatscrub/internal/config"
)

func TestResolveKey_Precedence(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "env-key")
	cfg := config.LLMConfig{APIKey: "config-key"}

	key, err := ResolveKey("caller-key", cfg)
	require.NoError(t, err)
	require.Equal(t, "caller-key", key)

	key, err = ResolveKey("", cfg)
	require.NoError(t, err)
	require.Equal(t, "config-key", key)

	key, err = ResolveKey("", config.LLMConfig{})
	require.NoError(t, err)
	require.Equal(t, "env-key", key)
}

func TestResolveKey_Missing(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := ResolveKey("", config.LLMConfig{})
	require.ErrorIs(t, err, ErrMissingCredential)
}

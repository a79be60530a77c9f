package llm

import (
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/chatscrub/chatscrub/internal/config"
)

// ErrMissingCredential is returned when no classification-service API key is
// available from any source. No network calls are attempted in that case.
var ErrMissingCredential = errors.New("classification API key missing")

// ResolveKey picks the API key to use for one scan run: a caller-supplied key
// wins over the configured key, which wins over the OPENAI_API_KEY
// environment variable.
func ResolveKey(callerKey string, cfg config.LLMConfig) (string, error) {
	if callerKey != "" {
		return callerKey, nil
	}
	if cfg.APIKey != "" {
		return cfg.APIKey, nil
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		return key, nil
	}
	return "", ErrMissingCredential
}

// NewClient creates a new OpenAI client for the given key. Individual
// requests time out after 30 seconds; the overall scan budget is enforced by
// the caller's context.
func NewClient(key string, cfg config.LLMConfig) *openai.Client {
	clientCfg := openai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}

	return openai.NewClientWithConfig(clientCfg)
}

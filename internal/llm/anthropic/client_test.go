package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "AgentRouter/internal/errors"
	"AgentRouter/internal/llm"
)

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(Config{APIKey: " "})
	assert.Equal(t, xerrors.CodeConfiguration, xerrors.CodeOf(err))
}

func TestGenerate(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v1/messages"))
		assert.Equal(t, "k", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-3-5-haiku-latest",
			"content": [{"type": "text", "text": "Rule out ACS."}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 7, "output_tokens": 4}
		}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	resp, err := client.Generate(context.Background(), llm.Request{System: "clinician", Prompt: "chest pain"})
	require.NoError(t, err)
	assert.Equal(t, "Rule out ACS.", resp.Text)
	assert.Equal(t, int64(11), resp.TokensUsed)
	assert.NotNil(t, body["system"])
}

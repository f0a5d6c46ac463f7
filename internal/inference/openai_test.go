package inference

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatCompletionBody(content string) map[string]any {
	return map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"model":  "vlm",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	}
}

func newTestAnalyzer(url string) *OpenAIFrameAnalyzer {
	return NewOpenAIFrameAnalyzer(OpenAIConfig{
		BaseURL:        url + "/v1",
		APIKey:         "sk-test",
		Model:          "vlm",
		ConnectTimeout: time.Second,
		ReadTimeout:    5 * time.Second,
	}, testLogger())
}

func TestOpenAIFrameAnalyzer_SendsImagesAsDataURLs(t *testing.T) {
	var got struct {
		Model     string `json:"model"`
		MaxTokens int    `json:"max_tokens"`
		Messages  []struct {
			Role    string `json:"role"`
			Content []struct {
				Type     string `json:"type"`
				Text     string `json:"text"`
				ImageURL struct {
					URL string `json:"url"`
				} `json:"image_url"`
			} `json:"content"`
		} `json:"messages"`
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatCompletionBody(`{"has_event": true, "description": "worker falls", "risk_score": 0.8}`))
	}))
	defer server.Close()

	v, err := newTestAnalyzer(server.URL).AnalyzeFrames(context.Background(), []string{"AAA", "BBB"}, "judge")
	require.NoError(t, err)
	require.True(t, v.HasEvent)
	require.Equal(t, "worker falls", v.Description)

	require.Equal(t, "vlm", got.Model)
	require.Equal(t, 150, got.MaxTokens)
	require.Len(t, got.Messages, 1)
	parts := got.Messages[0].Content
	require.Len(t, parts, 3)
	require.Equal(t, "text", parts[0].Type)
	require.Equal(t, "judge", parts[0].Text)
	require.Equal(t, "data:image/jpeg;base64,AAA", parts[1].ImageURL.URL)
	require.Equal(t, "data:image/jpeg;base64,BBB", parts[2].ImageURL.URL)
}

func TestOpenAIFrameAnalyzer_DegradesOnProse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatCompletionBody("I cannot tell from these frames."))
	}))
	defer server.Close()

	v, err := newTestAnalyzer(server.URL).AnalyzeFrames(context.Background(), []string{"AAA"}, "judge")
	require.NoError(t, err)
	require.True(t, v.Degraded)
	require.False(t, v.HasEvent)
	require.Equal(t, "I cannot tell from these frames.", v.Description)
}

func TestOpenAIFrameAnalyzer_MapsServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"out of memory","type":"server_error"}}`))
	}))
	defer server.Close()

	_, err := newTestAnalyzer(server.URL).AnalyzeFrames(context.Background(), []string{"AAA"}, "judge")

	var be *BackendError
	require.True(t, errors.As(err, &be), "expected *BackendError, got %v", err)
	require.Equal(t, http.StatusInternalServerError, be.StatusCode)
	require.True(t, be.IsRetryable())
}

func TestOpenAIFrameAnalyzer_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	_, err := newTestAnalyzer(addr).AnalyzeFrames(context.Background(), []string{"AAA"}, "judge")
	require.ErrorIs(t, err, ErrBackendUnavailable)
}

package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req CompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "what is 2+2?", req.Messages[1].Content)

		_ = json.NewEncoder(w).Encode(CompletionResponse{
			Model:   "gpt-4o-mini-2024",
			Choices: []Choice{{Message: Message{Role: "assistant", Content: " 4 "}}},
			Usage:   Usage{TotalTokens: 12},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "sk-test", "gpt-4o-mini")
	got, err := c.Complete(context.Background(), "what is 2+2?")
	require.NoError(t, err)
	assert.Equal(t, "4", got.Text)
	assert.Equal(t, "gpt-4o-mini-2024", got.Model)
	assert.Equal(t, 12, got.Tokens)
}

func TestCompleteErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
		wantMsg string
	}{
		{name: "api error", status: http.StatusTooManyRequests, body: `{"error":"rate limited"}`, wantMsg: "status: 429"},
		{name: "no choices", status: http.StatusOK, body: `{"choices":[]}`, wantErr: ErrEmptyReply},
		{name: "bad json", status: http.StatusOK, body: `not json`, wantMsg: "unmarshal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, "sk-test", "m").Complete(context.Background(), "hi")
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestCompleteWithoutKey(t *testing.T) {
	_, err := NewClient("http://unused", "", "m").Complete(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

package classify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mselvam/inboxzero/internal/model"
)

func TestGroqClassifyParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req apiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama-3.3-70b-versatile", req.Model)
		require.Len(t, req.Messages, 1)
		assert.Contains(t, req.Messages[0].Content, "Subject: Project deadline")

		resp := apiResponse{
			Choices: []apiChoice{{
				Message: apiMessage{
					Role: "assistant",
					Content: `{"category": "Important", "priority": "High",
						"reply": "Hi! I will get this done today.",
						"reasoning": "deadline request", "needs_reply": true}`,
				},
			}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	g := NewGroqClassifier("test-key", "", 0, 0, "Mariselvam M")
	g.baseURL = srv.URL

	v, err := g.Classify(context.Background(),
		"boss@corp.example", "Project deadline", "Need the report")
	require.NoError(t, err)
	assert.Equal(t, model.CategoryImportant, v.Category)
	assert.Equal(t, model.HintHigh, v.PriorityHint)
	assert.True(t, v.NeedsReply)
	assert.False(t, v.IsFallback)
}

func TestGroqClassifyErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"type": "rate_limit", "message": "slow down"}}`))
	}))
	defer srv.Close()

	g := NewGroqClassifier("test-key", "", 0, 0, "")
	g.baseURL = srv.URL

	_, err := g.Classify(context.Background(), "a@b.c", "s", "b")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Contains(t, err.Error(), "slow down")
}

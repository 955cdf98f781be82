package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSDKClient_CreateMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/messages")

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"id":   "msg_test_001",
			"type": "message",
			"role": "assistant",
			"content": []map[string]any{
				{"type": "text", "text": "Hello from test"},
			},
			"model":       "claude-haiku-4-5-20251001",
			"stop_reason": "end_turn",
			"usage": map[string]any{
				"input_tokens":  10,
				"output_tokens": 5,
			},
		})
	}))
	defer ts.Close()

	client := NewClient("test-key", WithBaseURL(ts.URL), WithMaxRetries(0))
	resp, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 1024,
		Messages:  []Message{{Role: "user", Content: "Hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "msg_test_001", resp.ID)
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "Hello from test", resp.Content[0].Text)
	assert.Equal(t, int64(10), resp.Usage.InputTokens)
}

func TestSDKClient_CreateMessage_SendsDocumentAndForcedTool(t *testing.T) {
	var body map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &body))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"id":   "msg_tool",
			"type": "message",
			"role": "assistant",
			"content": []map[string]any{
				{
					"type":  "tool_use",
					"id":    "toolu_1",
					"name":  "record_verdict",
					"input": map[string]any{"isFillable": true, "fieldCount": 3, "summary": "widgets"},
				},
			},
			"model":       "claude-haiku-4-5-20251001",
			"stop_reason": "tool_use",
			"usage":       map[string]any{"input_tokens": 1, "output_tokens": 1},
		})
	}))
	defer ts.Close()

	temp := 0.1
	client := NewClient("test-key", WithBaseURL(ts.URL), WithMaxRetries(0))
	resp, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:       "claude-haiku-4-5-20251001",
		MaxTokens:   512,
		Temperature: &temp,
		System:      BuildCachedSystemBlocks("rules"),
		Messages: []Message{
			{Role: "user", Content: "Analyze", Documents: []Document{{Data: "JVBERi0xLjQ="}}},
		},
		Tools: []Tool{{
			Name:       "record_verdict",
			Properties: map[string]any{"summary": map[string]any{"type": "string"}},
			Required:   []string{"summary"},
		}},
		ToolChoice: "record_verdict",
	})
	require.NoError(t, err)
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "record_verdict", resp.Content[0].Name)
	assert.JSONEq(t, `{"isFillable":true,"fieldCount":3,"summary":"widgets"}`, string(resp.Content[0].Input))

	choice, ok := body["tool_choice"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "tool", choice["type"])
	assert.Equal(t, "record_verdict", choice["name"])
	assert.InDelta(t, 0.1, body["temperature"], 0.0001)

	msgs := body["messages"].([]any)
	content := msgs[0].(map[string]any)["content"].([]any)
	require.Len(t, content, 2)
	doc := content[0].(map[string]any)
	assert.Equal(t, "document", doc["type"])
	source := doc["source"].(map[string]any)
	assert.Equal(t, "base64", source["type"])
	assert.Equal(t, "application/pdf", source["media_type"])
}

func TestSDKClient_CreateMessage_Error(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`)) //nolint:errcheck
	}))
	defer ts.Close()

	client := NewClient("test-key", WithBaseURL(ts.URL), WithMaxRetries(0))
	_, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 10,
		Messages:  []Message{{Role: "user", Content: "x"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic: create message")
}

package classifier

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/form-detector/internal/fetcher"
	"github.com/sells-group/form-detector/pkg/anthropic"
)

func testDoc() *fetcher.Document {
	return fetcher.NewDocument("https://x.com/a.pdf", "a.pdf", "application/pdf", []byte("%PDF-1.4"))
}

func TestAnthropicClassify_ToolUse(t *testing.T) {
	mc := new(mockAnthropicClient)
	mc.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.ToolChoice == verdictToolName &&
			len(req.Tools) == 1 &&
			req.Temperature != nil && *req.Temperature == DefaultTemperature &&
			len(req.Messages) == 1 &&
			len(req.Messages[0].Documents) == 1 &&
			req.Messages[0].Documents[0].Data == "JVBERi0xLjQ=" &&
			len(req.System) == 1 && req.System[0].Text == Instructions
	})).Return(&anthropic.MessageResponse{
		Model: "claude-haiku-4-5-20251001",
		Content: []anthropic.ContentBlock{
			{Type: "tool_use", Name: verdictToolName, Input: []byte(`{"isFillable":true,"fieldCount":12,"summary":"AcroForm text boxes"}`)},
		},
		Usage: anthropic.TokenUsage{InputTokens: 1500, OutputTokens: 40},
	}, nil)

	c := NewAnthropic(mc, AnthropicOptions{})
	res, err := c.Classify(context.Background(), testDoc())
	require.NoError(t, err)
	assert.True(t, res.IsFillable)
	assert.Equal(t, 12, res.FieldCount)
	assert.Equal(t, "AcroForm text boxes", res.Summary)
	assert.Equal(t, "claude-haiku-4-5-20251001", res.Model)
	assert.Equal(t, int64(1500), res.Usage.InputTokens)
	mc.AssertExpectations(t)
}

func TestAnthropicClassify_TextFallback(t *testing.T) {
	mc := new(mockAnthropicClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).Return(&anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{
			{Type: "text", Text: "```json\n{\"isFillable\":false,\"fieldCount\":0,\"summary\":\"lines for handwriting\"}\n```"},
		},
	}, nil)

	res, err := NewAnthropic(mc, AnthropicOptions{Model: "m"}).Classify(context.Background(), testDoc())
	require.NoError(t, err)
	assert.False(t, res.IsFillable)
	assert.Equal(t, 0, res.FieldCount)
	assert.Equal(t, "m", res.Model)
}

func TestAnthropicClassify_EmptyResponse(t *testing.T) {
	mc := new(mockAnthropicClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).Return(&anthropic.MessageResponse{StopReason: "max_tokens"}, nil)

	_, err := NewAnthropic(mc, AnthropicOptions{}).Classify(context.Background(), testDoc())
	require.Error(t, err)
	assert.True(t, IsOracleError(err))
	assert.Contains(t, err.Error(), "no response payload")
}

func TestAnthropicClassify_RequestError(t *testing.T) {
	mc := new(mockAnthropicClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("overloaded"))

	_, err := NewAnthropic(mc, AnthropicOptions{}).Classify(context.Background(), testDoc())
	require.Error(t, err)
	assert.True(t, IsOracleError(err))
	assert.Equal(t, "classification request failed: overloaded", err.Error())
}

func TestAnthropicClassify_InvalidVerdict(t *testing.T) {
	mc := new(mockAnthropicClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).Return(&anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{
			{Type: "tool_use", Name: verdictToolName, Input: []byte(`{"isFillable":true}`)},
		},
	}, nil)

	_, err := NewAnthropic(mc, AnthropicOptions{}).Classify(context.Background(), testDoc())
	require.Error(t, err)
	assert.True(t, IsOracleError(err))
}

func TestNewAnthropic_Defaults(t *testing.T) {
	c := NewAnthropic(new(mockAnthropicClient), AnthropicOptions{})
	assert.Equal(t, "claude-haiku-4-5-20251001", c.opts.Model)
	assert.Equal(t, int64(1024), c.opts.MaxTokens)
	assert.Equal(t, DefaultTemperature, c.opts.Temperature)
}

func TestAnthropicClassify_ServerErrorSentOnce(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"type":"error","error":{"type":"api_error","message":"boom"}}`)) //nolint:errcheck
	}))
	defer ts.Close()

	c := NewAnthropic(anthropic.NewClient("sk-ant-test", anthropic.WithBaseURL(ts.URL)), AnthropicOptions{})
	_, err := c.Classify(context.Background(), testDoc())
	require.Error(t, err)
	assert.True(t, IsServiceFailure(err))
	assert.Equal(t, int32(1), hits.Load())
}

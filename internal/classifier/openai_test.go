package classifier

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func chatResponse(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Model: "gpt-4o-mini",
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content}},
		},
		Usage: openai.Usage{PromptTokens: 900, CompletionTokens: 30},
	}
}

func TestOpenAIClassify(t *testing.T) {
	mc := new(mockChatCompleter)
	mc.On("CreateChatCompletion", mock.Anything, mock.MatchedBy(func(req openai.ChatCompletionRequest) bool {
		return req.ResponseFormat != nil &&
			req.ResponseFormat.Type == openai.ChatCompletionResponseFormatTypeJSONSchema &&
			req.ResponseFormat.JSONSchema.Strict &&
			len(req.Messages) == 2 &&
			req.Messages[0].Content == Instructions &&
			req.Temperature == float32(DefaultTemperature)
	})).Return(chatResponse(`{"isFillable":true,"fieldCount":3,"summary":"declares AcroForm fields"}`), nil)

	res, err := NewOpenAI(mc, OpenAIOptions{}).Classify(context.Background(), testDoc())
	require.NoError(t, err)
	assert.True(t, res.IsFillable)
	assert.Equal(t, 3, res.FieldCount)
	assert.Equal(t, "gpt-4o-mini", res.Model)
	assert.Equal(t, int64(900), res.Usage.InputTokens)
	mc.AssertExpectations(t)
}

func TestOpenAIClassify_DescribesDocument(t *testing.T) {
	c := NewOpenAI(new(mockChatCompleter), OpenAIOptions{})
	desc := c.describe(testDoc())
	assert.Contains(t, desc, "Filename: a.pdf")
	assert.Contains(t, desc, "Form structure: could not be read")
	assert.Contains(t, desc, "Extracted text: unavailable")
}

func TestOpenAIClassify_NoChoices(t *testing.T) {
	mc := new(mockChatCompleter)
	mc.On("CreateChatCompletion", mock.Anything, mock.Anything).Return(openai.ChatCompletionResponse{}, nil)

	_, err := NewOpenAI(mc, OpenAIOptions{}).Classify(context.Background(), testDoc())
	require.Error(t, err)
	assert.True(t, IsOracleError(err))
}

func TestOpenAIClassify_RequestError(t *testing.T) {
	mc := new(mockChatCompleter)
	mc.On("CreateChatCompletion", mock.Anything, mock.Anything).Return(openai.ChatCompletionResponse{}, errors.New("429"))

	_, err := NewOpenAI(mc, OpenAIOptions{}).Classify(context.Background(), testDoc())
	require.Error(t, err)
	assert.True(t, IsOracleError(err))
}

func TestVerdictSchema(t *testing.T) {
	s := verdictSchema()
	assert.ElementsMatch(t, VerdictRequired, s.Required)
	assert.Len(t, s.Properties, 3)
}

func TestNewOpenAIClient(t *testing.T) {
	assert.NotNil(t, NewOpenAIClient("key", "http://localhost:1234/v1"))
}

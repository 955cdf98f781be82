package classifier

import (
	"context"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/mock"

	"github.com/sells-group/form-detector/internal/fetcher"
	"github.com/sells-group/form-detector/internal/model"
	"github.com/sells-group/form-detector/pkg/anthropic"
)

// --- Anthropic Mock ---

type mockAnthropicClient struct {
	mock.Mock
}

func (m *mockAnthropicClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

// --- OpenAI Mock ---

type mockChatCompleter struct {
	mock.Mock
}

func (m *mockChatCompleter) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(openai.ChatCompletionResponse), args.Error(1)
}

// --- Classifier Mock ---

type mockClassifier struct {
	mock.Mock
}

func (m *mockClassifier) Classify(ctx context.Context, doc *fetcher.Document) (*model.ClassificationResult, error) {
	args := m.Called(ctx, doc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ClassificationResult), args.Error(1)
}

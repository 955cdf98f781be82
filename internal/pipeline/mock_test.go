package pipeline

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/form-detector/internal/fetcher"
	"github.com/sells-group/form-detector/internal/model"
)

// --- Fetcher Mock ---

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) Fetch(ctx context.Context, url string) (*fetcher.Document, error) {
	args := m.Called(ctx, url)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fetcher.Document), args.Error(1)
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

// --- Recorder Mock ---

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) CreateRun(ctx context.Context, run *model.Run) error {
	return m.Called(ctx, run).Error(0)
}

func (m *mockRecorder) SaveItem(ctx context.Context, runID string, item model.AnalysisItem) error {
	return m.Called(ctx, runID, item).Error(0)
}

func (m *mockRecorder) CompleteRun(ctx context.Context, run *model.Run) error {
	return m.Called(ctx, run).Error(0)
}

// eventLog collects events for assertions.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) OnEvent(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) all() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/caseworks/docpipe/internal/model"
	"github.com/caseworks/docpipe/pkg/aiclient"
)

// --- Model client mock ---

type mockAIClient struct {
	mock.Mock
}

func (m *mockAIClient) CreateMessage(ctx context.Context, req aiclient.Request) (*aiclient.Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*aiclient.Response), args.Error(1)
}

// --- Fetcher stub ---

type stubFetcher struct {
	data        []byte
	contentType string
	err         error
}

func (s *stubFetcher) Fetch(ctx context.Context, source string) ([]byte, string, error) {
	return s.data, s.contentType, s.err
}

// --- OCR stub ---

type stubExtractor struct {
	text  string
	err   error
	calls int
}

func (s *stubExtractor) ExtractText(ctx context.Context, data []byte, contentType string) (string, error) {
	s.calls++
	return s.text, s.err
}

// --- Action sink mock ---

type mockSink struct {
	mock.Mock
}

func (m *mockSink) Name() string { return "mock" }

func (m *mockSink) Push(ctx context.Context, action model.Action) error {
	args := m.Called(ctx, action)
	return args.Error(0)
}

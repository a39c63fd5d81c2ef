package enrich

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/ai-rio/redditharbor-graph-enhanced-sub003/pkg/claude"
)

// mockClient implements claude.Client for testing.
type mockClient struct {
	mock.Mock
}

func (m *mockClient) CreateMessage(ctx context.Context, req claude.MessageRequest) (*claude.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*claude.MessageResponse), args.Error(1)
}

// textResponse builds a response holding one text block.
func textResponse(text string) *claude.MessageResponse {
	return &claude.MessageResponse{
		ID:      "msg-1",
		Model:   "claude-haiku-4-5-20251001",
		Content: []claude.ContentBlock{{Type: "text", Text: text}},
	}
}

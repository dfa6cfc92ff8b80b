package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/prospector-cli/internal/approval"
	"github.com/sells-group/prospector-cli/internal/model"
	"github.com/sells-group/prospector-cli/pkg/anthropic"
	"github.com/sells-group/prospector-cli/pkg/brightdata"
	"github.com/sells-group/prospector-cli/pkg/salesforce"
	"github.com/sells-group/prospector-cli/pkg/serper"
)

type mockDataset struct {
	mock.Mock
}

func (m *mockDataset) FilterDataset(ctx context.Context, req brightdata.FilterRequest) (*brightdata.SubmitResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*brightdata.SubmitResponse), args.Error(1)
}

func (m *mockDataset) TriggerScrape(ctx context.Context, req brightdata.ScrapeRequest) (*brightdata.SubmitResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*brightdata.SubmitResponse), args.Error(1)
}

func (m *mockDataset) GetSnapshot(ctx context.Context, id string) (*brightdata.SnapshotMeta, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*brightdata.SnapshotMeta), args.Error(1)
}

func (m *mockDataset) DownloadSnapshot(ctx context.Context, id string) ([]brightdata.ProfileRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]brightdata.ProfileRecord), args.Error(1)
}

type mockSearch struct {
	mock.Mock
}

func (m *mockSearch) Search(ctx context.Context, query string, topK int) ([]serper.SearchResult, error) {
	args := m.Called(ctx, query, topK)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]serper.SearchResult), args.Error(1)
}

type mockAI struct {
	mock.Mock
}

func (m *mockAI) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

type mockCRM struct {
	mock.Mock
}

func (m *mockCRM) Query(ctx context.Context, soql string, out any) error {
	args := m.Called(ctx, soql, out)
	return args.Error(0)
}

func (m *mockCRM) InsertOne(ctx context.Context, sObjectName string, record map[string]any) (string, error) {
	args := m.Called(ctx, sObjectName, record)
	return args.String(0), args.Error(1)
}

func (m *mockCRM) UpdateOne(ctx context.Context, sObjectName string, id string, fields map[string]any) error {
	args := m.Called(ctx, sObjectName, id, fields)
	return args.Error(0)
}

type mockSink struct {
	mock.Mock
}

func (m *mockSink) Enqueue(ctx context.Context, pu *model.PendingUpdate) (string, error) {
	args := m.Called(ctx, pu)
	return args.String(0), args.Error(1)
}

var (
	_ brightdata.Client = (*mockDataset)(nil)
	_ serper.Client     = (*mockSearch)(nil)
	_ anthropic.Client  = (*mockAI)(nil)
	_ salesforce.Client = (*mockCRM)(nil)
	_ approval.Sink     = (*mockSink)(nil)
)

// textReply wraps plain text in a message response with fixed token usage.
func textReply(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		ID:         "msg_rank",
		Content:    []anthropic.ContentBlock{{Type: "text", Text: text}},
		StopReason: "end_turn",
		Usage:      anthropic.TokenUsage{InputTokens: 900, OutputTokens: 250},
	}
}

func submitted(id string) *brightdata.SubmitResponse {
	return &brightdata.SubmitResponse{SnapshotID: id}
}

func readyMeta(id string, size int) *brightdata.SnapshotMeta {
	return &brightdata.SnapshotMeta{ID: id, Status: brightdata.StatusReady, DatasetSize: size}
}

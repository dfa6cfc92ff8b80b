package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockClient implements Client for tests in this package and for callers
// that stub the generative stage.
type MockClient struct {
	mock.Mock
}

var _ Client = (*MockClient)(nil)

func (m *MockClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*MessageResponse), args.Error(1)
}

func TestMockClient_RoundTrip(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	req := MessageRequest{
		Model:     "claude-sonnet-4-5-20250929",
		MaxTokens: 1024,
		Messages:  []Message{{Role: RoleUser, Content: "Score these prospects."}},
	}
	mc.On("CreateMessage", ctx, req).Return(&MessageResponse{
		ID:         "msg_rank_01",
		Model:      "claude-sonnet-4-5-20250929",
		Content:    []ContentBlock{{Type: "text", Text: `{"prospects":[]}`}},
		StopReason: "end_turn",
		Usage:      TokenUsage{InputTokens: 840, OutputTokens: 12},
	}, nil)

	resp, err := mc.CreateMessage(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "msg_rank_01", resp.ID)
	assert.Equal(t, `{"prospects":[]}`, resp.Content[0].Text)
	assert.Equal(t, int64(840), resp.Usage.InputTokens)
	mc.AssertExpectations(t)
}

// paramRole reads the role off a marshaled message param.
func paramRole(t *testing.T, p sdk.MessageParam) string {
	t.Helper()
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	var decoded struct {
		Role string `json:"role"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	return decoded.Role
}

func TestSDKMessageParams_Roles(t *testing.T) {
	params := sdkMessageParams([]Message{
		{Role: RoleUser, Content: "Who runs facilities at Benefis?"},
		{Role: RoleAssistant, Content: "Pat Walsh, Director of Facilities."},
		{Role: RoleUser, Content: "And finance?"},
	})
	require.Len(t, params, 3)
	assert.Equal(t, "user", paramRole(t, params[0]))
	assert.Equal(t, "assistant", paramRole(t, params[1]))
	assert.Equal(t, "user", paramRole(t, params[2]))
}

func TestSDKMessageParams_UnknownRoleBecomesUser(t *testing.T) {
	params := sdkMessageParams([]Message{{Role: "system", Content: "misplaced"}})
	require.Len(t, params, 1)
	assert.Equal(t, "user", paramRole(t, params[0]))
}

func TestSDKMessageParams_Empty(t *testing.T) {
	assert.Empty(t, sdkMessageParams(nil))
}

func TestSDKSystemBlocks_CacheBreakpoint(t *testing.T) {
	blocks := sdkSystemBlocks([]SystemBlock{
		{Text: "You score sales prospects."},
		{Text: "Scoring rubric...", CacheControl: &CacheControl{TTL: "1h"}},
	})
	require.Len(t, blocks, 2)
	assert.Equal(t, "You score sales prospects.", blocks[0].Text)

	plain, err := json.Marshal(blocks[0])
	require.NoError(t, err)
	assert.NotContains(t, string(plain), "cache_control", "no breakpoint unless asked for")

	cached, err := json.Marshal(blocks[1])
	require.NoError(t, err)
	assert.Contains(t, string(cached), `"ephemeral"`)
	assert.Contains(t, string(cached), `"1h"`)
}

func TestSDKSystemBlocks_EmptyTTLUsesAPIDefault(t *testing.T) {
	blocks := sdkSystemBlocks([]SystemBlock{
		{Text: "rubric", CacheControl: &CacheControl{}},
	})
	require.Len(t, blocks, 1)
	assert.Empty(t, blocks[0].CacheControl.TTL)
}

func TestResponseFromSDK(t *testing.T) {
	resp := responseFromSDK(&sdk.Message{
		ID:           "msg_scored",
		Model:        "claude-sonnet-4-5-20250929",
		StopReason:   "end_turn",
		StopSequence: "",
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: `{"prospects":[{"index":0,"score":85}]}`},
		},
		Usage: sdk.Usage{
			InputTokens:              900,
			OutputTokens:             250,
			CacheCreationInputTokens: 0,
			CacheReadInputTokens:     6400,
		},
	})

	require.NotNil(t, resp)
	assert.Equal(t, "msg_scored", resp.ID)
	assert.Equal(t, "claude-sonnet-4-5-20250929", resp.Model)
	assert.Equal(t, "end_turn", resp.StopReason)
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "text", resp.Content[0].Type)
	assert.Equal(t, int64(900), resp.Usage.InputTokens)
	assert.Equal(t, int64(250), resp.Usage.OutputTokens)
	assert.Equal(t, int64(6400), resp.Usage.CacheReadInputTokens)
}

func TestResponseFromSDK_NoContent(t *testing.T) {
	resp := responseFromSDK(&sdk.Message{ID: "msg_empty", StopReason: "max_tokens"})
	require.NotNil(t, resp)
	assert.Empty(t, resp.Content)
	assert.Equal(t, "max_tokens", resp.StopReason)
}

func TestNewClient_SatisfiesInterface(t *testing.T) {
	var c Client = NewClient("test-key")
	require.NotNil(t, c)
}

// newTestClient points the SDK at a local server.
func newTestClient(baseURL string) *sdkClient {
	return &sdkClient{
		client: sdk.NewClient(
			option.WithAPIKey("test-key"),
			option.WithBaseURL(baseURL),
		),
	}
}

func messageJSON(id, text string, usage map[string]any) map[string]any {
	return map[string]any{
		"id":          id,
		"type":        "message",
		"role":        "assistant",
		"model":       "claude-sonnet-4-5-20250929",
		"stop_reason": "end_turn",
		"content":     []map[string]any{{"type": "text", "text": text}},
		"usage":       usage,
	}
}

func TestSDKClient_CreateMessage_WireShape(t *testing.T) {
	var body map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Contains(t, r.URL.Path, "/messages")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(messageJSON("msg_wire", `{"prospects":[]}`, map[string]any{ //nolint:errcheck
			"input_tokens":                700,
			"output_tokens":               9,
			"cache_creation_input_tokens": 6400,
			"cache_read_input_tokens":     0,
		}))
	}))
	defer ts.Close()

	temp := 0.2
	resp, err := newTestClient(ts.URL).CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-sonnet-4-5-20250929",
		MaxTokens: 4096,
		System: []SystemBlock{
			{Text: "Scoring rubric...", CacheControl: &CacheControl{TTL: "1h"}},
		},
		Messages:    []Message{{Role: RoleUser, Content: "Candidates:..."}},
		Temperature: &temp,
	})
	require.NoError(t, err)

	assert.Equal(t, "claude-sonnet-4-5-20250929", body["model"])
	assert.EqualValues(t, 4096, body["max_tokens"])
	assert.EqualValues(t, 0.2, body["temperature"])

	system := body["system"].([]any)
	require.Len(t, system, 1)
	cc := system[0].(map[string]any)["cache_control"].(map[string]any)
	assert.Equal(t, "ephemeral", cc["type"])
	assert.Equal(t, "1h", cc["ttl"])

	assert.Equal(t, "msg_wire", resp.ID)
	assert.Equal(t, int64(6400), resp.Usage.CacheCreationInputTokens)
}

func TestSDKClient_CreateMessage_NoSystemOmitted(t *testing.T) {
	var body map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(messageJSON("msg_plain", "ok", map[string]any{ //nolint:errcheck
			"input_tokens":  5,
			"output_tokens": 1,
		}))
	}))
	defer ts.Close()

	resp, err := newTestClient(ts.URL).CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 64,
		Messages:  []Message{{Role: RoleUser, Content: "ok"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "msg_plain", resp.ID)

	_, hasSystem := body["system"]
	assert.False(t, hasSystem)
	_, hasTemp := body["temperature"]
	assert.False(t, hasTemp)
}

func TestSDKClient_CreateMessage_APIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"type":  "error",
			"error": map[string]any{"type": "overloaded_error", "message": "Overloaded"},
		})
	}))
	defer ts.Close()

	_, err := newTestClient(ts.URL).CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-sonnet-4-5-20250929",
		MaxTokens: 64,
		Messages:  []Message{{Role: RoleUser, Content: "hello"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic: create message")
}

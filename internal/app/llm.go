package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Transport sentinel errors. Unlike tool failures these are fatal to the
// running turn: the loop stops and reports to the operator instead of handing
// the failure back to the model.
var (
	ErrUnauthorized = errors.New("provider rejected the API key")
	ErrRateLimited  = errors.New("provider rate limit exceeded")
	ErrUnavailable  = errors.New("provider unavailable")
)

// ChatMessage is one provider-neutral history entry, stored in the flat
// role-tagged shape that OpenAI-compatible providers consume directly. Role is
// one of system, user, assistant, tool. Assistant entries may carry a tool
// call batch instead of text; tool entries answer exactly one call by id.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a model-issued request to run one tool. Arguments stay in their
// serialized JSON form until the dispatcher decodes them; a malformed encoding
// is a recoverable tool failure, not a crash.
type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the tool and carries its serialized arguments object.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool is one registry entry in function-calling form, advertised to both
// provider families.
type Tool struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionDef carries the tool name, description, and JSON-schema parameters.
type FunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ChatResponse is one completed model reply: either text content or an
// ordered tool call batch, never both.
type ChatResponse struct {
	Content   string
	ToolCalls []ToolCall
}

// Client is the provider boundary the orchestration loop depends on. One
// implementation exists per wire family, chosen once at session start, plus a
// scripted mock for offline runs.
type Client interface {
	// Chat requests one complete response for the given history.
	Chat(ctx context.Context, messages []ChatMessage, tools []Tool) (*ChatResponse, error)
	// StreamChat behaves like Chat but surfaces text deltas through onDelta
	// as they arrive; tool call deltas are accumulated into the returned
	// response.
	StreamChat(ctx context.Context, messages []ChatMessage, tools []Tool, onDelta func(string)) (*ChatResponse, error)
}

const maxErrorBodyBytes = 4096

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 120 * time.Second}
}

// statusError maps a non-2xx provider response onto the transport sentinels,
// attaching whatever detail the error body offers.
func statusError(resp *http.Response) error {
	detail := readErrorBody(resp)
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status=%s detail=%q", ErrUnauthorized, resp.Status, detail)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status=%s detail=%q", ErrRateLimited, resp.Status, detail)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status=%s detail=%q", ErrUnavailable, resp.Status, detail)
	default:
		return fmt.Errorf("provider request failed: %s - %s", resp.Status, detail)
	}
}

// readErrorBody extracts a readable message from an error response,
// preferring the JSON error object most providers return over the raw body.
func readErrorBody(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	var probe struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &probe); err == nil && probe.Error.Message != "" {
		return probe.Error.Message
	}
	return strings.TrimSpace(string(body))
}

package app

import (
	"context"
	"encoding/json"
	"strings"
)

// MockClient is an offline stand-in for a real provider, used by --mock runs
// and demos. It answers the first call of a turn with a canned tool call
// derived from task keywords, then closes the turn once the history carries
// the tool results.
type MockClient struct {
	Calls int
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (c *MockClient) Chat(ctx context.Context, messages []ChatMessage, tools []Tool) (*ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.Calls++

	// A call without tools is a connection probe; answer in plain text.
	if len(tools) == 0 {
		return &ChatResponse{Content: "Success"}, nil
	}
	if n := len(messages); n > 0 && messages[n-1].Role == "tool" {
		return c.closeTurn(messages[n-1]), nil
	}
	return c.plan(lastUserContent(messages)), nil
}

func (c *MockClient) StreamChat(ctx context.Context, messages []ChatMessage, tools []Tool, onDelta func(string)) (*ChatResponse, error) {
	resp, err := c.Chat(ctx, messages, tools)
	if err != nil {
		return nil, err
	}
	if onDelta != nil && resp.Content != "" {
		for _, chunk := range strings.SplitAfter(resp.Content, " ") {
			onDelta(chunk)
		}
	}
	return resp, nil
}

// closeTurn produces the final text once tools have run. A failed tool call
// is surfaced instead of the completion marker so the transcript shows what
// went wrong.
func (c *MockClient) closeTurn(last ChatMessage) *ChatResponse {
	var envelope struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if json.Unmarshal([]byte(last.Content), &envelope) == nil && !envelope.Success && envelope.Error != "" {
		return &ChatResponse{Content: "The last tool call failed: " + envelope.Error}
	}
	return &ChatResponse{Content: "All requested actions completed. " + TaskFinishedMarker}
}

func (c *MockClient) plan(task string) *ChatResponse {
	t := strings.ToLower(task)
	switch {
	case strings.Contains(t, "read"):
		return toolCallResponse("read_file", map[string]any{"path": guessPath(task, "README.md")})
	case strings.Contains(t, "delete") || strings.Contains(t, "remove"):
		return toolCallResponse("delete_file", map[string]any{"path": guessPath(task, "old.txt")})
	case strings.Contains(t, "directory") || strings.Contains(t, "folder"):
		return toolCallResponse("create_directory", map[string]any{"path": "new_folder"})
	case strings.Contains(t, "write") || strings.Contains(t, "create"):
		return toolCallResponse("write_file", map[string]any{
			"path":    guessPath(task, "notes.txt"),
			"content": "Hello from the mock model.\n",
		})
	case strings.Contains(t, "list") || strings.Contains(t, "files"):
		return toolCallResponse("list_files", map[string]any{"path": "."})
	default:
		return toolCallResponse("list_files", map[string]any{"path": "."})
	}
}

func toolCallResponse(name string, args map[string]any) *ChatResponse {
	return &ChatResponse{
		ToolCalls: []ToolCall{{
			ID:   "call_0",
			Type: "function",
			Function: FunctionCall{
				Name:      name,
				Arguments: string(mustMarshal(args)),
			},
		}},
	}
}

func lastUserContent(messages []ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}

// guessPath picks the first dotted token from the task text, e.g. "main.go"
// out of "read main.go and summarize it".
func guessPath(task, fallback string) string {
	for _, field := range strings.Fields(task) {
		field = strings.Trim(field, `"'.,:;!?`)
		if strings.Contains(field, ".") && len(field) > 1 {
			return field
		}
	}
	return fallback
}

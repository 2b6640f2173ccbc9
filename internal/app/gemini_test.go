package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestToGeminiContents(t *testing.T) {
	history := []ChatMessage{
		{Role: "system", Content: "You are a coding agent."},
		{Role: "user", Content: "fix the bug"},
		{Role: "assistant", ToolCalls: []ToolCall{
			{ID: "call_0", Type: "function", Function: FunctionCall{Name: "read_file", Arguments: `{"path": "main.go"}`}},
			{ID: "call_1", Type: "function", Function: FunctionCall{Name: "list_files", Arguments: `not json`}},
		}},
		{Role: "tool", Name: "read_file", ToolCallID: "call_0", Content: `{"success": true, "content": "package main"}`},
		{Role: "tool", Name: "list_files", ToolCallID: "call_1", Content: `{"success": true, "files": []}`},
		{Role: "assistant", Content: "Found it."},
		{Role: "user", Content: "now fix it"},
	}

	contents := toGeminiContents(history)

	wantRoles := []string{"user", "model", "function", "model", "user"}
	if len(contents) != len(wantRoles) {
		t.Fatalf("len(contents) = %d, want %d", len(contents), len(wantRoles))
	}
	for i, want := range wantRoles {
		if contents[i].Role != want {
			t.Errorf("contents[%d].Role = %q, want %q", i, contents[i].Role, want)
		}
	}

	// System prompt folds into the first user turn only.
	first := contents[0].Parts[0].Text
	if first != "You are a coding agent.\n\n--- USER'S TASK ---\n\nfix the bug" {
		t.Errorf("first user turn = %q", first)
	}
	if contents[4].Parts[0].Text != "now fix it" {
		t.Errorf("second user turn = %q", contents[4].Parts[0].Text)
	}

	// Tool call batch becomes functionCall parts; ids are dropped and
	// unparseable arguments degrade to an empty object.
	batch := contents[1].Parts
	if len(batch) != 2 {
		t.Fatalf("model batch parts = %d, want 2", len(batch))
	}
	if batch[0].FunctionCall == nil || batch[0].FunctionCall.Name != "read_file" {
		t.Fatalf("first part = %+v", batch[0])
	}
	if string(batch[0].FunctionCall.Args) != `{"path": "main.go"}` {
		t.Errorf("args = %s", batch[0].FunctionCall.Args)
	}
	if string(batch[1].FunctionCall.Args) != "{}" {
		t.Errorf("invalid args should degrade to {}, got %s", batch[1].FunctionCall.Args)
	}

	// Consecutive tool results coalesce into one function turn.
	responses := contents[2].Parts
	if len(responses) != 2 {
		t.Fatalf("function turn parts = %d, want 2", len(responses))
	}
	fr := responses[0].FunctionResponse
	if fr == nil || fr.Name != "read_file" {
		t.Fatalf("first response = %+v", responses[0])
	}
	inner, ok := fr.Response["content"].(map[string]any)
	if !ok {
		t.Fatalf("response content not decoded: %+v", fr.Response)
	}
	if success, _ := inner["success"].(bool); !success {
		t.Errorf("decoded content = %+v", inner)
	}

	if contents[3].Parts[0].Text != "Found it." {
		t.Errorf("model text turn = %q", contents[3].Parts[0].Text)
	}
}

func TestToGeminiContentsNonJSONToolContent(t *testing.T) {
	contents := toGeminiContents([]ChatMessage{
		{Role: "tool", Name: "read_file", Content: "plain text result"},
	})
	if len(contents) != 1 {
		t.Fatalf("len(contents) = %d", len(contents))
	}
	fr := contents[0].Parts[0].FunctionResponse
	if fr.Response["content"] != "plain text result" {
		t.Errorf("content = %+v", fr.Response["content"])
	}
}

func TestGeminiChatToolCalls(t *testing.T) {
	var gotPath, gotQuery string
	var gotBody geminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[
			{"functionCall":{"name":"write_file","args":{"path":"a.txt","content":"hi"}}},
			{"functionCall":{"name":"list_files","args":{}}}
		],"role":"model"}}]}`)
	}))
	defer server.Close()

	client := NewGeminiClient("g-key", "gemini-2.0-flash-exp", server.URL, NopLogger())
	resp, err := client.Chat(context.Background(), []ChatMessage{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "do it"},
	}, DefaultTools())
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if gotPath != "/gemini-2.0-flash-exp:generateContent" {
		t.Errorf("path = %q", gotPath)
	}
	if gotQuery != "key=g-key" {
		t.Errorf("query = %q", gotQuery)
	}
	if len(gotBody.SafetySettings) != 4 {
		t.Errorf("safetySettings = %d, want 4", len(gotBody.SafetySettings))
	}
	for _, s := range gotBody.SafetySettings {
		if s.Threshold != "BLOCK_NONE" {
			t.Errorf("threshold = %q", s.Threshold)
		}
	}
	if len(gotBody.Tools) != 1 || len(gotBody.Tools[0].FunctionDeclarations) != 6 {
		t.Errorf("tools = %+v", gotBody.Tools)
	}
	if gotBody.ToolConfig == nil || gotBody.ToolConfig.FunctionCallingConfig.Mode != "AUTO" {
		t.Errorf("tool_config = %+v", gotBody.ToolConfig)
	}
	if len(gotBody.Contents) != 1 || gotBody.Contents[0].Role != "user" {
		t.Errorf("contents = %+v", gotBody.Contents)
	}

	if len(resp.ToolCalls) != 2 {
		t.Fatalf("ToolCalls = %d, want 2", len(resp.ToolCalls))
	}
	if resp.ToolCalls[0].ID != "call_0" || resp.ToolCalls[1].ID != "call_1" {
		t.Errorf("synthesized ids = %q, %q", resp.ToolCalls[0].ID, resp.ToolCalls[1].ID)
	}
	var args struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(resp.ToolCalls[0].Function.Arguments), &args); err != nil {
		t.Fatalf("arguments not JSON: %v", err)
	}
	if args.Path != "a.txt" || args.Content != "hi" {
		t.Errorf("args = %+v", args)
	}
}

func TestGeminiChatText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"TASK_FINISHED"}],"role":"model"}}]}`)
	}))
	defer server.Close()

	client := NewGeminiClient("g-key", "gemini-2.0-flash-exp", server.URL, NopLogger())
	resp, err := client.Chat(context.Background(), []ChatMessage{{Role: "user", Content: "x"}}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "TASK_FINISHED" || len(resp.ToolCalls) != 0 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestGeminiStreamChat(t *testing.T) {
	var gotPath, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range []string{
			`{"candidates":[{"content":{"parts":[{"text":"Working"}]}}]}`,
			`{"candidates":[{"content":{"parts":[{"text":" on it"}]}}]}`,
			`{"candidates":[{"content":{"parts":[{"functionCall":{"name":"read_file","args":{"path":"x.go"}}}]}}]}`,
		} {
			fmt.Fprintf(w, "data: %s\n\n", chunk)
		}
	}))
	defer server.Close()

	var deltas []string
	client := NewGeminiClient("g-key", "gemini-2.0-flash-exp", server.URL, NopLogger())
	resp, err := client.StreamChat(context.Background(), []ChatMessage{{Role: "user", Content: "x"}}, nil,
		func(delta string) { deltas = append(deltas, delta) })
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}

	if gotPath != "/gemini-2.0-flash-exp:streamGenerateContent" {
		t.Errorf("path = %q", gotPath)
	}
	if gotQuery != "key=g-key&alt=sse" {
		t.Errorf("query = %q", gotQuery)
	}
	if resp.Content != "Working on it" {
		t.Errorf("Content = %q", resp.Content)
	}
	if strings.Join(deltas, "|") != "Working| on it" {
		t.Errorf("deltas = %v", deltas)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Function.Name != "read_file" || resp.ToolCalls[0].ID != "call_0" {
		t.Errorf("ToolCalls = %+v", resp.ToolCalls)
	}
}

func TestGeminiStatusMapping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"code":429,"message":"quota exceeded","status":"RESOURCE_EXHAUSTED"}}`)
	}))
	defer server.Close()

	client := NewGeminiClient("g-key", "gemini-2.0-flash-exp", server.URL, NopLogger())
	_, err := client.Chat(context.Background(), []ChatMessage{{Role: "user", Content: "x"}}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("error = %v, want ErrRateLimited", err)
	}
	if !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("error %q missing provider detail", err)
	}
}

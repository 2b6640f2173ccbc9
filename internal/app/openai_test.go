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

func TestOpenAIChat(t *testing.T) {
	var gotAuth string
	var gotBody chatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"All done."},"finish_reason":"stop"}]}`)
	}))
	defer server.Close()

	client := NewOpenAIClient("sk-test", "gpt-4o", server.URL, NopLogger())
	resp, err := client.Chat(context.Background(), []ChatMessage{
		{Role: "system", Content: "You are an agent."},
		{Role: "user", Content: "hello"},
	}, DefaultTools())
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "All done." {
		t.Errorf("Content = %q", resp.Content)
	}
	if len(resp.ToolCalls) != 0 {
		t.Errorf("ToolCalls = %v, want none", resp.ToolCalls)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotBody.Model != "gpt-4o" || gotBody.Stream {
		t.Errorf("request model=%q stream=%v", gotBody.Model, gotBody.Stream)
	}
	if len(gotBody.Tools) != 6 || gotBody.ToolChoice != "auto" {
		t.Errorf("request tools=%d tool_choice=%q", len(gotBody.Tools), gotBody.ToolChoice)
	}
}

func TestOpenAIChatToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"content":null,"tool_calls":[
			{"id":"call_abc","type":"function","function":{"name":"read_file","arguments":"{\"path\": \"main.go\"}"}},
			{"id":"call_def","type":"function","function":{"name":"list_files","arguments":"{}"}}
		]},"finish_reason":"tool_calls"}]}`)
	}))
	defer server.Close()

	client := NewOpenAIClient("sk-test", "gpt-4o", server.URL, NopLogger())
	resp, err := client.Chat(context.Background(), []ChatMessage{{Role: "user", Content: "x"}}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "" {
		t.Errorf("Content = %q, want empty", resp.Content)
	}
	if len(resp.ToolCalls) != 2 {
		t.Fatalf("ToolCalls = %d, want 2", len(resp.ToolCalls))
	}
	first := resp.ToolCalls[0]
	if first.ID != "call_abc" || first.Function.Name != "read_file" {
		t.Errorf("first call = %+v", first)
	}
	if first.Function.Arguments != `{"path": "main.go"}` {
		t.Errorf("arguments = %q", first.Function.Arguments)
	}
	if resp.ToolCalls[1].Function.Name != "list_files" {
		t.Errorf("second call = %+v", resp.ToolCalls[1])
	}
}

func TestOpenAIStatusMapping(t *testing.T) {
	tests := []struct {
		status   int
		body     string
		wantErr  error
		wantText string
	}{
		{http.StatusUnauthorized, `{"error":{"message":"bad key"}}`, ErrUnauthorized, "bad key"},
		{http.StatusForbidden, `{"error":{"message":"forbidden"}}`, ErrUnauthorized, "forbidden"},
		{http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, ErrRateLimited, "slow down"},
		{http.StatusInternalServerError, "boom", ErrUnavailable, "boom"},
		{http.StatusServiceUnavailable, "", ErrUnavailable, ""},
		{http.StatusBadRequest, `{"error":{"message":"bad request"}}`, nil, "bad request"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			client := NewOpenAIClient("sk-test", "gpt-4o", server.URL, NopLogger())
			_, err := client.Chat(context.Background(), []ChatMessage{{Role: "user", Content: "x"}}, nil)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil {
				for _, sentinel := range []error{ErrUnauthorized, ErrRateLimited, ErrUnavailable} {
					if errors.Is(err, sentinel) {
						t.Errorf("error %v unexpectedly matches %v", err, sentinel)
					}
				}
			}
			if tt.wantText != "" && !strings.Contains(err.Error(), tt.wantText) {
				t.Errorf("error %q missing detail %q", err, tt.wantText)
			}
		})
	}
}

func TestOpenAIStreamChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Stream {
			t.Errorf("expected stream request, got %+v (err %v)", req, err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range []string{
			`{"choices":[{"delta":{"content":"Hel"}}]}`,
			`{"choices":[{"delta":{"content":"lo "}}]}`,
			`{"choices":[{"delta":{"content":"world"}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		} {
			fmt.Fprintf(w, "data: %s\n\n", chunk)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	var deltas []string
	client := NewOpenAIClient("sk-test", "gpt-4o", server.URL, NopLogger())
	resp, err := client.StreamChat(context.Background(), []ChatMessage{{Role: "user", Content: "x"}}, nil,
		func(delta string) { deltas = append(deltas, delta) })
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}
	if resp.Content != "Hello world" {
		t.Errorf("Content = %q", resp.Content)
	}
	if strings.Join(deltas, "|") != "Hel|lo |world" {
		t.Errorf("deltas = %v", deltas)
	}
}

func TestOpenAIStreamChatToolCallFragments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range []string{
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"write_file","arguments":""}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"path\":"}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"a.txt\",\"content\":\"hi\"}"}},{"index":1,"id":"call_2","type":"function","function":{"name":"list_files","arguments":"{}"}}]}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		} {
			fmt.Fprintf(w, "data: %s\n\n", chunk)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := NewOpenAIClient("sk-test", "gpt-4o", server.URL, NopLogger())
	resp, err := client.StreamChat(context.Background(), []ChatMessage{{Role: "user", Content: "x"}}, nil, nil)
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}
	if len(resp.ToolCalls) != 2 {
		t.Fatalf("ToolCalls = %d, want 2", len(resp.ToolCalls))
	}
	first := resp.ToolCalls[0]
	if first.ID != "call_1" || first.Function.Name != "write_file" {
		t.Errorf("first = %+v", first)
	}
	if first.Function.Arguments != `{"path":"a.txt","content":"hi"}` {
		t.Errorf("accumulated arguments = %q", first.Function.Arguments)
	}
	second := resp.ToolCalls[1]
	if second.ID != "call_2" || second.Function.Name != "list_files" || second.Function.Arguments != "{}" {
		t.Errorf("second = %+v", second)
	}
}

func TestOpenAIChatNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer server.Close()

	client := NewOpenAIClient("sk-test", "gpt-4o", server.URL, NopLogger())
	if _, err := client.Chat(context.Background(), []ChatMessage{{Role: "user", Content: "x"}}, nil); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

package app

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// GeminiClient speaks the Gemini generateContent wire format. The flat
// role-tagged history is translated per request; nothing Gemini-shaped is
// ever stored.
type GeminiClient struct {
	APIKey  string
	Model   string
	BaseURL string
	HTTP    *http.Client
	Logger  *slog.Logger
}

func NewGeminiClient(apiKey, model, baseURL string, logger *slog.Logger) *GeminiClient {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta/models"
	}
	if logger == nil {
		logger = NopLogger()
	}
	return &GeminiClient{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: baseURL,
		HTTP:    newHTTPClient(),
		Logger:  logger,
	}
}

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type geminiFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents       []geminiContent   `json:"contents"`
	SafetySettings []geminiSafety    `json:"safetySettings"`
	Tools          []geminiToolDecl  `json:"tools,omitempty"`
	ToolConfig     *geminiToolConfig `json:"tool_config,omitempty"`
}

type geminiSafety struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type geminiToolDecl struct {
	FunctionDeclarations []FunctionDef `json:"function_declarations"`
}

type geminiToolConfig struct {
	FunctionCallingConfig geminiCallingMode `json:"function_calling_config"`
}

type geminiCallingMode struct {
	Mode string `json:"mode"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// toGeminiContents translates the provider-neutral history into Gemini
// contents. The leading system message is folded into the first user turn,
// assistant tool batches become functionCall parts with their arguments
// re-parsed into objects, and consecutive tool results coalesce into a
// single function turn.
func toGeminiContents(messages []ChatMessage) []geminiContent {
	var transformed []geminiContent

	systemPrompt := ""
	if len(messages) > 0 && messages[0].Role == "system" {
		systemPrompt = messages[0].Content
	}

	for _, msg := range messages {
		switch msg.Role {
		case "system":
			continue

		case "assistant":
			if len(msg.ToolCalls) > 0 {
				parts := make([]geminiPart, 0, len(msg.ToolCalls))
				for _, tc := range msg.ToolCalls {
					args := json.RawMessage(tc.Function.Arguments)
					if !json.Valid(args) {
						args = json.RawMessage("{}")
					}
					parts = append(parts, geminiPart{
						FunctionCall: &geminiFunctionCall{Name: tc.Function.Name, Args: args},
					})
				}
				transformed = append(transformed, geminiContent{Role: "model", Parts: parts})
			} else {
				transformed = append(transformed, geminiContent{
					Role:  "model",
					Parts: []geminiPart{{Text: msg.Content}},
				})
			}

		case "tool":
			var contentObj any
			if err := json.Unmarshal([]byte(msg.Content), &contentObj); err != nil {
				contentObj = msg.Content
			}
			transformed = append(transformed, geminiContent{
				Role: "function",
				Parts: []geminiPart{{
					FunctionResponse: &geminiFunctionResponse{
						Name:     msg.Name,
						Response: map[string]any{"content": contentObj},
					},
				}},
			})

		case "user":
			content := msg.Content
			if systemPrompt != "" {
				content = systemPrompt + "\n\n--- USER'S TASK ---\n\n" + content
				systemPrompt = ""
			}
			transformed = append(transformed, geminiContent{
				Role:  "user",
				Parts: []geminiPart{{Text: content}},
			})
		}
	}

	var coalesced []geminiContent
	for i := 0; i < len(transformed); {
		if transformed[i].Role != "function" {
			coalesced = append(coalesced, transformed[i])
			i++
			continue
		}
		var parts []geminiPart
		for i < len(transformed) && transformed[i].Role == "function" {
			parts = append(parts, transformed[i].Parts...)
			i++
		}
		coalesced = append(coalesced, geminiContent{Role: "function", Parts: parts})
	}
	return coalesced
}

func (c *GeminiClient) Chat(ctx context.Context, messages []ChatMessage, tools []Tool) (*ChatResponse, error) {
	resp, err := c.post(ctx, messages, tools, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var response geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}
	if len(response.Candidates) == 0 {
		return nil, errors.New("provider returned no candidates")
	}

	parts := response.Candidates[0].Content.Parts
	result := &ChatResponse{}
	for _, part := range parts {
		if part.FunctionCall != nil {
			result.ToolCalls = append(result.ToolCalls, synthesizedCall(len(result.ToolCalls), part.FunctionCall))
		}
	}
	if len(result.ToolCalls) > 0 {
		return result, nil
	}
	if len(parts) == 0 {
		return nil, errors.New("provider returned neither text nor tool calls")
	}
	result.Content = parts[0].Text
	return result, nil
}

func (c *GeminiClient) StreamChat(ctx context.Context, messages []ChatMessage, tools []Tool, onDelta func(string)) (*ChatResponse, error) {
	resp, err := c.post(ctx, messages, tools, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var content strings.Builder
	var toolCalls []ToolCall

	scanner := bufio.NewScanner(resp.Body)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 2*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		var chunk geminiResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Candidates) == 0 {
			continue
		}
		for _, part := range chunk.Candidates[0].Content.Parts {
			if part.FunctionCall != nil {
				toolCalls = append(toolCalls, synthesizedCall(len(toolCalls), part.FunctionCall))
				continue
			}
			if part.Text != "" {
				content.WriteString(part.Text)
				if onDelta != nil {
					onDelta(part.Text)
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("stream interrupted: %w", err)
	}
	return &ChatResponse{Content: content.String(), ToolCalls: toolCalls}, nil
}

// synthesizedCall assigns the positional ids Gemini omits so the rest of the
// pipeline can treat both families identically. The ids are dropped again on
// the way back out.
func synthesizedCall(index int, call *geminiFunctionCall) ToolCall {
	arguments := string(call.Args)
	if arguments == "" {
		arguments = "{}"
	}
	return ToolCall{
		ID:   fmt.Sprintf("call_%d", index),
		Type: "function",
		Function: FunctionCall{
			Name:      call.Name,
			Arguments: arguments,
		},
	}
}

func (c *GeminiClient) post(ctx context.Context, messages []ChatMessage, tools []Tool, stream bool) (*http.Response, error) {
	request := geminiRequest{
		Contents: toGeminiContents(messages),
		SafetySettings: []geminiSafety{
			{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "BLOCK_NONE"},
			{Category: "HARM_CATEGORY_HATE_SPEECH", Threshold: "BLOCK_NONE"},
			{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Threshold: "BLOCK_NONE"},
			{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: "BLOCK_NONE"},
		},
	}
	if len(tools) > 0 {
		declarations := make([]FunctionDef, 0, len(tools))
		for _, tool := range tools {
			declarations = append(declarations, tool.Function)
		}
		request.Tools = []geminiToolDecl{{FunctionDeclarations: declarations}}
		request.ToolConfig = &geminiToolConfig{
			FunctionCallingConfig: geminiCallingMode{Mode: "AUTO"},
		}
	}
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(stream), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	c.Logger.Debug("chat request",
		"provider", "gemini",
		"model", c.Model,
		"messages", len(messages),
		"stream", stream)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return resp, nil
}

func (c *GeminiClient) endpoint(stream bool) string {
	base := strings.TrimSuffix(c.BaseURL, "/")
	if stream {
		return fmt.Sprintf("%s/%s:streamGenerateContent?key=%s&alt=sse", base, c.Model, url.QueryEscape(c.APIKey))
	}
	return fmt.Sprintf("%s/%s:generateContent?key=%s", base, c.Model, url.QueryEscape(c.APIKey))
}

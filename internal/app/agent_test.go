package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// scriptedClient replays canned responses in order and records how each
// model invocation was made.
type scriptedClient struct {
	script    []scriptStep
	calls     int
	streamed  []bool
	histories [][]ChatMessage
}

type scriptStep struct {
	resp *ChatResponse
	err  error
}

func textStep(content string) scriptStep {
	return scriptStep{resp: &ChatResponse{Content: content}}
}

func callStep(calls ...ToolCall) scriptStep {
	return scriptStep{resp: &ChatResponse{ToolCalls: calls}}
}

func (c *scriptedClient) next(messages []ChatMessage) (*ChatResponse, error) {
	if c.calls >= len(c.script) {
		return nil, fmt.Errorf("unexpected model call %d", c.calls+1)
	}
	snapshot := make([]ChatMessage, len(messages))
	copy(snapshot, messages)
	c.histories = append(c.histories, snapshot)

	step := c.script[c.calls]
	c.calls++
	return step.resp, step.err
}

func (c *scriptedClient) Chat(ctx context.Context, messages []ChatMessage, tools []Tool) (*ChatResponse, error) {
	c.streamed = append(c.streamed, false)
	return c.next(messages)
}

func (c *scriptedClient) StreamChat(ctx context.Context, messages []ChatMessage, tools []Tool, onDelta func(string)) (*ChatResponse, error) {
	c.streamed = append(c.streamed, true)
	resp, err := c.next(messages)
	if err == nil && onDelta != nil && resp.Content != "" {
		onDelta(resp.Content)
	}
	return resp, err
}

func newTestAgent(t *testing.T, client Client) *Agent {
	t.Helper()
	ws := newTestWorkspace(t)
	dispatcher := NewDispatcher(ws, nil, NopLogger())
	session := NewSession("You are a coding agent.")
	return NewAgent(client, dispatcher, session, NopLogger())
}

func roles(messages []ChatMessage) []string {
	out := make([]string, len(messages))
	for i, msg := range messages {
		out[i] = msg.Role
	}
	return out
}

func TestRunTurnToolCallsThenText(t *testing.T) {
	client := &scriptedClient{script: []scriptStep{
		callStep(
			callTool("write_file", `{"path":"hello.txt","content":"hi\n"}`),
		),
		textStep("Wrote the file. TASK_FINISHED"),
	}}
	agent := newTestAgent(t, client)

	var events []AgentEvent
	agent.OnEvent = func(ev AgentEvent) { events = append(events, ev) }

	result, err := agent.RunTurn(context.Background(), "create hello.txt")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	if result.Steps != 2 {
		t.Errorf("Steps = %d, want 2", result.Steps)
	}
	if result.ToolCalls != 1 {
		t.Errorf("ToolCalls = %d, want 1", result.ToolCalls)
	}
	if !result.TaskFinished {
		t.Error("TaskFinished = false, want true")
	}
	if result.StepLimitHit {
		t.Error("StepLimitHit = true, want false")
	}

	want := []string{"system", "user", "assistant", "tool", "assistant"}
	got := roles(agent.Session.Messages())
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("history roles = %v, want %v", got, want)
	}

	messages := agent.Session.Messages()
	toolMsg := messages[3]
	if toolMsg.Name != "write_file" || toolMsg.ToolCallID != "call_0" {
		t.Errorf("tool message pairing = (%q, %q), want (write_file, call_0)", toolMsg.Name, toolMsg.ToolCallID)
	}
	if !strings.Contains(toolMsg.Content, `"success":true`) {
		t.Errorf("tool message content = %q, want success envelope", toolMsg.Content)
	}

	if content, err := agent.Dispatcher.ws.ReadFile("hello.txt"); err != nil || content != "hi\n" {
		t.Errorf("workspace file = %q, %v; want %q", content, err, "hi\n")
	}

	var sawFinalText bool
	for _, ev := range events {
		if ev.Kind == EventText && ev.Content == "Wrote the file. TASK_FINISHED" {
			sawFinalText = true
		}
	}
	if !sawFinalText {
		t.Error("no EventText with the final reply was emitted")
	}
}

func TestRunTurnBatchExecutesInOrder(t *testing.T) {
	calls := []ToolCall{
		{ID: "call_0", Type: "function", Function: FunctionCall{Name: "write_file", Arguments: `{"path":"a.txt","content":"first"}`}},
		{ID: "call_1", Type: "function", Function: FunctionCall{Name: "read_file", Arguments: `{"path":"a.txt"}`}},
		{ID: "call_2", Type: "function", Function: FunctionCall{Name: "delete_file", Arguments: `{"path":"a.txt"}`}},
	}
	client := &scriptedClient{script: []scriptStep{
		callStep(calls...),
		textStep("done"),
	}}
	agent := newTestAgent(t, client)

	var order []string
	agent.OnEvent = func(ev AgentEvent) {
		if ev.Kind == EventToolResult {
			order = append(order, ev.Result.Name)
		}
	}

	result, err := agent.RunTurn(context.Background(), "shuffle a.txt around")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if result.ToolCalls != 3 {
		t.Fatalf("ToolCalls = %d, want 3", result.ToolCalls)
	}

	wantOrder := []string{"write_file", "read_file", "delete_file"}
	if strings.Join(order, ",") != strings.Join(wantOrder, ",") {
		t.Fatalf("execution order = %v, want %v", order, wantOrder)
	}

	// The read in the middle must observe the write before it.
	messages := agent.Session.Messages()
	readMsg := messages[4]
	if readMsg.ToolCallID != "call_1" {
		t.Fatalf("message 4 pairs with %q, want call_1", readMsg.ToolCallID)
	}
	if !strings.Contains(readMsg.Content, "first") {
		t.Errorf("read saw %q, want the freshly written content", readMsg.Content)
	}
}

func TestRunTurnStepLimit(t *testing.T) {
	var script []scriptStep
	for i := 0; i < DefaultMaxSteps+5; i++ {
		script = append(script, callStep(callTool("list_files", `{}`)))
	}
	client := &scriptedClient{script: script}
	agent := newTestAgent(t, client)
	agent.MaxSteps = 3

	result, err := agent.RunTurn(context.Background(), "loop forever")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	if client.calls != 3 {
		t.Errorf("model calls = %d, want exactly 3", client.calls)
	}
	if !result.StepLimitHit {
		t.Error("StepLimitHit = false, want true")
	}
	if result.FinalText != "" {
		t.Errorf("FinalText = %q, want empty", result.FinalText)
	}

	// Every issued call is answered: the history ends on a tool result and
	// the conversation can be resumed with a fresh prompt.
	messages := agent.Session.Messages()
	if last := messages[len(messages)-1]; last.Role != "tool" {
		t.Errorf("last message role = %q, want tool", last.Role)
	}
	for i, msg := range messages {
		if msg.Role == "assistant" && len(msg.ToolCalls) > 0 {
			if i+1 >= len(messages) || messages[i+1].Role != "tool" {
				t.Errorf("tool call batch at %d has no answer", i)
			}
		}
	}
}

func TestRunTurnStreamsAfterToolResults(t *testing.T) {
	client := &scriptedClient{script: []scriptStep{
		callStep(callTool("list_files", `{}`)),
		textStep("Nothing else to do."),
	}}
	agent := newTestAgent(t, client)

	var deltas []string
	agent.OnEvent = func(ev AgentEvent) {
		if ev.Kind == EventDelta {
			deltas = append(deltas, ev.Content)
		}
	}

	if _, err := agent.RunTurn(context.Background(), "peek"); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	wantStreamed := []bool{false, true}
	if len(client.streamed) != len(wantStreamed) {
		t.Fatalf("streamed = %v, want %v", client.streamed, wantStreamed)
	}
	for i := range wantStreamed {
		if client.streamed[i] != wantStreamed[i] {
			t.Errorf("call %d streamed = %v, want %v", i+1, client.streamed[i], wantStreamed[i])
		}
	}
	if len(deltas) == 0 || strings.Join(deltas, "") != "Nothing else to do." {
		t.Errorf("deltas = %v, want the streamed reply", deltas)
	}
}

func TestRunTurnPlainTextTerminates(t *testing.T) {
	client := &scriptedClient{script: []scriptStep{
		textStep("Which file should I edit?"),
	}}
	agent := newTestAgent(t, client)

	result, err := agent.RunTurn(context.Background(), "edit something")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if client.calls != 1 {
		t.Errorf("model calls = %d, want 1", client.calls)
	}
	if result.TaskFinished {
		t.Error("TaskFinished = true for a reply without the marker")
	}
	if result.FinalText != "Which file should I edit?" {
		t.Errorf("FinalText = %q", result.FinalText)
	}
}

func TestRunTurnTransportError(t *testing.T) {
	client := &scriptedClient{script: []scriptStep{
		callStep(callTool("list_files", `{}`)),
		{err: ErrRateLimited},
	}}
	agent := newTestAgent(t, client)

	result, err := agent.RunTurn(context.Background(), "do work")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if result == nil || result.Steps != 2 {
		t.Fatalf("result = %+v, want 2 steps recorded", result)
	}

	// The failure appends nothing: the history still ends on the answered
	// tool call from the first step.
	want := []string{"system", "user", "assistant", "tool"}
	got := roles(agent.Session.Messages())
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("history roles = %v, want %v", got, want)
	}
}

func TestRunTurnInjectsLoadedContextOnce(t *testing.T) {
	client := &scriptedClient{script: []scriptStep{
		textStep("ok"),
		textStep("ok again"),
	}}
	agent := newTestAgent(t, client)
	agent.Session.SetLoadedContext("--- CONTEXT ---\nfile contents")

	if _, err := agent.RunTurn(context.Background(), "first prompt"); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	first := client.histories[0]
	userMsg := first[1]
	want := "--- CONTEXT ---\nfile contents\n--- User's Prompt ---\nfirst prompt"
	if userMsg.Content != want {
		t.Errorf("injected user message = %q, want %q", userMsg.Content, want)
	}

	if _, err := agent.RunTurn(context.Background(), "second prompt"); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	second := client.histories[1]
	if got := second[len(second)-1].Content; got != "second prompt" {
		t.Errorf("second turn user message = %q, want it uninjected", got)
	}
}

func TestRunTurnWithoutWorkspace(t *testing.T) {
	client := &scriptedClient{script: []scriptStep{textStep("ok")}}
	session := NewSession("system")
	agent := NewAgent(client, nil, session, NopLogger())

	if _, err := agent.RunTurn(context.Background(), "hi"); !errors.Is(err, ErrNoWorkspace) {
		t.Fatalf("err = %v, want ErrNoWorkspace", err)
	}
	if client.calls != 0 {
		t.Errorf("model calls = %d, want none", client.calls)
	}
	// The unprocessable user message is rolled back.
	if got := roles(session.Messages()); len(got) != 1 || got[0] != "system" {
		t.Errorf("history roles = %v, want [system]", got)
	}
}

func TestRunTurnContextCancelled(t *testing.T) {
	client := &scriptedClient{script: []scriptStep{textStep("never reached")}}
	agent := newTestAgent(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := agent.RunTurn(ctx, "hi"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if client.calls != 0 {
		t.Errorf("model calls = %d, want none after cancellation", client.calls)
	}
}

func TestMockClientDrivesFullTurn(t *testing.T) {
	agent := newTestAgent(t, NewMockClient())

	result, err := agent.RunTurn(context.Background(), "create greeting.txt")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if !result.TaskFinished {
		t.Errorf("TaskFinished = false, result %+v", result)
	}
	if result.ToolCalls == 0 {
		t.Error("mock turn executed no tools")
	}
	if _, err := agent.Dispatcher.ws.ReadFile("greeting.txt"); err != nil {
		t.Errorf("mock write_file did not create greeting.txt: %v", err)
	}
}

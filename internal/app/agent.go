package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// DefaultMaxSteps bounds how many times the model is invoked for a single
// user turn before the loop pauses and waits for new input.
const DefaultMaxSteps = 15

// TaskFinishedMarker is the phrase the system prompt asks the model to emit
// when it considers the task complete. It is informational for the frontend;
// the loop terminates on any plain-text reply regardless.
const TaskFinishedMarker = "TASK_FINISHED"

// EventKind tags AgentEvent values.
type EventKind int

const (
	// EventStatus is a short progress line, e.g. "Agent is thinking (Step 3)...".
	EventStatus EventKind = iota
	// EventDelta is a streamed fragment of assistant text.
	EventDelta
	// EventText carries the complete assistant text for one step. When the
	// reply was streamed it follows the deltas with the assembled text.
	EventText
	// EventToolCall announces a tool about to run.
	EventToolCall
	// EventToolResult reports a finished tool execution.
	EventToolResult
)

// AgentEvent is one observable moment of a running turn. Events are emitted
// in order from the loop's single goroutine.
type AgentEvent struct {
	Kind    EventKind
	Step    int
	Content string
	Call    *ToolCall
	Result  *ToolResult
}

// TurnResult summarizes a finished turn for the frontend.
type TurnResult struct {
	Steps        int
	ToolCalls    int
	FinalText    string
	TaskFinished bool
	StepLimitHit bool
}

// Agent drives the autonomous tool-call loop for one session: invoke the
// model, execute any requested tools, feed the results back, repeat until
// the model answers in plain text or the step bound is reached. It is
// single-flow synchronous: one model call at a time, tools dispatched
// sequentially in batch order, one writer of session history.
type Agent struct {
	Client     Client
	Dispatcher *Dispatcher
	Session    *Session
	Tools      []Tool
	MaxSteps   int
	OnEvent    func(AgentEvent)
	Logger     *slog.Logger
}

func NewAgent(client Client, dispatcher *Dispatcher, session *Session, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = NopLogger()
	}
	return &Agent{
		Client:     client,
		Dispatcher: dispatcher,
		Session:    session,
		Tools:      DefaultTools(),
		MaxSteps:   DefaultMaxSteps,
		Logger:     logger,
	}
}

func (a *Agent) emit(ev AgentEvent) {
	if a.OnEvent != nil {
		a.OnEvent(ev)
	}
}

// RunTurn appends the user input to the session and drives the loop to
// completion. Loaded context staged on the session is folded into this
// turn's user message exactly once. A transport failure ends the turn with
// an error and without appending an assistant message; everything
// accumulated before the failure stays in history, so every tool call the
// model has issued so far remains answered and the conversation can resume.
func (a *Agent) RunTurn(ctx context.Context, input string) (*TurnResult, error) {
	a.Session.AddMessage(ChatMessage{Role: "user", Content: input})

	if a.Dispatcher == nil {
		a.Session.PopLastIfUser()
		return nil, ErrNoWorkspace
	}

	if a.Session.InjectLoadedContext() {
		a.emit(AgentEvent{Kind: EventStatus, Content: "Injecting loaded context into this turn..."})
	}

	maxSteps := a.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}

	result := &TurnResult{}
	for result.Steps < maxSteps {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Steps++
		step := result.Steps
		a.emit(AgentEvent{Kind: EventStatus, Step: step, Content: fmt.Sprintf("Agent is thinking (Step %d)...", step)})

		messages := a.Session.MessagesForAPI()
		// A history ending in a tool result usually precedes the model's
		// closing summary, so that call is worth streaming. The first call
		// of a turn ends in the user message and stays non-streaming.
		streaming := len(messages) > 1 && messages[len(messages)-1].Role == "tool"

		var (
			resp *ChatResponse
			err  error
		)
		if streaming {
			resp, err = a.Client.StreamChat(ctx, messages, a.Tools, func(delta string) {
				a.emit(AgentEvent{Kind: EventDelta, Step: step, Content: delta})
			})
		} else {
			resp, err = a.Client.Chat(ctx, messages, a.Tools)
		}
		if err != nil {
			a.Logger.Error("model call failed", "step", step, "error", err)
			return result, fmt.Errorf("model call: %w", err)
		}

		if len(resp.ToolCalls) > 0 {
			a.Session.AddMessage(ChatMessage{Role: "assistant", ToolCalls: resp.ToolCalls})
			a.emit(AgentEvent{Kind: EventStatus, Step: step, Content: fmt.Sprintf("Agent wants to execute %d tool(s)...", len(resp.ToolCalls))})

			for i := range resp.ToolCalls {
				call := resp.ToolCalls[i]
				a.emit(AgentEvent{Kind: EventToolCall, Step: step, Call: &call})

				toolResult := a.Dispatcher.Dispatch(call)
				result.ToolCalls++
				a.emit(AgentEvent{Kind: EventToolResult, Step: step, Result: &toolResult})

				a.Session.AddMessage(ChatMessage{
					Role:       "tool",
					Name:       toolResult.Name,
					Content:    toolResult.Output,
					ToolCallID: toolResult.ToolCallID,
				})
			}
			continue
		}

		a.Session.AddMessage(ChatMessage{Role: "assistant", Content: resp.Content})
		result.FinalText = resp.Content
		result.TaskFinished = strings.Contains(resp.Content, TaskFinishedMarker)
		a.emit(AgentEvent{Kind: EventText, Step: step, Content: resp.Content})

		a.Logger.Info("turn finished",
			"session", a.Session.ID,
			"steps", result.Steps,
			"tool_calls", result.ToolCalls,
			"task_finished", result.TaskFinished)
		return result, nil
	}

	result.StepLimitHit = true
	a.Logger.Warn("step limit reached, pausing turn",
		"session", a.Session.ID,
		"max_steps", maxSteps,
		"tool_calls", result.ToolCalls)
	return result, nil
}

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"forge-agent/internal/app"

	"github.com/charmbracelet/lipgloss"
)

const (
	replColorPrimary = "#3B82F6" // Blue 500
	replColorMuted   = "#94A3B8" // Slate 400
	replColorAccent  = "#06B6D4" // Cyan 500
	replColorSuccess = "#10B981" // Emerald 500
	replColorWarning = "#F59E0B" // Amber 500
	replColorError   = "#EF4444" // Red 500
)

var (
	replPromptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(replColorPrimary)).Bold(true)
	replAgentStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color(replColorSuccess)).Bold(true)
	replStatusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(replColorMuted))
	replToolStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color(replColorAccent))
	replWarnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color(replColorWarning))
	replErrorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color(replColorError))
	replOkStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color(replColorSuccess))
)

// runREPL is the --no-tui front-end: a plain line loop sharing the command
// registry and agent with the TUI.
func runREPL(ctx context.Context, a *app.App) error {
	reader := bufio.NewReader(os.Stdin)

	a.SetConfirm(func(req app.ConfirmRequest) bool {
		fmt.Println(replWarnStyle.Render(fmt.Sprintf("The agent wants to run %s on %s:", req.Tool, req.Path)))
		if req.Diff != "" {
			fmt.Println(req.Diff)
		}
		return promptYesNo(reader, "Apply this change?")
	})
	a.ConfirmLoad = func(files, totalBytes int) bool {
		return promptYesNo(reader, fmt.Sprintf("Load %d files (%d bytes) into context?", files, totalBytes))
	}

	printBanner(a)

	for {
		if ctx.Err() != nil {
			fmt.Println()
			return nil
		}

		fmt.Print(replPromptStyle.Render("You: "))
		line, err := reader.ReadString('\n')
		if err != nil {
			fmt.Println()
			return nil
		}
		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		a.Session.History.Add(input)

		if app.IsCommand(input) {
			res, err := a.RunCommand(ctx, input)
			if err != nil {
				fmt.Println(replErrorStyle.Render("Error: " + err.Error()))
				continue
			}
			if res.Message != "" {
				fmt.Println(res.Message)
			}
			if res.Quit {
				return nil
			}
			continue
		}

		runReplTurn(ctx, a, input)
	}
}

func runReplTurn(ctx context.Context, a *app.App, input string) {
	streamed := false
	a.Agent.OnEvent = func(ev app.AgentEvent) {
		switch ev.Kind {
		case app.EventStatus:
			fmt.Println(replStatusStyle.Render("• " + ev.Content))
		case app.EventDelta:
			if !streamed {
				fmt.Print(replAgentStyle.Render("Agent: "))
				streamed = true
			}
			fmt.Print(ev.Content)
		case app.EventText:
			if streamed {
				fmt.Println()
			} else {
				fmt.Println(replAgentStyle.Render("Agent: ") + ev.Content)
			}
			streamed = false
		case app.EventToolCall:
			fmt.Println(replToolStyle.Render(fmt.Sprintf("  ›› %s %s",
				ev.Call.Function.Name, oneLine(ev.Call.Function.Arguments, 100))))
		case app.EventToolResult:
			if ev.Result.Success {
				fmt.Println(replOkStyle.Render(fmt.Sprintf("  ✔ %s (%dms)", ev.Result.Name, ev.Result.DurationMs)))
			} else {
				fmt.Println(replErrorStyle.Render(fmt.Sprintf("  ✖ %s: %s", ev.Result.Name, ev.Result.Error)))
			}
		}
	}
	defer func() { a.Agent.OnEvent = nil }()

	result, err := a.Agent.RunTurn(ctx, input)
	if err != nil {
		if errors.Is(err, app.ErrNoWorkspace) {
			fmt.Println(replErrorStyle.Render("No workspace set. Use /workspace <path> first."))
			return
		}
		fmt.Println(replErrorStyle.Render("Error: " + err.Error()))
		return
	}

	if result.TaskFinished {
		fmt.Println(replOkStyle.Render("✅ Task Completed."))
	}
	if result.StepLimitHit {
		fmt.Println(replWarnStyle.Render(fmt.Sprintf("⚠️ Safety Limit Reached (%d turns). Pausing execution.", a.Agent.MaxSteps)))
		fmt.Println("Type 'continue' to resume or enter a new prompt.")
	}
}

func printBanner(a *app.App) {
	rule := strings.Repeat("=", 46)
	fmt.Println(replToolStyle.Render(rule))
	fmt.Println(replToolStyle.Render("  Autonomous AI Agent (Tool-Calling Mode)"))
	fmt.Println(replToolStyle.Render(rule))
	model := a.Config.Provider().Model
	if a.MockMode {
		model += " (mock)"
	}
	fmt.Printf("Provider: %s | Model: %s\n", a.Config.ActiveProvider, model)
	if a.Workspace != nil {
		fmt.Println("Workspace: " + a.Workspace.Root())
	} else {
		fmt.Println(replWarnStyle.Render("No workspace set. Use /workspace <path> to choose one."))
	}
	fmt.Println("Type /help for commands.")
	fmt.Println()
}

func promptYesNo(reader *bufio.Reader, question string) bool {
	fmt.Print(replWarnStyle.Render(question + " [y/N]: "))
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

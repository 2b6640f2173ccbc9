package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownCommand marks inputs that start with "/" but match no handler.
var ErrUnknownCommand = errors.New("unknown command")

// loadWarnBytes is the staged-context size past which /load asks before
// proceeding. Loading a large workspace into the prompt is mostly an API
// cost problem, not a local one.
const loadWarnBytes = 150_000

// CommandResult is the structured outcome of one slash command, rendered by
// whichever frontend invoked it.
type CommandResult struct {
	Message string
	// Quit asks the frontend to exit.
	Quit bool
	// NewChat reports that the conversation restarted, so transcripts and
	// status lines should reset.
	NewChat bool
}

type commandHandler func(ctx context.Context, a *App, args []string) (CommandResult, error)

var commandTable = map[string]commandHandler{
	"/help":      cmdHelp,
	"/new":       cmdNew,
	"/exit":      cmdExit,
	"/status":    cmdStatus,
	"/load":      cmdLoad,
	"/clear":     cmdClear,
	"/context":   cmdContext,
	"/workspace": cmdWorkspace,
	"/debug":     cmdDebug,
	"/providers": cmdProviders,
	"/provider":  cmdProvider,
	"/model":     cmdModel,
	"/api":       cmdAPI,
	"/verify":    cmdVerify,
}

// IsCommand reports whether the input line is addressed to the command layer
// rather than the model.
func IsCommand(input string) bool {
	return strings.HasPrefix(strings.TrimSpace(input), "/")
}

// CommandInfo describes one slash command for completion UIs.
type CommandInfo struct {
	Name        string
	Description string
}

var commandCatalog = []CommandInfo{
	{"/help", "Show the command reference"},
	{"/new", "Start a new conversation"},
	{"/exit", "Exit the application"},
	{"/status", "Show configuration status"},
	{"/workspace", "Set or show the workspace directory"},
	{"/load", "Load all workspace text files into context"},
	{"/clear", "Clear loaded file context"},
	{"/context", "Manage files pinned into every request"},
	{"/providers", "List the configured providers"},
	{"/provider", "Switch the active provider"},
	{"/model", "Set the model for the active provider"},
	{"/api", "Set the API key for the active provider"},
	{"/verify", "Test the connection to the provider"},
	{"/debug", "Toggle debug logging"},
}

// Commands returns the slash commands in display order.
func Commands() []CommandInfo {
	out := make([]CommandInfo, len(commandCatalog))
	copy(out, commandCatalog)
	return out
}

// RunCommand parses and executes one slash command. Unknown names return an
// error wrapping ErrUnknownCommand.
func (a *App) RunCommand(ctx context.Context, input string) (CommandResult, error) {
	parts := strings.Fields(strings.TrimSpace(input))
	if len(parts) == 0 {
		return CommandResult{}, nil
	}
	name := strings.ToLower(parts[0])
	handler, ok := commandTable[name]
	if !ok {
		return CommandResult{}, fmt.Errorf("%w %q (type /help for the list)", ErrUnknownCommand, name)
	}
	return handler(ctx, a, parts[1:])
}

const helpText = `--- Help & Commands ---
/help              : Show this help message.
/new               : Start a new conversation.
/exit              : Exit the application.
/status            : Show current configuration status.
/workspace <path>  : Set or show the workspace directory.
/load              : Load all text files from workspace into context for the next turn.
/clear             : Clear loaded file context.
/context <add|list|clear> [path] : Manage files pinned into every request.
/providers         : List the configured API providers.
/provider <name>   : Switch the active API provider (e.g. /provider groq).
/model <name>      : Set the model for the active provider.
/api <key>         : Set the API key for the active provider.
/verify            : Test the connection to the current provider.
/debug             : Toggle debug mode (logs API payloads).`

func cmdHelp(ctx context.Context, a *App, args []string) (CommandResult, error) {
	return CommandResult{Message: helpText}, nil
}

func cmdNew(ctx context.Context, a *App, args []string) (CommandResult, error) {
	a.NewChat()
	return CommandResult{Message: "New chat session started.", NewChat: true}, nil
}

func cmdExit(ctx context.Context, a *App, args []string) (CommandResult, error) {
	return CommandResult{Message: "Exiting. Goodbye!", Quit: true}, nil
}

func cmdStatus(ctx context.Context, a *App, args []string) (CommandResult, error) {
	workspace := "Not Set"
	if a.Workspace != nil {
		workspace = a.Workspace.Root()
	}

	autoApprove := "ON"
	if a.Config.ConfirmActions {
		autoApprove = "OFF"
	}

	loaded := "None"
	if size := a.Session.LoadedContextSize(); size > 0 {
		loaded = fmt.Sprintf("%d chars", size)
	}

	msg := fmt.Sprintf(`--- Current Status ---
Workspace:       %s
Provider:        %s
Model:           %s
API Key:         %s
Auto-Approve:    %s
Loaded Context:  %s`,
		workspace,
		a.Config.ActiveProvider,
		a.Config.Provider().Model,
		maskKey(a.Config.Provider().APIKey),
		autoApprove,
		loaded)
	return CommandResult{Message: msg}, nil
}

func cmdLoad(ctx context.Context, a *App, args []string) (CommandResult, error) {
	if a.Workspace == nil {
		return CommandResult{}, ErrNoWorkspace
	}

	scan, err := a.Workspace.Scan()
	if err != nil {
		return CommandResult{}, err
	}
	if len(scan.TextFiles) == 0 {
		return CommandResult{Message: "No text files found in workspace."}, nil
	}

	var b strings.Builder
	b.WriteString("The user has loaded the entire workspace. Here are the file contents:\n\n")
	total := 0
	loaded := 0
	for _, path := range scan.TextFiles {
		content, err := a.Workspace.ReadFile(path)
		if err != nil {
			a.Logger.Warn("skipping unreadable file during load", "path", path, "error", err)
			continue
		}
		b.WriteString(fmt.Sprintf("--- START OF FILE: %s ---\n%s\n--- END OF FILE: %s ---\n\n", path, content, path))
		total += len(content)
		loaded++
	}

	if total > loadWarnBytes && a.ConfirmLoad != nil && !a.ConfirmLoad(loaded, total) {
		return CommandResult{}, errors.New("load operation cancelled")
	}

	a.Session.SetLoadedContext(b.String())
	return CommandResult{
		Message: fmt.Sprintf("Loaded %d text files (%d bytes). %d binary files were skipped.",
			loaded, total, len(scan.SkippedBinaries)),
	}, nil
}

func cmdClear(ctx context.Context, a *App, args []string) (CommandResult, error) {
	a.Session.ClearLoadedContext()
	return CommandResult{Message: "File context cleared."}, nil
}

func cmdContext(ctx context.Context, a *App, args []string) (CommandResult, error) {
	if len(args) == 0 {
		return CommandResult{}, errors.New("usage: /context <add|list|clear> [path]")
	}
	switch strings.ToLower(args[0]) {
	case "add":
		if len(args) < 2 {
			return CommandResult{}, errors.New("usage: /context add <path>")
		}
		return contextAdd(a, strings.Join(args[1:], " "))
	case "list":
		files := a.Session.ContextFiles()
		if len(files) == 0 {
			return CommandResult{Message: "Context is empty."}, nil
		}
		return CommandResult{Message: "Files in context:\n- " + strings.Join(files, "\n- ")}, nil
	case "clear":
		a.Session.ClearContextFiles()
		return CommandResult{Message: "Context cleared."}, nil
	default:
		return CommandResult{}, fmt.Errorf("unknown subcommand %q (use add, list, or clear)", args[0])
	}
}

// contextAdd pins a file, or every text file under a directory, into the
// managed context.
func contextAdd(a *App, path string) (CommandResult, error) {
	if a.Workspace == nil {
		return CommandResult{}, ErrNoWorkspace
	}

	if content, err := a.Workspace.ReadFile(path); err == nil {
		a.Session.AddContextFile(path, content)
		return CommandResult{Message: "Added 1 file(s) to the context."}, nil
	}

	scan, err := a.Workspace.Scan()
	if err != nil {
		return CommandResult{}, err
	}
	prefix := strings.TrimSuffix(path, "/") + "/"
	added := 0
	for _, candidate := range scan.TextFiles {
		if candidate != path && !strings.HasPrefix(candidate, prefix) {
			continue
		}
		content, err := a.Workspace.ReadFile(candidate)
		if err != nil {
			continue
		}
		a.Session.AddContextFile(candidate, content)
		added++
	}
	if added == 0 {
		return CommandResult{}, fmt.Errorf("no text files found at %q", path)
	}
	return CommandResult{Message: fmt.Sprintf("Added %d file(s) to the context.", added)}, nil
}

func cmdWorkspace(ctx context.Context, a *App, args []string) (CommandResult, error) {
	if len(args) == 0 {
		current := "Not set"
		if a.Workspace != nil {
			current = a.Workspace.Root()
		}
		return CommandResult{Message: "Current workspace: " + current}, nil
	}

	path := strings.Join(args, " ")
	if err := a.SetWorkspace(path); err != nil {
		return CommandResult{}, err
	}
	return CommandResult{
		Message: "Workspace set to: " + a.Workspace.Root(),
		NewChat: true,
	}, nil
}

func cmdDebug(ctx context.Context, a *App, args []string) (CommandResult, error) {
	if a.ToggleDebug() {
		return CommandResult{Message: "Debug mode is now ON"}, nil
	}
	return CommandResult{Message: "Debug mode is now OFF"}, nil
}

func cmdProviders(ctx context.Context, a *App, args []string) (CommandResult, error) {
	var b strings.Builder
	b.WriteString("Available Providers:")
	for _, name := range a.Config.ProviderNames() {
		if name == a.Config.ActiveProvider {
			b.WriteString("\n  - " + name + " (active)")
		} else {
			b.WriteString("\n  - " + name)
		}
	}
	return CommandResult{Message: b.String()}, nil
}

func cmdProvider(ctx context.Context, a *App, args []string) (CommandResult, error) {
	if len(args) == 0 {
		return CommandResult{}, errors.New("usage: /provider <name>")
	}
	name := strings.ToLower(args[0])
	if _, ok := a.Config.Providers[name]; !ok {
		return CommandResult{}, fmt.Errorf("provider %q not found", name)
	}
	a.Config.SetActiveProvider(name)
	a.saveConfig()
	a.NewChat()
	return CommandResult{
		Message: fmt.Sprintf("Active provider set to: %s (Model: %s)", name, a.Config.Provider().Model),
		NewChat: true,
	}, nil
}

func cmdModel(ctx context.Context, a *App, args []string) (CommandResult, error) {
	if len(args) == 0 {
		return CommandResult{}, errors.New("usage: /model <model_name>")
	}
	model := strings.Join(args, " ")
	a.Config.SetProviderSetting("model", model)
	a.saveConfig()
	a.rebuild()
	return CommandResult{
		Message: fmt.Sprintf("Model for '%s' set to: %s", a.Config.ActiveProvider, model),
	}, nil
}

func cmdAPI(ctx context.Context, a *App, args []string) (CommandResult, error) {
	if len(args) == 0 {
		return CommandResult{}, errors.New("usage: /api <your_api_key>")
	}
	a.Config.SetProviderSetting("api_key", args[0])
	a.saveConfig()
	a.rebuild()
	return CommandResult{
		Message: fmt.Sprintf("API key for '%s' updated.", a.Config.ActiveProvider),
	}, nil
}

func cmdVerify(ctx context.Context, a *App, args []string) (CommandResult, error) {
	probe := []ChatMessage{
		{Role: "system", Content: "You are a helpful assistant. Please respond with only the word 'Success'."},
		{Role: "user", Content: "This is a connection test."},
	}
	resp, err := a.Agent.Client.Chat(ctx, probe, nil)
	if err != nil {
		return CommandResult{}, fmt.Errorf("verification failed: %w", err)
	}
	if len(resp.ToolCalls) > 0 || strings.TrimSpace(resp.Content) == "" {
		return CommandResult{}, errors.New("verification failed: provider returned no text")
	}
	return CommandResult{
		Message: fmt.Sprintf("Verification successful!\nModel responded: %q", strings.TrimSpace(resp.Content)),
	}, nil
}

// maskKey renders an API key for display: enough to recognize, not enough
// to leak.
func maskKey(key string) string {
	if !(ProviderConfig{APIKey: key}).KeyConfigured() {
		return "Not Set"
	}
	if len(key) <= 9 {
		return key[:1] + "..."
	}
	return key[:5] + "..." + key[len(key)-4:]
}

package app

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// App owns the long-lived pieces of one run: configuration, workspace,
// provider client, session, and the agent loop built from them. The TUI,
// the plain REPL, and the one-shot agent command all drive the same App.
type App struct {
	Config     Config
	ConfigPath string
	Workspace  *Workspace
	Session    *Session
	Agent      *Agent
	Logger     *slog.Logger
	MockMode   bool

	// Confirm gates mutating tool calls when confirm_actions is enabled.
	// Frontends install their own prompt; nil approves everything.
	Confirm ConfirmFunc
	// ConfirmLoad gates /load once the staged context grows past the warning
	// threshold. Nil proceeds without asking.
	ConfirmLoad func(files int, totalBytes int) bool

	logCloser io.Closer
}

// NewApp loads configuration and assembles the application. A missing or
// stale workspace path is tolerated: the agent refuses turns until
// /workspace points somewhere real, but commands still work.
func NewApp(configPath string, mockMode bool) (*App, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if key := os.Getenv("FORGE_API_KEY"); key != "" && !cfg.Provider().KeyConfigured() {
		cfg.SetProviderSetting("api_key", key)
	}

	a := &App{
		Config:     cfg,
		ConfigPath: configPath,
		MockMode:   mockMode,
		Logger:     NopLogger(),
	}
	if logger, closer, err := NewLogger(DefaultLogPath(), cfg.DebugMode); err == nil {
		a.Logger = logger
		a.logCloser = closer
	}

	a.Session = NewSession(SystemPrompt())

	if cfg.WorkspacePath != "" {
		ws, err := NewWorkspace(cfg.WorkspacePath)
		if err != nil {
			a.Logger.Warn("stored workspace unavailable", "path", cfg.WorkspacePath, "error", err)
		} else {
			a.Workspace = ws
		}
	}

	a.rebuild()
	return a, nil
}

// Close releases the log file.
func (a *App) Close() error {
	if a.logCloser == nil {
		return nil
	}
	return a.logCloser.Close()
}

// rebuild re-derives the client, dispatcher, and agent from the current
// config and workspace. Called after provider, model, key, workspace, or
// debug changes.
func (a *App) rebuild() {
	var dispatcher *Dispatcher
	if a.Workspace != nil {
		confirm := a.Confirm
		if !a.Config.ConfirmActions {
			confirm = nil
		}
		dispatcher = NewDispatcher(a.Workspace, confirm, a.Logger)
	}

	agent := NewAgent(a.buildClient(), dispatcher, a.Session, a.Logger)
	if a.Config.MaxSteps > 0 {
		agent.MaxSteps = a.Config.MaxSteps
	}
	if a.Agent != nil {
		agent.OnEvent = a.Agent.OnEvent
	}
	a.Agent = agent
}

// buildClient picks the wire family for the active provider: google speaks
// the nested-contents protocol, everything else is OpenAI-compatible. Mock
// mode and the literal key "mock" select the offline client.
func (a *App) buildClient() Client {
	p := a.Config.Provider()
	if a.MockMode || p.APIKey == "mock" {
		return NewMockClient()
	}
	if a.Config.ActiveProvider == "google" {
		return NewGeminiClient(p.APIKey, p.Model, p.APIURL, a.Logger)
	}
	return NewOpenAIClient(p.APIKey, p.Model, p.APIURL, a.Logger)
}

// SetConfirm installs the interactive confirmation gate and rebuilds the
// dispatcher so it takes effect.
func (a *App) SetConfirm(confirm ConfirmFunc) {
	a.Confirm = confirm
	a.rebuild()
}

// SetWorkspace validates and switches the workspace, persists it, and starts
// a new conversation rooted there.
func (a *App) SetWorkspace(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	ws, err := NewWorkspace(abs)
	if err != nil {
		return err
	}
	a.Workspace = ws
	a.Config.WorkspacePath = ws.Root()
	a.saveConfig()
	a.NewChat()
	return nil
}

// NewChat resets the conversation and re-wires the agent around the fresh
// session state.
func (a *App) NewChat() {
	a.Session.Reset()
	a.rebuild()
}

// ToggleDebug flips debug mode, persists it, and reopens the logger so the
// console mirror follows the new setting.
func (a *App) ToggleDebug() bool {
	a.Config.DebugMode = !a.Config.DebugMode
	a.saveConfig()

	if logger, closer, err := NewLogger(DefaultLogPath(), a.Config.DebugMode); err == nil {
		if a.logCloser != nil {
			_ = a.logCloser.Close()
		}
		a.Logger = logger
		a.logCloser = closer
	}
	a.rebuild()
	return a.Config.DebugMode
}

func (a *App) saveConfig() {
	if a.ConfigPath == "" {
		return
	}
	if err := SaveConfig(a.Config, a.ConfigPath); err != nil {
		a.Logger.Warn("could not persist config", "path", a.ConfigPath, "error", err)
	}
}

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"forge-agent/internal/app"
	"forge-agent/internal/tui"

	"github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

const version = "1.0.0"

func getBinaryPath() string {
	exe, _ := os.Executable()
	return exe
}

func main() {
	root := &cobra.Command{
		Use:   "forge",
		Short: "Forge - an autonomous coding agent for your terminal",
		Long: "Forge drives an LLM through a tool-calling loop against a sandboxed workspace.\n\n" +
			"Run without arguments for the interactive TUI, with --no-tui for a plain REPL,\n" +
			"or with the 'agent' subcommand for one-shot task execution.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if v, _ := cmd.Flags().GetBool("version"); v {
				fmt.Printf("Forge v%s\n", version)
				fmt.Printf("Installed at: %s\n", getBinaryPath())
				return nil
			}

			application, err := app.NewApp(app.DefaultConfigPath(), rootMock)
			if err != nil {
				return err
			}
			defer application.Close()

			if rootWorkspace != "" {
				if err := application.SetWorkspace(rootWorkspace); err != nil {
					return err
				}
			}

			if noTUI {
				ctx, cancel := context.WithCancel(context.Background())
				defer cancel()

				sigChan := make(chan os.Signal, 1)
				signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
				go func() {
					<-sigChan
					cancel()
				}()

				return runREPL(ctx, application)
			}

			p := tea.NewProgram(tui.New(application), tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	}

	root.Flags().BoolVarP(&noTUI, "no-tui", "n", false, "Use a plain REPL instead of the TUI")
	root.Flags().BoolVar(&rootMock, "mock", false, "Use the offline mock model")
	root.Flags().StringVarP(&rootWorkspace, "workspace", "w", "", "Workspace directory for this run")
	root.Flags().BoolP("version", "v", false, "Print version information")

	agentCmd := &cobra.Command{
		Use:   "agent [task]",
		Short: "Run one task headless and print a summary",
		Long: "Run the agent against the configured workspace without the interactive UI.\n\n" +
			"Examples:\n" +
			"  - forge agent \"List the Go files\"\n" +
			"  - forge agent --max-steps 20 --task \"Add a README\"\n" +
			"  - forge agent --mock --workspace /tmp/scratch \"Create hello.txt\"",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigChan
				cancel()
			}()

			application, err := app.NewApp(app.DefaultConfigPath(), agentMock)
			if err != nil {
				return err
			}
			defer application.Close()

			if agentWorkspace != "" {
				if err := application.SetWorkspace(agentWorkspace); err != nil {
					return err
				}
			}
			if application.Workspace == nil {
				return fmt.Errorf("no workspace configured: pass --workspace or set one with /workspace first")
			}
			if !agentMock && app.RequiresAPIKey(application.Config.ActiveProvider) &&
				!application.Config.Provider().KeyConfigured() {
				return fmt.Errorf("no API key for provider %q: set FORGE_API_KEY, use /api, or pass --mock",
					application.Config.ActiveProvider)
			}

			task := agentTask
			if len(args) > 0 {
				task = args[0]
			}
			if task == "" {
				fmt.Println("Enter your task (Ctrl+D when done):")
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("read task: %w", err)
				}
				task = strings.TrimSpace(string(data))
			}
			if task == "" {
				return fmt.Errorf("no task provided")
			}

			if agentMaxSteps > 0 {
				application.Agent.MaxSteps = agentMaxSteps
			}

			var results []app.ToolResult
			application.Agent.OnEvent = func(ev app.AgentEvent) {
				switch ev.Kind {
				case app.EventStatus:
					fmt.Println(ev.Content)
				case app.EventToolCall:
					fmt.Printf("  -> %s %s\n", ev.Call.Function.Name, oneLine(ev.Call.Function.Arguments, 120))
				case app.EventToolResult:
					results = append(results, *ev.Result)
				}
			}

			start := time.Now()
			result, err := application.Agent.RunTurn(ctx, task)
			duration := time.Since(start)
			if err != nil {
				return err
			}

			fmt.Printf("\nAgent Run Complete\n")
			fmt.Printf("Duration: %v\n", duration)
			fmt.Printf("Steps: %d\n", result.Steps)
			fmt.Printf("Tools executed: %d\n", result.ToolCalls)
			fmt.Printf("Task finished: %v\n", result.TaskFinished)
			if result.StepLimitHit {
				fmt.Printf("Stopped at the step limit; rerun with a higher --max-steps to continue.\n")
			}

			if result.FinalText != "" {
				fmt.Printf("\nFinal Output:\n%s\n", result.FinalText)
			}

			if len(results) > 0 {
				fmt.Printf("\nTool Results:\n")
				for i, r := range results {
					status := "SUCCESS"
					if !r.Success {
						status = "FAILURE"
					}
					fmt.Printf("%d. %s %s (%dms)\n", i+1, status, r.Name, r.DurationMs)
					if r.Error != "" {
						fmt.Printf("   Error: %s\n", r.Error)
					}
				}
			}
			fmt.Printf("\n")

			return nil
		},
	}

	agentCmd.Flags().IntVarP(&agentMaxSteps, "max-steps", "s", 0, "Maximum model steps for this run (default from config)")
	agentCmd.Flags().StringVarP(&agentTask, "task", "t", "", "Task to execute (non-interactive)")
	agentCmd.Flags().BoolVarP(&agentMock, "mock", "m", false, "Use the offline mock model")
	agentCmd.Flags().StringVarP(&agentWorkspace, "workspace", "w", "", "Workspace directory for this run")

	root.AddCommand(agentCmd)

	completionCmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish]",
		Short: "Generate shell completion",
		Long: "Generate a shell completion script for forge.\n\n" +
			"Examples:\n" +
			"  - forge completion bash >> ~/.bashrc\n" +
			"  - forge completion zsh > ~/.zsh/completion/_forge\n" +
			"  - forge completion fish > ~/.config/fish/completions/forge.fish",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"bash", "zsh", "fish"},
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return root.GenBashCompletion(os.Stdout)
			case "zsh":
				return root.GenZshCompletion(os.Stdout)
			case "fish":
				return root.GenFishCompletion(os.Stdout, true)
			}
			return fmt.Errorf("unsupported shell: %s", args[0])
		},
	}
	root.AddCommand(completionCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// oneLine flattens and truncates tool arguments for trace output.
func oneLine(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if runes := []rune(s); len(runes) > limit {
		return string(runes[:limit]) + "..."
	}
	return s
}

var (
	noTUI         bool
	rootMock      bool
	rootWorkspace string

	agentMaxSteps  int
	agentTask      string
	agentMock      bool
	agentWorkspace string
)

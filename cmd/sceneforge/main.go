// Command sceneforge turns natural-language requests into approved,
// step-by-step edits of a scene.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/rahul/sceneforge/pkg/config"
	"github.com/spf13/cobra"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	chatID     string
	logLevel   string
}

func (g *globalFlags) load() (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	return cfg, nil
}

func rootCmd() *cobra.Command {
	g := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "sceneforge",
		Short: "Plan and apply scene edits with an LLM agent",
		Long: `sceneforge analyzes a request, asks clarifying questions when needed,
proposes a step plan for approval and executes it against the scene with
tool calls, retrieving project knowledge on the way.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "sceneforge.yaml", "Path to config file")
	cmd.PersistentFlags().StringVar(&g.chatID, "chat", "cli", "Conversation id for history and runs")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")

	cmd.AddCommand(
		runCmd(g),
		ingestCmd(g),
		searchCmd(g),
		historyCmd(g),
	)
	return cmd
}

// Command medibot is a terminal client for the medical analysis service:
// analyze patient data, chat about the result by text or voice, and
// generate an explainer video.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jwulff/medibot/internal/app"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

// flags shared by every command.
type globalFlags struct {
	settingsPath string
	debug        bool
}

func newRootCmd() *cobra.Command {
	var gf globalFlags
	root := &cobra.Command{
		Use:           "medibot",
		Short:         "Medical analysis assistant for the terminal",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd.Context(), gf)
		},
	}
	root.PersistentFlags().StringVar(&gf.settingsPath, "settings", "", "settings file (default $MEDIBOT_SETTINGS or the user config dir)")
	root.PersistentFlags().BoolVar(&gf.debug, "debug", false, "log at debug level")
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newSummarizeCmd(&gf),
		newChatCmd(&gf),
		newVideoCmd(&gf),
		newHistoryCmd(&gf),
		newSettingsCmd(&gf),
	)
	return root
}

func runTUI(ctx context.Context, gf globalFlags) error {
	// The TUI owns the terminal, so only the log file receives output.
	scope := setupDI(gf, nil)
	defer shutdownDI(scope)

	deps, err := shellDeps(scope)
	if err != nil {
		return err
	}
	logger := deps.Logger
	logger.Info("starting", zap.String("version", version), zap.String("api", deps.Settings.Integration.APIBaseURL))

	m := app.New(ctx, deps)
	final, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	// A signal ends the program without the quit key's teardown.
	if fm, ok := final.(app.Model); ok {
		m = fm
	}
	if cerr := m.Close(); cerr != nil {
		logger.Warn("shutdown", zap.Error(cerr))
	}
	if err != nil {
		return fmt.Errorf("run ui: %w", err)
	}
	return nil
}

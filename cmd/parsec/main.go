package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codefionn/parsec/internal/config"
	"github.com/codefionn/parsec/internal/logger"
)

var (
	configFile string
	providerID string
	modelID    string
	workingDir string
	executeArg string
	resumeID   string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "parsec",
	Short: "Plan and run terminal workflows with a language model, one approved command at a time",
	Long: `parsec reads terminal input and routes it. Shell commands run directly.
Natural-language requests become conversations: the model plans a list of
steps, proposes a command for each, and nothing runs without your approval.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if executeArg == "" && len(args) > 0 {
			executeArg = strings.Join(args, " ")
		}
		return runInteractive(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Configuration file (JSON or YAML, default "+config.GetConfigPath()+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error, none)")
	rootCmd.Flags().StringVar(&providerID, "provider", "", "Model provider (overrides "+config.EnvProvider+" and the config file)")
	rootCmd.Flags().StringVar(&modelID, "model", "", "Model ID for the selected provider")
	rootCmd.Flags().StringVarP(&workingDir, "working-dir", "C", "", "Working directory for a new session")
	rootCmd.Flags().StringVarP(&executeArg, "execute", "e", "", "Handle one input and exit")
	rootCmd.Flags().StringVar(&resumeID, "resume", "", "Resume the session with this ID")

	rootCmd.AddCommand(sessionsCmd, pruneCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if closeErr := logger.Global().Close(); closeErr != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close logger: %v\n", closeErr)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, applies PARSEC_* variables and the
// log level flag, and initialises the logger.
func loadConfig() (*config.Config, error) {
	path := configFile
	if path == "" {
		path = config.GetConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, fmt.Errorf("apply environment: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	if err := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Debug("configuration loaded from %s: log_level=%s storage=%s(%s)", path, cfg.LogLevel, cfg.Storage.Backend, cfg.Storage.Path)
	return cfg, nil
}

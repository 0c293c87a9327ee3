package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Michdriod/RCA-AI/internal/config"
	"github.com/Michdriod/RCA-AI/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	offline  bool
	store    string
	logLevel string
}

var rootCmd = &cobra.Command{
	Use:   "fivewhys",
	Short: "5 Whys root cause analysis from the terminal",
	Long: "fivewhys runs guided 5 Whys sessions: it asks up to five why-questions,\n" +
		"classifies each answer and synthesizes a root cause.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		_ = godotenv.Load()
		logging.Init(logging.ParseLevel(rootFlags.logLevel), "text", os.Stderr)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVar(&rootFlags.offline, "offline", false, "use the built-in scripted model instead of a provider")
	pf.StringVar(&rootFlags.store, "store", "", "session store backend: redis, sql or memory (default from STORE_BACKEND)")
	pf.StringVar(&rootFlags.logLevel, "log-level", "warn", "log level: debug, info, warn, error")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(sidecarCmd)
	rootCmd.Version = version
}

// loadConfig reads the environment and applies the persistent flags.
// Commands that never generate pass needsModel=false and get the scripted model.
func loadConfig(needsModel bool) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if rootFlags.store != "" {
		cfg.Store.Backend = rootFlags.store
	}
	if rootFlags.offline || !needsModel {
		cfg.AI.Backend = config.ModelOffline
	}
	if cfg.AI.Backend == config.ModelOpenAI && !cfg.HasAPIKey() {
		return nil, fmt.Errorf("GROQ_API_KEY is not set; export it or pass --offline")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	slog.Debug("Configuration loaded", "store", cfg.Store.Backend, "model_backend", cfg.AI.Backend)
	return cfg, nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"slack2chat/internal/app"
	"slack2chat/internal/config"
	"slack2chat/internal/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configFile string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "slack2chat",
	Short: "Migrate a Slack workspace export into chat spaces",
	Long:  `A concurrent, resumable migration tool that replays an exported Slack workspace into import-mode chat spaces, with checkpointing, identity mapping, and membership reconstruction.`,
	RunE:  runMigration,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is ./config.yaml)")

	// Source flags
	rootCmd.Flags().String("export-root", "", "Path to the unpacked workspace export (required)")

	// Destination flags
	rootCmd.Flags().String("chat-endpoint", "", "Chat API base URL")
	rootCmd.Flags().String("chat-token", "", "Chat API admin token")
	rootCmd.Flags().String("admin-email", "", "Workspace administrator email (required)")
	rootCmd.Flags().String("domain", "", "Destination workspace domain (required)")

	// Migration flags
	rootCmd.Flags().Int("concurrency", 4, "Number of concurrent channel workers")
	rootCmd.Flags().Bool("dry-run", false, "Simulate sends without calling the API")
	rootCmd.Flags().Bool("resume", false, "Resume from checkpoint and existing spaces")
	rootCmd.Flags().Bool("validate", false, "Count what would migrate, no network calls")
	rootCmd.Flags().Bool("ignore-bots", true, "Skip bot messages and reactions")
	rootCmd.Flags().String("space-prefix", "Slack #", "Display name prefix for created spaces")
	rootCmd.Flags().Int("send-throttle-ms", 50, "Pause between message sends in milliseconds")
	rootCmd.Flags().Int("membership-delay-ms", 100, "Pause between membership calls in milliseconds")
	rootCmd.Flags().Float64("max-failure-percent", 10, "Abort a channel above this failure rate (0 disables)")
	rootCmd.Flags().Bool("delete-spaces-on-errors", false, "Delete freshly created spaces whose channel had failures")
	rootCmd.Flags().String("checkpoint", "./checkpoint.db", "Checkpoint database file")
	rootCmd.Flags().String("log-level", "info", "Log level (debug/info/warn/error)")
	rootCmd.Flags().Bool("show-progress", true, "Show progress display (auto-disabled for validate)")
	rootCmd.Flags().String("metrics-addr", "", "Prometheus metrics listen address (empty disables)")
}

func runMigration(cmd *cobra.Command, args []string) error {
	// Load configuration
	var err error
	cfg, err = config.Load(configFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	// Create application
	migrator, err := app.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("Received shutdown signal, gracefully stopping...")
		cancel()
	}()

	// Run migration
	err = migrator.Run(ctx)

	// Close migrator resources after migration completes or is cancelled
	if closeErr := migrator.Close(); closeErr != nil {
		log.Error("Error closing migrator", zap.Error(closeErr))
	}

	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	serverrun "github.com/TangoRomeo80/chatty/internal/cmd/server"
	cfgpkg "github.com/TangoRomeo80/chatty/internal/config"
	logpkg "github.com/TangoRomeo80/chatty/pkg/log"
)

func main() {
	// Best-effort .env load so local runs pick up CHATTY_* keys without
	// exporting them. Absence of the file is not an error.
	_ = godotenv.Load()

	// initialize logger for CLI output
	level := os.Getenv("CHATTY_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)
	logpkg.RedirectStdLog(logger)

	rootCmd := &cobra.Command{
		Use:   "chatty",
		Short: "Chatty backend CLI",
		Long:  "Chatty is a social network backend. This CLI manages the server process.",
	}

	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the chatty server (API, workers and event gateway)",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := cfgpkg.Default()
			cfgpkg.FromEnv(&cfg)

			if v, _ := cmd.Flags().GetString("http"); v != "" {
				cfg.HTTPAddr = v
			}
			if v, _ := cmd.Flags().GetString("redis"); v != "" {
				cfg.RedisAddr = v
			}
			if v, _ := cmd.Flags().GetString("surreal"); v != "" {
				cfg.SurrealURL = v
			}
			if v, _ := cmd.Flags().GetString("instance-id"); v != "" {
				cfg.InstanceID = v
			}
			if v, _ := cmd.Flags().GetInt("workers"); v > 0 {
				cfg.WorkerConcurrency = v
			}
			if v, _ := cmd.Flags().GetString("log-level"); v != "" {
				cfg.LogLevel = v
			}
			if v, _ := cmd.Flags().GetString("log-format"); v != "" {
				cfg.LogFormat = v
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := serverrun.Run(ctx, serverrun.Options{Config: cfg}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			// brief delay to allow logs flush
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	}
	serverStartCmd.Flags().String("http", "", "HTTP listen address (default :5000)")
	serverStartCmd.Flags().String("redis", "", "Redis address (default 127.0.0.1:6379)")
	serverStartCmd.Flags().String("surreal", "", "SurrealDB RPC URL (default ws://127.0.0.1:8000/rpc)")
	serverStartCmd.Flags().String("instance-id", "", "Instance id on the event backplane (default random)")
	serverStartCmd.Flags().Int("workers", 0, "Worker concurrency per queue (default 5)")
	serverStartCmd.Flags().String("log-level", os.Getenv("CHATTY_LOG_LEVEL"), "Log level: debug|info|warn|error")
	serverStartCmd.Flags().String("log-format", os.Getenv("CHATTY_LOG_FORMAT"), "Log format: text|json (default text)")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

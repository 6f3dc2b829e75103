package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/acpconductor/conductor/internal/config"
	"github.com/acpconductor/conductor/internal/domain/mcpbridge"
	"github.com/acpconductor/conductor/internal/service"
)

var devMode bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the conductor over stdio",
	Long: `Run starts the conductor: it reads the pipeline's proxy and agent
commands from configuration, spawns them, and relays the client<->agent
conversation over the conductor's own stdin/stdout.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (verbose logging)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(service.ExitCode(service.ErrConfig))
	}
	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config validation failed: %v\n", err)
		os.Exit(service.ExitCode(service.ErrConfig))
	}

	// stdout is reserved for the ACP stream; every log line goes to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	// A second interrupt forces an immediate exit; the first requests a
	// graceful shutdown by cancelling ctx and letting the router close
	// every component cleanly.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		stop()
	}()

	registry := mcpbridge.NewRegistry()
	svc := service.NewConductorService(cfg, registry, logger)

	runErr := svc.Run(ctx, os.Stdin, os.Stdout)
	code := service.ExitCode(runErr)
	if runErr != nil {
		logger.Error("conductor exited with an error", "error", runErr, "exit_code", code)
	} else {
		logger.Info("conductor shut down cleanly")
	}
	if code != 0 {
		os.Exit(code)
	}
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

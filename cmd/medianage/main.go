package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/medianage/internal/agent"
	"github.com/ethpandaops/medianage/internal/version"
)

func main() {
	// SIGINT/SIGTERM cancel the command context: serve shuts down, migrate
	// stops after the current migration.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := rootCmd().ExecuteContext(ctx)

	cancel()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var cfgFile, logLevel string

	cmd := &cobra.Command{
		Use:   "medianage",
		Short: "Birthday histogram with median age queries",
		Long: `medianage records birth dates in a year/month/day counter
histogram and answers median birth date and median age queries over
arbitrary date ranges. The histogram is periodically persisted to disk.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), cfgFile, logLevel)
		},
	}

	cmd.Flags().StringVarP(&cfgFile, "config", "c", "", "path to config file (required)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	_ = cmd.MarkFlagRequired("config")

	cmd.AddCommand(versionCmd(), inspectCmd(), migrateCmd())

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.FullWithPlatform())
		},
	}
}

// newLogger returns a text logger at level; "" keeps logrus' default.
func newLogger(level string) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if level == "" {
		return log, nil
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", level, err)
	}

	log.SetLevel(lvl)

	return log, nil
}

func serve(ctx context.Context, cfgFile, logLevel string) error {
	cfg, err := agent.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	// Requests are logged through logrus.
	gin.SetMode(gin.ReleaseMode)

	a, err := agent.New(log, cfg)
	if err != nil {
		return fmt.Errorf("creating agent: %w", err)
	}

	log.WithFields(logrus.Fields{
		"version": version.Short(),
		"config":  cfgFile,
	}).Info("Starting medianage")

	if err := a.Start(ctx); err != nil {
		// Release whatever did start, including the file lock.
		_ = a.Stop()

		return fmt.Errorf("starting agent: %w", err)
	}

	<-ctx.Done()

	log.Info("Shutting down medianage")

	if err := a.Stop(); err != nil {
		return fmt.Errorf("stopping agent: %w", err)
	}

	log.Info("Shutdown complete")

	return nil
}

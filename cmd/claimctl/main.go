// Package main provides claimctl, the operator CLI for the token claim service.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pegged-token/claimer/internal/app"
	"github.com/pegged-token/claimer/internal/config"
	"github.com/pegged-token/claimer/internal/logging"
	"github.com/spf13/cobra"
)

const programName = "claimctl"

var globalFlags = struct {
	debug   bool
	timeout time.Duration
}{}

// runWithApp builds the claim service from the environment and runs fn with it
func runWithApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) (interface{}, error)) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.FormatText)
	logger := logging.GetGlobalLogger()
	logger.SetOutput(os.Stderr)
	if globalFlags.debug {
		logger.SetLevel(logging.LevelDebug)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), globalFlags.timeout)
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := fn(ctx, a)
	if err != nil {
		return err
	}
	return printJSON(out)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Operate the token claim service for one account",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")
	rootCmd.PersistentFlags().DurationVar(&globalFlags.timeout, "timeout", 3*time.Minute, "overall command timeout")

	rootCmd.AddCommand(
		statsCommand(),
		claimCommand(),
		linkCommand(),
		syncCommand(),
		accrueCommand(),
		initCommand(),
		receiptsCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", programName, err)
		os.Exit(1)
	}
}

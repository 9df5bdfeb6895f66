package main

import (
	"context"
	"fmt"

	"github.com/pegged-token/claimer/internal/app"
	"github.com/pegged-token/claimer/internal/types"
	"github.com/spf13/cobra"
)

func statsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show available tokens, on-chain balance and claim history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, func(ctx context.Context, a *app.App) (interface{}, error) {
				return a.Service.GetStats(ctx)
			})
		},
	}
}

func claimCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "claim",
		Short: "Transfer all available tokens to the linked wallet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, func(ctx context.Context, a *app.App) (interface{}, error) {
				return a.Service.ClaimTokens(ctx)
			})
		},
	}
}

func linkCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "link <wallet-address>",
		Short: "Link a wallet and claim available tokens to it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, func(ctx context.Context, a *app.App) (interface{}, error) {
				result, err := a.Service.LinkWallet(ctx, args[0])
				if err != nil {
					return nil, err
				}
				if result.ClaimError != nil {
					cmd.PrintErrf("wallet linked, but the claim failed: %v\n", result.ClaimError)
				}
				return result, nil
			})
		},
	}
}

func syncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one reconciliation pass",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, func(ctx context.Context, a *app.App) (interface{}, error) {
				return a.Service.SyncTokens(ctx)
			})
		},
	}
}

func accrueCommand() *cobra.Command {
	var amount int64
	cmd := &cobra.Command{
		Use:   "accrue",
		Short: "Add available tokens to the latest record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, func(ctx context.Context, a *app.App) (interface{}, error) {
				return a.Service.AccrueTokens(ctx, amount)
			})
		},
	}
	cmd.Flags().Int64VarP(&amount, "amount", "n", 1, "tokens to add")
	return cmd
}

func initCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create an empty record for the account if none exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, func(ctx context.Context, a *app.App) (interface{}, error) {
				record, created, err := a.Service.InitAccount(ctx)
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{"created": created, "record": record}, nil
			})
		},
	}
}

func receiptsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receipts",
		Short: "Inspect claim receipts (requires Postgres)",
	}

	var (
		status string
		limit  int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List receipts by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, func(ctx context.Context, a *app.App) (interface{}, error) {
				if a.Audit == nil {
					return nil, fmt.Errorf("claim receipts require POSTGRES_ENABLED=true")
				}
				return a.Audit.ListByStatus(ctx, types.ClaimStatus(status), limit)
			})
		},
	}
	list.Flags().StringVar(&status, "status", string(types.ClaimInconsistent), "succeeded, inconsistent or unconfirmed")
	list.Flags().IntVar(&limit, "limit", 50, "maximum receipts to list")

	resolve := &cobra.Command{
		Use:   "resolve <receipt-id>",
		Short: "Mark a receipt as reconciled by hand",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, func(ctx context.Context, a *app.App) (interface{}, error) {
				if a.Audit == nil {
					return nil, fmt.Errorf("claim receipts require POSTGRES_ENABLED=true")
				}
				if err := a.Audit.Resolve(ctx, args[0]); err != nil {
					return nil, err
				}
				return map[string]string{"resolved": args[0]}, nil
			})
		},
	}

	cmd.AddCommand(list, resolve)
	return cmd
}

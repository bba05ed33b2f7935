package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ManuelReschke/StudioDesk/internal/pkg/bootstrap"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/database"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/env"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/middleware"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/paymentplan"
)

// exitItemsFailed lets cron wrappers alert on item errors.
const exitItemsFailed = 2

var Version = "dev"

type itemsFailedError struct{ count int }

func (e itemsFailedError) Error() string { return fmt.Sprintf("%d items failed", e.count) }

func main() {
	env.SetupEnvFile()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var failed itemsFailedError
		if errors.As(err, &failed) {
			os.Exit(exitItemsFailed)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "payments",
		Short:         "Run payment plan batches and inspect plans",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(tickCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(hashPasswordCmd())
	return rootCmd
}

func tickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run invoice, reminder and overdue batches once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report := services().Plans.RunScheduledTick(cmd.Context())
			return printReport(cmd, report)
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run the overdue batch once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report := services().Plans.RunOverdueSweep(cmd.Context())
			return printReport(cmd, report)
		},
	}
}

func planCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan [sessionId]",
		Short: "Print a payment plan with its installments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := services().Plans.GetPaymentPlan(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("load payment plan %s: %w", args[0], err)
			}
			return printJSON(cmd, plan)
		},
	}
}

func hashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for ADMIN_PASSWORD",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := middleware.HashAdminPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func services() *bootstrap.Services {
	database.SetupDatabase()
	return bootstrap.NewServices(database.GetDB())
}

func printReport(cmd *cobra.Command, report paymentplan.TickReport) error {
	if err := printJSON(cmd, report); err != nil {
		return err
	}
	if report.Failed() {
		return itemsFailedError{count: len(report.Errors)}
	}
	return nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

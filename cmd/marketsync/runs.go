package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/marketsync/internal/config"
	"github.com/jonathan/marketsync/internal/db"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs [workflow-id]",
	Short: "List recent workflow executions, or the stage runs of one execution",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRuns,
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum number of executions to list")
	rootCmd.AddCommand(runsCmd)
}

func runRuns(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}

	ctx := context.Background()
	warehouse, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("warehouse: %w", err)
	}
	defer warehouse.Close()

	if len(args) == 1 {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid workflow id %q: %w", args[0], err)
		}
		return printStageRuns(ctx, warehouse, id)
	}
	return printWorkflows(ctx, warehouse, runsLimit)
}

func printWorkflows(ctx context.Context, warehouse *db.DB, limit int) error {
	rows, err := warehouse.ListWorkflows(ctx, limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tSTARTED\tDURATION")
	for _, row := range rows {
		duration := "-"
		if row.FinishedAt != nil {
			duration = row.FinishedAt.Sub(row.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			row.ID, row.Status, row.StartedAt.Format(time.RFC3339), duration)
	}
	return w.Flush()
}

func printStageRuns(ctx context.Context, warehouse *db.DB, id uuid.UUID) error {
	runs, err := warehouse.ListStageRuns(ctx, id)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STAGE\tSTATUS\tEXTRACTED\tTRANSFORMED\tLOADED\tREJECTED\tERROR")
	for _, run := range runs {
		errText := run.ErrorText
		if errText == "" {
			errText = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			run.Stage, run.Status, run.Extracted, run.Transformed, run.Loaded, run.Rejected, errText)
	}
	return w.Flush()
}

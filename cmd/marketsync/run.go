package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonathan/marketsync/internal/config"
	"github.com/jonathan/marketsync/internal/db"
	"github.com/jonathan/marketsync/internal/etl"
	"github.com/jonathan/marketsync/internal/gate"
	"github.com/jonathan/marketsync/internal/load"
	"github.com/jonathan/marketsync/internal/lockfile"
	"github.com/jonathan/marketsync/internal/oblog"
	"github.com/jonathan/marketsync/internal/seller"
	"github.com/jonathan/marketsync/internal/types"
	"github.com/jonathan/marketsync/internal/workflow"
)

// workflowLockJob names the lock that serializes sync invocations.
const workflowLockJob = "marketsync"

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full sync workflow (catalog, inventory, sales)",
	Long:  "Runs every enabled stage in dependency order under the workflow lock. Exit codes: 0 success, 1 failure, 2 lock held by another invocation, 3 data quality floor breached.",
	RunE:  runSync,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runSync(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}

	log := oblog.Default()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	warehouse, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("warehouse: %w", err)
	}
	defer warehouse.Close()

	orch, err := buildWorkflow(cfg, warehouse, log)
	if err != nil {
		return err
	}

	exec, err := orch.Execute(ctx)
	if err != nil {
		var held *lockfile.HeldError
		if errors.As(err, &held) {
			return &exitError{code: exitLockHeld, err: held}
		}
		return err
	}

	for _, stage := range exec.Stages {
		rec := stage.Record
		if rec == nil {
			log.Warn("stage skipped", "stage", stage.Name, "status", stage.Status)
			continue
		}
		log.Info("stage summary",
			"stage", stage.Name, "status", stage.Status, "attempts", stage.Attempts,
			"extracted", rec.Extracted, "transformed", rec.Transformed,
			"loaded", rec.Loaded, "rejected", rec.Rejected)
	}

	if exec.Failed() {
		if floorBreached(exec) {
			return &exitError{code: exitLowQuality, err: fmt.Errorf("workflow %s failed: data quality below floor", exec.ID)}
		}
		return &exitError{code: exitFailure, err: fmt.Errorf("workflow %s failed", exec.ID)}
	}
	return nil
}

// buildWorkflow assembles the enabled stages in dependency order. Inventory
// and sales depend on catalog so stock and sale rows never reference offers
// the warehouse has not seen.
func buildWorkflow(cfg config.Config, warehouse *db.DB, log *oblog.Logger) (*workflow.Orchestrator, error) {
	lock, err := lockfile.NewManager(cfg.LockDir)
	if err != nil {
		return nil, fmt.Errorf("lock manager: %w", err)
	}

	client, err := seller.NewHTTPClient(cfg.APIBaseURL, cfg.APIClientID, cfg.APIKey)
	if err != nil {
		return nil, fmt.Errorf("seller client: %w", err)
	}
	poller, err := seller.NewPoller(client, cfg.PollInterval(), cfg.MaxWait(), log)
	if err != nil {
		return nil, fmt.Errorf("report poller: %w", err)
	}
	loader, err := load.NewLoader(warehouse, cfg.BatchSize, log)
	if err != nil {
		return nil, fmt.Errorf("batch loader: %w", err)
	}

	var stages []workflow.Spec
	catalogEnabled := false

	if !cfg.DisableCatalog {
		job, err := etl.NewCatalogJob(poller, loader, cfg, log)
		if err != nil {
			return nil, err
		}
		stages = append(stages, workflow.Spec{Runner: etl.NewStage[types.Product](job, log)})
		catalogEnabled = true
	}
	if !cfg.DisableInventory {
		job, err := etl.NewInventoryJob(poller, loader, cfg, log)
		if err != nil {
			return nil, err
		}
		stages = append(stages, workflow.Spec{Runner: etl.NewStage[types.Stock](job, log), DependsOn: dependsOnCatalog(catalogEnabled)})
	}
	if !cfg.DisableSales {
		job, err := etl.NewSalesJob(client, loader, cfg, log)
		if err != nil {
			return nil, err
		}
		stages = append(stages, workflow.Spec{Runner: etl.NewStage[types.Sale](job, log), DependsOn: dependsOnCatalog(catalogEnabled)})
	}
	if len(stages) == 0 {
		return nil, fmt.Errorf("all stages are disabled; nothing to run")
	}

	return workflow.New(lock, workflowLockJob, stages, cfg.MaxRetries, cfg.RetryDelay(), warehouse, log)
}

func dependsOnCatalog(enabled bool) []string {
	if !enabled {
		return nil
	}
	return []string{etl.StageCatalog}
}

// floorBreached reports whether any failed stage's terminal error was the
// validation gate's quality floor.
func floorBreached(exec *workflow.Execution) bool {
	for _, stage := range exec.Stages {
		if stage.Record == nil || stage.Record.Err == nil {
			continue
		}
		var floor *gate.FloorError
		if errors.As(stage.Record.Err, &floor) {
			return true
		}
	}
	return false
}

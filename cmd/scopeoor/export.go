package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/scopeoor/pkg/export"
	"github.com/ethpandaops/scopeoor/pkg/report"
)

var exportLatest int

var exportCmd = &cobra.Command{
	Use:   "export [run-id...]",
	Short: "Export run reports to the configured backend",
	Long: `Build the reports of the given runs and write them to the enabled export
backend (local directory or S3-compatible storage). Without run ids, the
latest --latest runs are exported, or every run when --latest is 0.`,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().IntVar(&exportLatest, "latest", 0,
		"export only the N most recent runs when no run ids are given (0 exports all)")
}

func runExport(cmd *cobra.Command, args []string) error {
	runIDs := make([]int, 0, len(args))

	for _, arg := range args {
		id, err := strconv.Atoi(arg)
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid run id %q", arg)
		}

		runIDs = append(runIDs, id)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	exp, err := export.New(log, &cfg.Export)
	if err != nil {
		return fmt.Errorf("creating exporter: %w", err)
	}

	ctx := cmd.Context()

	if err := exp.Preflight(ctx); err != nil {
		return fmt.Errorf("export preflight: %w", err)
	}

	engine, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer disconnect(engine)

	if len(runIDs) == 0 {
		runs, err := report.ListRuns(ctx, engine, exportLatest)
		if err != nil {
			return err
		}

		for _, run := range runs {
			runIDs = append(runIDs, run.RunID)
		}
	}

	if len(runIDs) == 0 {
		log.Info("No runs to export")

		return nil
	}

	log.WithField("runs", len(runIDs)).
		WithField("format", cfg.Export.Format).
		Info("Exporting runs")

	return export.ExportAll(ctx, log, engine, exp, runIDs, cfg.Export.Concurrency)
}

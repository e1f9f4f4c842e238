package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/scopeoor/pkg/export"
	"github.com/ethpandaops/scopeoor/pkg/report"
)

var showFormat string

var showCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print the full report of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().StringVar(&showFormat, "format", "json",
		"output format (json or yaml)")
}

func runShow(cmd *cobra.Command, args []string) error {
	runID, err := strconv.Atoi(args[0])
	if err != nil || runID <= 0 {
		return fmt.Errorf("invalid run id %q", args[0])
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	engine, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer disconnect(engine)

	rep, err := report.Build(ctx, engine, runID)
	if err != nil {
		return err
	}

	data, err := export.Encode(rep, showFormat)
	if err != nil {
		return err
	}

	_, err = os.Stdout.Write(data)

	return err
}

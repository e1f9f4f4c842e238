package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/scopeoor/pkg/report"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List stored runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runListRuns,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20,
		"maximum number of runs to list (0 lists all)")
}

func runListRuns(cmd *cobra.Command, args []string) error {
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

	runs, err := report.ListRuns(ctx, engine, runsLimit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RUN\tNAME\tSTATUS\tSTARTED\tELAPSED")

	for _, run := range runs {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			run.RunID,
			run.Name,
			run.Status,
			run.StartTime.Format(time.RFC3339),
			time.Duration(run.ElapsedTime*float64(time.Second)).Round(time.Millisecond),
		)
	}

	return w.Flush()
}

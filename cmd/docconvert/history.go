// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pdiddy/docconvert/internal/ledger"
	"github.com/pdiddy/docconvert/pkg/types"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent conversion jobs",
	Long: `History reads the job ledger (jobs.db in the archive directory) and lists
recent jobs with their last stage, batch id and outcome. With --events it
prints every recorded stage transition of one job.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().Int("limit", 20, "number of jobs to show")
	historyCmd.Flags().String("stage", "", "only jobs currently in this stage (e.g. failed, timed_out, archived)")
	historyCmd.Flags().Bool("yaml", false, "print records as YAML")
	historyCmd.Flags().String("events", "", "print the stage transitions of the job with this data id")

	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	stage, _ := cmd.Flags().GetString("stage")
	asYAML, _ := cmd.Flags().GetBool("yaml")

	l, err := ledger.Open(cfg.ArchiveDir)
	if err != nil {
		return err
	}
	defer l.Close()

	ctx := cmd.Context()
	if dataID, _ := cmd.Flags().GetString("events"); dataID != "" {
		events, err := l.Events(ctx, dataID)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return fmt.Errorf("no stage events recorded for %s", dataID)
		}
		return printEvents(os.Stdout, events)
	}

	var recs []types.JobRecord
	if stage != "" {
		recs, err = l.ByStage(ctx, types.JobStage(stage))
		if err == nil && limit > 0 && len(recs) > limit {
			recs = recs[:limit]
		}
	} else {
		recs, err = l.Recent(ctx, limit)
	}
	if err != nil {
		return err
	}

	if asYAML {
		return ledger.ExportYAML(os.Stdout, recs)
	}
	if len(recs) == 0 {
		fmt.Println("No jobs recorded.")
		return nil
	}
	return printHistory(os.Stdout, recs)
}

func printHistory(w io.Writer, recs []types.JobRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tSTAGE\tFILE\tBATCH\tPOLLS\tDETAIL")
	for _, r := range recs {
		detail := r.OutputPath
		if r.Error != "" {
			detail = r.ErrorKind + ": " + r.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			r.CreatedAt.Local().Format(time.DateTime),
			stageColor(r.Stage).Sprint(r.Stage),
			r.SourcePath, r.BatchID, r.Attempts, detail)
	}
	return tw.Flush()
}

func printEvents(w io.Writer, events []types.StageEvent) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "AT\tSTAGE")
	for _, e := range events {
		fmt.Fprintf(tw, "%s\t%s\n", e.At.Local().Format(time.DateTime), stageColor(e.Stage).Sprint(e.Stage))
	}
	return tw.Flush()
}

func stageColor(s types.JobStage) *color.Color {
	switch s {
	case types.StageArchived:
		return color.New(color.FgGreen)
	case types.StageFailed, types.StageTimedOut:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgYellow)
	}
}

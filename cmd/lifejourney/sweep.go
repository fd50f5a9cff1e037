package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"lifejourney/internal/app"
	"lifejourney/internal/recurrence"
)

var sweepDate string

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Advance every overdue item once, then exit",
	Long: `Runs the overdue sweep against the configured store. Items whose next
occurrence is on or before today are moved to their first occurrence after
today. Use --date to sweep as of another day (YYYY-MM-DD).`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().StringVar(&sweepDate, "date", "", "Treat this civil date (YYYY-MM-DD) as today")
}

func runSweep(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := app.OpenStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	sw, err := app.NewSweeper(cfg, store, logger)
	if err != nil {
		return err
	}
	now := time.Now()
	if sweepDate != "" {
		d, err := recurrence.ParseDate(sweepDate)
		if err != nil {
			return err
		}
		// Noon keeps the date stable in any configured timezone.
		now = d.Add(12 * time.Hour)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
	defer cancel()
	rep, err := sw.Run(ctx, now)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "date=%s scanned=%d advanced=%d conflicts=%d failures=%d took=%s\n",
		rep.Date.Format(time.DateOnly), rep.Scanned, rep.Advanced, rep.Conflicts, len(rep.Failures), rep.Took.Round(time.Millisecond))
	for _, f := range rep.Failures {
		fmt.Fprintf(out, "  failed %s\n", f.Error())
	}
	return err
}

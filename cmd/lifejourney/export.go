package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"lifejourney/internal/app"
	"lifejourney/internal/calendar"
)

var (
	exportOwner string
	exportOut   string
	exportName  string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write an owner's items as an iCalendar feed",
	Long: `Exports every item of --owner as an all-day VEVENT with an RRULE, so a
calendar client shows the same occurrences the sweep computes. Items whose
pattern cannot be expressed are skipped and listed on stderr.`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportOwner, "owner", "", "Owner ID (required)")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "-", "Output file, - for stdout")
	exportCmd.Flags().StringVar(&exportName, "name", "Life Journey", "Calendar display name")
	_ = exportCmd.MarkFlagRequired("owner")
}

func runExport(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := app.OpenStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()
	list, err := store.ListItemsByOwner(ctx, exportOwner)
	if err != nil {
		return err
	}

	var (
		w  io.Writer = cmd.OutOrStdout()
		f  *os.File
		bw *bufio.Writer
	)
	if exportOut != "-" {
		if f, err = os.Create(exportOut); err != nil {
			return err
		}
		defer f.Close()
		bw = bufio.NewWriter(f)
		w = bw
	}
	skipped, err := calendar.Write(w, exportName, list, time.Now())
	if err != nil {
		return err
	}
	for _, s := range skipped {
		fmt.Fprintf(cmd.ErrOrStderr(), "skipped %s: %v\n", s.ItemID, s.Err)
	}
	if bw != nil {
		if err := bw.Flush(); err != nil {
			return err
		}
		return f.Close()
	}
	return nil
}

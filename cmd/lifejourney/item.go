package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"lifejourney/internal/app"
	"lifejourney/internal/items"
	"lifejourney/internal/recurrence"
	"lifejourney/internal/storage"
)

var itemCmd = &cobra.Command{
	Use:   "item",
	Short: "Create, list, complete and delete recurring items",
}

var (
	itemOwner    string
	itemKind     string
	itemNotes    string
	itemStart    string
	itemListJSON bool
	itemDoneOn   string
)

var itemAddCmd = &cobra.Command{
	Use:   "add <title> <pattern>",
	Short: "Create an item",
	Long: `Creates a recurring item. The first occurrence is --start (default
today); monthly and yearly patterns without a day keep the start's day.

Example:
  lifejourney item add "Pay rent" monthly --owner alice --start 2024-01-31`,
	Args: cobra.ExactArgs(2),
	RunE: runItemAdd,
}

var itemListCmd = &cobra.Command{
	Use:   "list",
	Short: "List an owner's items by next occurrence",
	Args:  cobra.NoArgs,
	RunE:  runItemList,
}

var itemCompleteCmd = &cobra.Command{
	Use:   "complete <id>",
	Short: "Mark the current occurrence done and advance the item",
	Args:  cobra.ExactArgs(1),
	RunE:  runItemComplete,
}

var itemDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an item",
	Args:  cobra.ExactArgs(1),
	RunE:  runItemDelete,
}

func init() {
	itemAddCmd.Flags().StringVar(&itemOwner, "owner", "", "Owner ID (required)")
	itemAddCmd.Flags().StringVar(&itemKind, "kind", string(storage.KindTask), "task or event")
	itemAddCmd.Flags().StringVar(&itemNotes, "notes", "", "Free-form notes")
	itemAddCmd.Flags().StringVar(&itemStart, "start", "", "First occurrence (YYYY-MM-DD), default today")
	_ = itemAddCmd.MarkFlagRequired("owner")

	itemListCmd.Flags().StringVar(&itemOwner, "owner", "", "Owner ID (required)")
	itemListCmd.Flags().BoolVar(&itemListJSON, "json", false, "Print items as JSON")
	_ = itemListCmd.MarkFlagRequired("owner")

	itemCompleteCmd.Flags().StringVar(&itemDoneOn, "on", "", "Completion date (YYYY-MM-DD), default today")
}

// withItems opens the configured store and runs fn with an item service.
func withItems(cmd *cobra.Command, fn func(ctx context.Context, svc *items.Service) error) error {
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
	return fn(ctx, items.New(store, logger))
}

// dateOrToday parses raw, falling back to today's local date.
func dateOrToday(raw string) (time.Time, error) {
	if raw == "" {
		return recurrence.DateOf(time.Now()), nil
	}
	return recurrence.ParseDate(raw)
}

func runItemAdd(cmd *cobra.Command, args []string) error {
	p, err := recurrence.ParsePattern(args[1])
	if err != nil {
		return err
	}
	start, err := dateOrToday(itemStart)
	if err != nil {
		return err
	}
	return withItems(cmd, func(ctx context.Context, svc *items.Service) error {
		it, err := svc.Create(ctx, items.CreateInput{
			OwnerID: itemOwner,
			Kind:    storage.ItemKind(itemKind),
			Title:   args[0],
			Notes:   itemNotes,
			Pattern: p,
			Start:   start,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s next=%s pattern=%s\n", it.ID, it.NextOccurrence.Format(time.DateOnly), it.Pattern)
		return nil
	})
}

func runItemList(cmd *cobra.Command, _ []string) error {
	return withItems(cmd, func(ctx context.Context, svc *items.Service) error {
		list, err := svc.ListByOwner(ctx, itemOwner)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if itemListJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(list)
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tKIND\tNEXT\tPATTERN\tTITLE")
		for _, it := range list {
			next := "-"
			if !it.NextOccurrence.IsZero() {
				next = it.NextOccurrence.Format(time.DateOnly)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", it.ID, it.Kind, next, it.Pattern, it.Title)
		}
		return tw.Flush()
	})
}

func runItemComplete(cmd *cobra.Command, args []string) error {
	on, err := dateOrToday(itemDoneOn)
	if err != nil {
		return err
	}
	return withItems(cmd, func(ctx context.Context, svc *items.Service) error {
		it, err := svc.Complete(ctx, args[0], on)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s next=%s\n", it.ID, it.NextOccurrence.Format(time.DateOnly))
		return nil
	})
}

func runItemDelete(cmd *cobra.Command, args []string) error {
	return withItems(cmd, func(ctx context.Context, svc *items.Service) error {
		return svc.Delete(ctx, args[0])
	})
}

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"lifejourney/internal/moderation"
	"lifejourney/internal/recurrence"
)

var (
	nextCount int
	nextRRule bool
)

var nextCmd = &cobra.Command{
	Use:   "next <pattern> <date>",
	Short: "Print the occurrences of a pattern after a date",
	Long: `Computes the occurrences that follow <date> (YYYY-MM-DD).

Patterns:
  daily, daily/3
  weekly, weekly/2:mon,thu
  monthly, monthly@31
  yearly, yearly@29
  custom/10
  rrule:FREQ=WEEKLY;BYDAY=MO,TH

Example:
  lifejourney next monthly@31 2024-01-31 -n 4`,
	Args: cobra.ExactArgs(2),
	RunE: runNext,
}

var moderateJSON bool

var moderateCmd = &cobra.Command{
	Use:   "moderate <text>",
	Short: "Classify a title with the configured moderation rules",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runModerate,
}

func init() {
	nextCmd.Flags().IntVarP(&nextCount, "count", "n", 5, "Number of occurrences")
	nextCmd.Flags().BoolVar(&nextRRule, "rrule", false, "Also print the equivalent RFC 5545 RRULE")
	moderateCmd.Flags().BoolVar(&moderateJSON, "json", false, "Print the full verdict as JSON")
}

func runNext(cmd *cobra.Command, args []string) error {
	p, err := recurrence.ParsePattern(args[0])
	if err != nil {
		return err
	}
	anchor, err := recurrence.ParseDate(args[1])
	if err != nil {
		return err
	}
	if nextCount < 1 {
		return fmt.Errorf("--count must be >= 1")
	}
	out := cmd.OutOrStdout()
	if nextRRule {
		rule, err := recurrence.RRuleString(p, anchor)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, rule)
	}
	dates, err := recurrence.Occurrences(p, anchor, nextCount)
	for _, d := range dates {
		fmt.Fprintf(out, "%s %s\n", d.Format(time.DateOnly), d.Weekday().String()[:3])
	}
	return err
}

// runModerate adds the config's extra rules when the file exists.
func runModerate(cmd *cobra.Command, args []string) error {
	var extra []moderation.Rule
	cfg, err := loadConfig()
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return err
	default:
		for _, r := range cfg.Moderation.Rules {
			extra = append(extra, moderation.Rule{
				Name:     r.Name,
				Category: moderation.Category(r.Category),
				Action:   moderation.Action(r.Action),
				Pattern:  r.Pattern,
			})
		}
	}
	c, err := moderation.NewDefault(extra...)
	if err != nil {
		return err
	}
	v := c.Classify(strings.Join(args, " "))
	out := cmd.OutOrStdout()
	if moderateJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	if v.Rule == "" {
		fmt.Fprintln(out, v.Action)
		return nil
	}
	fmt.Fprintf(out, "%s category=%s rule=%s\n", v.Action, v.Category, v.Rule)
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"lifejourney/internal/app"
	"lifejourney/internal/notifier"
	"lifejourney/internal/storage"
)

var ownerCmd = &cobra.Command{
	Use:   "owner",
	Short: "Manage owners and their reminder contacts",
}

var (
	ownerName      string
	ownerPhone     string
	ownerChatID    int64
	ownerTimezone  string
	ownerReminders bool
)

var ownerSetCmd = &cobra.Command{
	Use:   "set <id>",
	Short: "Create or update an owner",
	Long: `Stores an owner's reminder contacts. Flags left unset keep the stored
value.

Example:
  lifejourney owner set alice --phone +4915112345678 --timezone Europe/Berlin --reminders`,
	Args: cobra.ExactArgs(1),
	RunE: runOwnerSet,
}

func init() {
	f := ownerSetCmd.Flags()
	f.StringVar(&ownerName, "name", "", "Display name")
	f.StringVar(&ownerPhone, "phone", "", "E.164 phone number for SMS reminders")
	f.Int64Var(&ownerChatID, "telegram-chat", 0, "Telegram chat ID for reminders")
	f.StringVar(&ownerTimezone, "timezone", "", "IANA timezone deciding the owner's today")
	f.BoolVar(&ownerReminders, "reminders", false, "Enable reminders for this owner")
}

func runOwnerSet(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	if flags.Changed("phone") && ownerPhone != "" && !notifier.ValidPhone(ownerPhone) {
		return fmt.Errorf("--phone must be E.164, e.g. +4915112345678")
	}
	if flags.Changed("timezone") && ownerTimezone != "" {
		if _, err := time.LoadLocation(ownerTimezone); err != nil {
			return fmt.Errorf("--timezone: %w", err)
		}
	}

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

	o, err := store.GetOwner(ctx, args[0])
	switch {
	case errors.Is(err, storage.ErrNotFound):
		o = storage.Owner{ID: args[0]}
	case err != nil:
		return err
	}
	if flags.Changed("name") {
		o.Name = ownerName
	}
	if flags.Changed("phone") {
		o.Phone = ownerPhone
	}
	if flags.Changed("telegram-chat") {
		o.TelegramChatID = ownerChatID
	}
	if flags.Changed("timezone") {
		o.Timezone = ownerTimezone
	}
	if flags.Changed("reminders") {
		o.RemindersEnabled = ownerReminders
	}
	if err := store.PutOwner(ctx, o); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "owner %s saved (reminders=%t)\n", o.ID, o.RemindersEnabled)
	return nil
}

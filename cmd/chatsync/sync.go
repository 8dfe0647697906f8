package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/HendryAvila/chatsync/internal/chat"
	"github.com/HendryAvila/chatsync/internal/sweep"
)

func init() {
	pendingCmd.Flags().Bool("failed", true, "also list failed messages")
	rootCmd.AddCommand(pendingCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(purgeCmd)
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List messages not yet confirmed by the remote store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		pending, err := app.Store.GetPendingMessages(cmd.Context())
		if err != nil {
			return err
		}
		var failed []chat.Message
		if withFailed, _ := cmd.Flags().GetBool("failed"); withFailed {
			if failed, err = app.Store.GetFailedMessages(cmd.Context()); err != nil {
				return err
			}
		}

		out := cmd.OutOrStdout()
		if len(pending)+len(failed) == 0 {
			fmt.Fprintln(out, "Everything is synced.")
			return nil
		}
		for _, m := range append(pending, failed...) {
			fmt.Fprintf(out, "%-8s %s  %s  %s: %s (%s)\n",
				m.SyncStatus, m.LocalID, m.ConversationID, m.SenderID, previewOf(m), humanize.Time(m.Timestamp))
		}
		return nil
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry [message-id]",
	Short: "Resubmit unsynced messages",
	Long: "With a message id, resend that message. Without one, sweep every pending\n" +
		"message, plus failed ones when retry.include_failed is set.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()
		out := cmd.OutOrStdout()

		if len(args) == 1 {
			msg, err := app.Messages.Resend(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("retry [%s]: %w", chat.Classify(err), err)
			}
			fmt.Fprintf(out, "Resent %s as %s\n", msg.LocalID, msg.ID)
			return nil
		}

		report, err := app.Sweeper.Run(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Attempted %d: %d synced, %d failed, %d skipped\n",
			report.Attempted, report.Synced, report.Failed, report.Skipped)
		for _, it := range report.Items {
			if it.Result != sweep.ResultSynced {
				fmt.Fprintf(out, "  %s %s [%s] %s\n", it.LocalID, it.Result, it.Kind, it.Error)
			}
		}
		return nil
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete local messages older than the retention window",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		n, err := app.Retention.RunOnce(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s messages older than %d days\n",
			humanize.Comma(n), app.Retention.MaxAgeDays())
		return nil
	},
}

func previewOf(m chat.Message) string {
	if m.Content.Type == chat.ContentText || m.Content.Type == "" {
		return m.Content.Text
	}
	return fmt.Sprintf("[%s] %s", m.Content.Type, m.Content.Text)
}

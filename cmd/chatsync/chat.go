package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/HendryAvila/chatsync/internal/chat"
	"github.com/HendryAvila/chatsync/internal/commands"
	"github.com/HendryAvila/chatsync/internal/receipts"
)

func init() {
	conversationsCmd.Flags().String("user", "", "user whose conversations to list (default: user_id)")
	conversationsCmd.Flags().Int("limit", 0, "maximum conversations to list")
	messagesCmd.Flags().String("viewer", "", "user whose deletions are hidden (default: user_id)")
	messagesCmd.Flags().Int("limit", 0, "page size (default: chat.page_size)")
	sendCmd.Flags().String("from", "", "sender (default: user_id)")

	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(messagesCmd)
	rootCmd.AddCommand(sendCmd)
}

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List local conversations, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		user := flagOr(cmd, "user", app.Config.UserID)
		if user == "" {
			return fmt.Errorf("no user: pass --user or set user_id")
		}
		limit, _ := cmd.Flags().GetInt("limit")
		convs, err := app.Conversations.List(cmd.Context(), user, limit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(convs) == 0 {
			fmt.Fprintf(out, "No conversations for %s.\n", user)
			return nil
		}
		for _, c := range convs {
			title := c.Name
			if title == "" {
				title = strings.Join(c.Participants, ", ")
			}
			fmt.Fprintf(out, "%s  %-6s %s  (%d unread, %s)\n",
				c.ID, c.Type, title, c.UnreadCount[user], humanize.Time(c.LastActivity))
		}
		return nil
	},
}

var messagesCmd = &cobra.Command{
	Use:   "messages <conversation-id>",
	Short: "Show the messages of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		conv, err := app.Store.GetConversation(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		msgs, err := app.Messages.List(cmd.Context(), args[0], commands.ListOptions{
			Viewer: flagOr(cmd, "viewer", app.Config.UserID),
			Limit:  limit,
		})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, a := range receipts.Annotate(*conv, msgs) {
			mark := ""
			if a.ReadByAll {
				mark = " ✓✓"
			} else if len(a.ReadByUsers) > 0 {
				mark = " ✓"
			}
			fmt.Fprintf(out, "%s  %s: %s  [%s/%s]%s\n",
				a.Timestamp.Local().Format("2006-01-02 15:04"), a.SenderID, previewOf(a.Message),
				a.Status, a.SyncStatus, mark)
		}
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> <text>",
	Short: "Send a text message",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		sender := flagOr(cmd, "from", app.Config.UserID)
		msg, err := app.Messages.Send(cmd.Context(), commands.SendRequest{
			ConversationID: args[0],
			SenderID:       sender,
			Text:           strings.Join(args[1:], " "),
		})
		if err != nil {
			if msg != nil {
				return fmt.Errorf("kept locally as %s (%s) [%s]: %w", msg.LocalID, msg.SyncStatus, chat.Classify(err), err)
			}
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Sent %s\n", msg.ID)
		return nil
	},
}

func flagOr(cmd *cobra.Command, name, fallback string) string {
	if v, _ := cmd.Flags().GetString(name); v != "" {
		return v
	}
	return fallback
}

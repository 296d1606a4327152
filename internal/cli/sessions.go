package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/prasetya/mika/pkg/message"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage stored sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a session transcript",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	app, err := buildStore()
	if err != nil {
		return err
	}
	defer app.Close()

	summaries, err := app.store.List(cmd.Context())
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No sessions.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODEL\tMESSAGES\tUPDATED")
	for _, s := range summaries {
		id := s.ID
		if s.Archived {
			id += " (archived)"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", id, s.Model, s.MessageCount, s.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	app, err := buildStore()
	if err != nil {
		return err
	}
	defer app.Close()

	sess, err := app.store.Load(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "session %s — model %s, %d message(s)\n\n", sess.ID, sess.Model, len(sess.Messages))
	for _, msg := range sess.Messages {
		fmt.Fprintf(out, "--- %s ---\n", msg.Role)
		for _, block := range msg.Content {
			switch b := block.(type) {
			case message.TextBlock:
				fmt.Fprintln(out, strings.TrimRight(b.Text, "\n"))
			case message.ThinkingBlock:
				fmt.Fprintf(out, "(thinking) %s\n", strings.TrimRight(b.Text, "\n"))
			case message.ToolCallBlock:
				fmt.Fprintf(out, "[tool call %s: %s]\n", b.ID, b.Name)
			case message.ToolResultBlock:
				label := "tool result"
				if b.IsError {
					label = "tool error"
				}
				fmt.Fprintf(out, "[%s %s] %s\n", label, b.CallID, firstLine(b.Output))
			}
		}
		fmt.Fprintln(out)
	}
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	app, err := buildStore()
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.store.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
	return nil
}

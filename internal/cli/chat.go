package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var chatSession string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long: `Chat reads prompts from stdin in a loop. Each line is one turn;
responses stream to stdout. Commands: /new starts a fresh session,
/id prints the session id, /exit quits.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatSession, "session", "s", "", "continue an existing session")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	app, err := buildRunner()
	if err != nil {
		return err
	}
	defer app.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	newSession := func() (string, error) {
		sess, err := app.store.Create(ctx, app.cfg.Model.Default, app.defaultProvider())
		if err != nil {
			return "", fmt.Errorf("create session: %w", err)
		}
		return sess.ID, nil
	}

	sessionID := chatSession
	if sessionID == "" {
		if sessionID, err = newSession(); err != nil {
			return err
		}
	}
	fmt.Fprintf(out, "mika %s — session %s (/exit to quit)\n", version, sessionID)

	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case "/exit", "/quit":
			return nil
		case "/id":
			fmt.Fprintln(out, sessionID)
			continue
		case "/new":
			if sessionID, err = newSession(); err != nil {
				return err
			}
			fmt.Fprintf(out, "session: %s\n", sessionID)
			continue
		}

		stopAbort := abortOnInterrupt(app.runner, sessionID)
		_, err := runTurn(ctx, app, sessionID, line, out)
		stopAbort()
		if err != nil {
			fmt.Fprintf(out, "[error: %v]\n", err)
		}
	}
	return scanner.Err()
}

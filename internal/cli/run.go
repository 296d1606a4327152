package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/prasetya/mika/pkg/agent"
	"github.com/prasetya/mika/pkg/stream"
)

var (
	runPrompt  string
	runSession string
	runModel   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single prompt and print the response",
	Long: `Run executes one turn against the configured model: the prompt is
appended to a session (a new one unless --session is given), the
response streams to stdout, and any tool calls the model makes are
executed along the way.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runPrompt, "prompt", "p", "", "prompt to send (required)")
	runCmd.Flags().StringVarP(&runSession, "session", "s", "", "continue an existing session")
	runCmd.Flags().StringVarP(&runModel, "model", "m", "", "model override for this run")
	_ = runCmd.MarkFlagRequired("prompt")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	app, err := buildRunner()
	if err != nil {
		return err
	}
	defer app.Close()

	ctx := cmd.Context()
	sessionID := runSession
	if sessionID == "" {
		model := runModel
		if model == "" {
			model = app.cfg.Model.Default
		}
		sess, err := app.store.Create(ctx, model, app.defaultProvider())
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		sessionID = sess.ID
		fmt.Fprintf(cmd.ErrOrStderr(), "session: %s\n", sessionID)
	}

	stopAbort := abortOnInterrupt(app.runner, sessionID)
	defer stopAbort()

	result, err := runTurn(ctx, app, sessionID, runPrompt, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "\n[%d round(s), %d in / %d out tokens]\n",
		result.Rounds, result.Usage.InputTokens, result.Usage.OutputTokens)
	return nil
}

// runTurn executes one turn, rendering stream events to out as they
// arrive. Budget exhaustion and aborts are reported, not fatal.
func runTurn(ctx context.Context, app *app, sessionID, prompt string, out io.Writer) (agent.TurnResult, error) {
	sink := newConsoleSink(out)
	result, err := app.runner.RunTurn(ctx, sessionID, prompt, sink)
	sink.finish()

	switch {
	case err == nil:
		return result, nil
	case errors.Is(err, agent.ErrMaxTurnsExceeded):
		fmt.Fprintf(out, "\n[stopped: round budget exhausted after %d rounds]\n", result.Rounds)
		return result, nil
	case errors.Is(err, agent.ErrAborted):
		fmt.Fprintln(out, "\n[aborted]")
		return result, nil
	default:
		return result, err
	}
}

// consoleSink renders display events as plain terminal output.
type consoleSink struct {
	out      io.Writer
	lastText bool
}

func newConsoleSink(out io.Writer) *consoleSink {
	return &consoleSink{out: out}
}

func (s *consoleSink) Publish(ev stream.DisplayEvent) {
	switch e := ev.(type) {
	case stream.TextAppended:
		fmt.Fprint(s.out, e.Text)
		s.lastText = true
	case stream.ToolCallAnnounced:
		if s.lastText {
			fmt.Fprintln(s.out)
		}
		fmt.Fprintf(s.out, "[tool: %s]\n", e.Name)
		s.lastText = false
	case stream.ToolResultReady:
		if e.IsError {
			fmt.Fprintf(s.out, "[tool error: %s]\n", firstLine(e.Output))
		}
		s.lastText = false
	case stream.ErrorEvent:
		fmt.Fprintf(s.out, "\n[error: %s]\n", e.Message)
		s.lastText = false
	}
}

func (s *consoleSink) finish() {
	if s.lastText {
		fmt.Fprintln(s.out)
	}
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}

// abortOnInterrupt aborts the session's active turn on the first
// SIGINT/SIGTERM. A second signal kills the process via the default
// handler.
func abortOnInterrupt(runner *agent.Runner, sessionID string) func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case <-ch:
			runner.Abort(sessionID)
			signal.Stop(ch)
		case <-done:
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}

package coretools

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/prasetya/mika/pkg/toolexec"
)

const (
	defaultBashTimeout = 120 * time.Second
	maxBashTimeout     = 10 * time.Minute
	bashKillGrace      = time.Second
)

func bashTool(opts Options) toolexec.ToolDefinition {
	return toolexec.ToolDefinition{
		Name: "bash",
		Description: "Execute a bash command in the shell. Commands run in the working directory. " +
			"Output is streamed and may be truncated for large outputs. Use timeout to limit execution time.",
		Timeout: maxBashTimeout + 30*time.Second,
		Parameters: []toolexec.ToolParameter{
			{Name: "command", Type: "string", Description: "The command to execute", Required: true},
			{Name: "timeout", Type: "integer", Description: "Timeout in seconds (default: 120)", Default: 120},
			{Name: "working_dir", Type: "string", Description: "Working directory (default: current directory)"},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (string, error) {
			command := strings.TrimSpace(stringParam(params, "command"))
			if command == "" {
				return "", fmt.Errorf("command is required")
			}
			timeout := durationSecondsParam(params, "timeout", defaultBashTimeout)
			if timeout > maxBashTimeout {
				timeout = maxBashTimeout
			}

			workingDir := stringParam(params, "working_dir")
			if workingDir == "" {
				workingDir = opts.WorkspaceRoot
			}
			if workingDir != "" {
				info, err := os.Stat(workingDir)
				if os.IsNotExist(err) {
					return "", fmt.Errorf("working directory does not exist: %s", workingDir)
				}
				if err != nil {
					return "", err
				}
				if !info.IsDir() {
					return "", fmt.Errorf("not a directory: %s", workingDir)
				}
			}

			return runShell(ctx, command, workingDir, timeout)
		},
	}
}

func runShell(ctx context.Context, command, workingDir string, timeout time.Duration) (string, error) {
	cmd := exec.Command("bash", "-c", command)
	cmd.Dir = workingDir
	// Own process group, so a timeout can take out descendants too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("error executing command: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-ctx.Done():
		killProcessGroup(cmd.Process.Pid)
		<-done
		return "", ctx.Err()
	case <-timer.C:
		killProcessGroup(cmd.Process.Pid)
		<-done
		return "", fmt.Errorf("command timed out after %d seconds\nCommand: %s",
			int(timeout.Seconds()), command)
	}

	var parts []string
	if stdout.Len() > 0 {
		parts = append(parts, stdout.String())
	}
	if stderr.Len() > 0 {
		parts = append(parts, "[stderr]\n"+stderr.String())
	}
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		parts = append(parts, fmt.Sprintf("[exit code: %d]", exitErr.ExitCode()))
	} else if waitErr != nil {
		return "", fmt.Errorf("error executing command: %w", waitErr)
	}

	output := strings.Join(parts, "\n")
	result := truncateTail(output, defaultMaxLines, defaultMaxBytes)
	if result.Truncated {
		return result.Content + truncationNotice(result, "tail"), nil
	}
	if output == "" {
		return "[Command completed with no output]", nil
	}
	return output, nil
}

// killProcessGroup terminates the command's process group, escalating
// from SIGTERM to SIGKILL after a grace period.
func killProcessGroup(pid int) {
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		return
	}
	_ = syscall.Kill(-pgid, syscall.SIGTERM)
	time.Sleep(bashKillGrace)
	_ = syscall.Kill(-pgid, syscall.SIGKILL)
}

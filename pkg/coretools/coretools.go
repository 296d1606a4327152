// Package coretools provides the built-in filesystem and shell tools:
// read, write, edit, bash, grep, find, and ls.
package coretools

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/prasetya/mika/pkg/toolexec"
)

// Options configures core tool registration.
type Options struct {
	// WorkspaceRoot confines file paths when set. Relative paths
	// resolve against it; paths escaping it are rejected. When empty,
	// tools require absolute paths and may touch anything.
	WorkspaceRoot string
}

// Register wires the core tool set into the dispatcher.
func Register(dispatcher *toolexec.Dispatcher, opts Options) error {
	if dispatcher == nil {
		return errors.New("dispatcher is required")
	}

	tools := []toolexec.ToolDefinition{
		readTool(opts),
		writeTool(opts),
		editTool(opts),
		bashTool(opts),
		grepTool(opts),
		findTool(opts),
		lsTool(opts),
	}

	for _, tool := range tools {
		if err := dispatcher.Register(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}
	return nil
}

// resolvePath validates and absolutizes a user-supplied path.
func resolvePath(opts Options, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("path is required")
	}
	if strings.Contains(raw, "://") {
		return "", errors.New("path must be a local file")
	}

	candidate := raw
	if !filepath.IsAbs(candidate) {
		if opts.WorkspaceRoot == "" {
			return "", fmt.Errorf("path must be absolute, got: %s", raw)
		}
		candidate = filepath.Join(opts.WorkspaceRoot, candidate)
	}
	candidate = filepath.Clean(candidate)

	if opts.WorkspaceRoot != "" {
		root := filepath.Clean(opts.WorkspaceRoot)
		rel, err := filepath.Rel(root, candidate)
		if err != nil {
			return "", err
		}
		if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("path %q is outside workspace root", raw)
		}
	}
	return candidate, nil
}

func stringParam(params map[string]interface{}, key string) string {
	s, _ := params[key].(string)
	return s
}

func boolParam(params map[string]interface{}, key string) bool {
	b, _ := params[key].(bool)
	return b
}

func intParam(params map[string]interface{}, key string, fallback int) int {
	switch v := params[key].(type) {
	case float64:
		if v > 0 {
			return int(v)
		}
	case int:
		if v > 0 {
			return v
		}
	}
	return fallback
}

func durationSecondsParam(params map[string]interface{}, key string, fallback time.Duration) time.Duration {
	switch v := params[key].(type) {
	case float64:
		if v > 0 {
			return time.Duration(v * float64(time.Second))
		}
	case int:
		if v > 0 {
			return time.Duration(v) * time.Second
		}
	}
	return fallback
}

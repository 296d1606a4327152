package coretools

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/prasetya/mika/pkg/toolexec"
)

const (
	findMaxLines        = 1000
	findFallbackResults = 500
	findFallbackDepth   = 10
)

type findArgs struct {
	Pattern  string
	Path     string
	Type     string
	MaxDepth int
}

func findTool(opts Options) toolexec.ToolDefinition {
	return toolexec.ToolDefinition{
		Name: "find",
		Description: "Find files by name pattern. Uses fd if available, falls back to a directory walk. " +
			"Returns paths sorted by modification time.",
		Parameters: []toolexec.ToolParameter{
			{Name: "pattern", Type: "string", Description: "Glob pattern to match files (e.g., '*.go')", Required: true},
			{Name: "path", Type: "string", Description: "Directory to search in (default: current directory)"},
			{Name: "type", Type: "string", Description: "One of file, directory, any (default: file)", Default: "file"},
			{Name: "max_depth", Type: "integer", Description: "Maximum search depth"},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (string, error) {
			args := findArgs{
				Pattern:  stringParam(params, "pattern"),
				Path:     stringParam(params, "path"),
				Type:     stringParam(params, "type"),
				MaxDepth: intParam(params, "max_depth", 0),
			}
			if args.Pattern == "" {
				return "", fmt.Errorf("pattern is required")
			}
			if args.Path == "" {
				if opts.WorkspaceRoot != "" {
					args.Path = opts.WorkspaceRoot
				} else {
					args.Path = "."
				}
			}
			if args.Type == "" {
				args.Type = "file"
			}
			switch args.Type {
			case "file", "directory", "any":
			default:
				return "", fmt.Errorf("invalid type: %s", args.Type)
			}

			if fdPath, err := exec.LookPath("fd"); err == nil {
				return fdSearch(ctx, fdPath, args)
			}
			return walkSearch(args)
		},
	}
}

func fdSearch(ctx context.Context, fdPath string, args findArgs) (string, error) {
	cmd := []string{"--glob", args.Pattern, args.Path}
	switch args.Type {
	case "file":
		cmd = append(cmd, "-t", "f")
	case "directory":
		cmd = append(cmd, "-t", "d")
	}
	if args.MaxDepth > 0 {
		cmd = append(cmd, "-d", strconv.Itoa(args.MaxDepth))
	}

	var stdout, stderr bytes.Buffer
	fd := exec.CommandContext(ctx, fdPath, cmd...)
	fd.Stdout = &stdout
	fd.Stderr = &stderr

	if err := fd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("fd failed: %s", msg)
		}
		return "", fmt.Errorf("fd failed: %w", err)
	}

	results := splitNonEmptyLines(stdout.String())
	if len(results) == 0 {
		return "No files found", nil
	}
	sortByModTime(results)

	output := strings.Join(results, "\n")
	result := truncateTail(output, findMaxLines, defaultMaxBytes)
	if result.Truncated {
		return result.Content + truncationNotice(result, "tail"), nil
	}
	return output, nil
}

// walkSearch is the pure-Go fallback used when fd is not installed.
func walkSearch(args findArgs) (string, error) {
	maxDepth := args.MaxDepth
	if maxDepth <= 0 {
		maxDepth = findFallbackDepth
	}

	// Recursive glob prefixes collapse to a name match on every level.
	namePattern := args.Pattern
	namePattern = strings.TrimPrefix(namePattern, "**/")
	namePattern = strings.TrimSuffix(namePattern, "/**")

	root := filepath.Clean(args.Path)
	var results []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path == root {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		depth := strings.Count(rel, string(filepath.Separator)) + 1
		if depth > maxDepth {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if args.Type == "file" && d.IsDir() {
			return nil
		}
		if args.Type == "directory" && !d.IsDir() {
			return nil
		}
		if ok, _ := filepath.Match(namePattern, d.Name()); ok {
			results = append(results, path)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if len(results) == 0 {
		return "No files found", nil
	}
	sortByModTime(results)
	if len(results) > findFallbackResults {
		results = results[:findFallbackResults]
	}
	return strings.Join(results, "\n"), nil
}

func sortByModTime(paths []string) {
	mtime := func(path string) time.Time {
		info, err := os.Stat(path)
		if err != nil {
			return time.Time{}
		}
		return info.ModTime()
	}
	sort.SliceStable(paths, func(i, j int) bool {
		return mtime(paths[i]).After(mtime(paths[j]))
	})
}

func splitNonEmptyLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

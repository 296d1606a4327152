package coretools

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/prasetya/mika/pkg/toolexec"
)

func lsTool(opts Options) toolexec.ToolDefinition {
	return toolexec.ToolDefinition{
		Name: "ls",
		Description: "List contents of a directory. Shows files and subdirectories " +
			"sorted by name.",
		Parameters: []toolexec.ToolParameter{
			{Name: "path", Type: "string", Description: "Directory path to list", Required: true},
			{Name: "all", Type: "boolean", Description: "Show hidden files (default: false)", Default: false},
			{Name: "long", Type: "boolean", Description: "Show detailed information (default: false)", Default: false},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (string, error) {
			target, err := resolvePath(opts, stringParam(params, "path"))
			if err != nil {
				return "", err
			}
			showAll := boolParam(params, "all")
			longFormat := boolParam(params, "long")

			info, err := os.Stat(target)
			if os.IsNotExist(err) {
				return "", fmt.Errorf("directory not found: %s", target)
			}
			if err != nil {
				return "", err
			}
			if !info.IsDir() {
				return "", fmt.Errorf("not a directory: %s", target)
			}

			entries, err := os.ReadDir(target)
			if err != nil {
				return "", fmt.Errorf("error listing directory: %w", err)
			}

			var lines []string
			sort.Slice(entries, func(i, j int) bool {
				return strings.ToLower(entries[i].Name()) < strings.ToLower(entries[j].Name())
			})

			for _, entry := range entries {
				if !showAll && strings.HasPrefix(entry.Name(), ".") {
					continue
				}
				if longFormat {
					lines = append(lines, formatLong(entry))
				} else {
					lines = append(lines, fmt.Sprintf("%s %s", typePrefix(entry.IsDir()), entry.Name()))
				}
			}

			if len(lines) == 0 {
				return fmt.Sprintf("Directory %s is empty", target), nil
			}
			return strings.Join(lines, "\n"), nil
		},
	}
}

func typePrefix(isDir bool) string {
	if isDir {
		return "d"
	}
	return "-"
}

func formatLong(entry os.DirEntry) string {
	size := "0"
	mtime := "?"
	if info, err := entry.Info(); err == nil {
		size = humanSize(info.Size())
		mtime = info.ModTime().Format("2006-01-02 15:04")
	}
	return fmt.Sprintf("%s %8s %s %s", typePrefix(entry.IsDir()), size, mtime, entry.Name())
}

func humanSize(size int64) string {
	switch {
	case size >= 1024*1024:
		return fmt.Sprintf("%.1fM", float64(size)/(1024*1024))
	case size >= 1024:
		return fmt.Sprintf("%.1fK", float64(size)/1024)
	default:
		return fmt.Sprintf("%d", size)
	}
}

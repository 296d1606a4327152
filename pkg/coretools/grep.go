package coretools

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/prasetya/mika/pkg/toolexec"
)

const grepFallbackMaxResults = 100

type grepArgs struct {
	Pattern         string
	Path            string
	Glob            string
	OutputMode      string
	Context         int
	CaseInsensitive bool
	HeadLimit       int
}

func grepTool(opts Options) toolexec.ToolDefinition {
	return toolexec.ToolDefinition{
		Name: "grep",
		Description: "Search for patterns in file contents using ripgrep. " +
			"Supports regex patterns and various output formats. Optimized for code search with context lines.",
		Parameters: []toolexec.ToolParameter{
			{Name: "pattern", Type: "string", Description: "The regex pattern to search for", Required: true},
			{Name: "path", Type: "string", Description: "Directory or file to search in (default: current directory)"},
			{Name: "glob", Type: "string", Description: "Glob pattern to filter files (e.g., '*.go')"},
			{Name: "output_mode", Type: "string", Description: "One of content, files_with_matches, count (default: content)", Default: "content"},
			{Name: "context", Type: "integer", Description: "Number of context lines to show", Default: 0},
			{Name: "case_insensitive", Type: "boolean", Description: "Case insensitive search", Default: false},
			{Name: "head_limit", Type: "integer", Description: "Maximum number of results"},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (string, error) {
			args := grepArgs{
				Pattern:         stringParam(params, "pattern"),
				Path:            stringParam(params, "path"),
				Glob:            stringParam(params, "glob"),
				OutputMode:      stringParam(params, "output_mode"),
				Context:         intParam(params, "context", 0),
				CaseInsensitive: boolParam(params, "case_insensitive"),
				HeadLimit:       intParam(params, "head_limit", 0),
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
			if args.OutputMode == "" {
				args.OutputMode = "content"
			}
			switch args.OutputMode {
			case "content", "files_with_matches", "count":
			default:
				return "", fmt.Errorf("invalid output_mode: %s", args.OutputMode)
			}

			if rgPath, err := exec.LookPath("rg"); err == nil {
				return ripgrepSearch(ctx, rgPath, args)
			}
			return goGrep(args)
		},
	}
}

func ripgrepSearch(ctx context.Context, rgPath string, args grepArgs) (string, error) {
	cmd := []string{}

	switch args.OutputMode {
	case "content":
		cmd = append(cmd, "--json")
	case "files_with_matches":
		cmd = append(cmd, "-l")
	case "count":
		cmd = append(cmd, "-c")
	}
	if args.CaseInsensitive {
		cmd = append(cmd, "-i")
	}
	if args.Context > 0 {
		cmd = append(cmd, "-C", strconv.Itoa(args.Context))
	}
	if args.Glob != "" {
		cmd = append(cmd, "-g", args.Glob)
	}
	if args.HeadLimit > 0 {
		cmd = append(cmd, "-m", strconv.Itoa(args.HeadLimit))
	}
	cmd = append(cmd, args.Pattern, args.Path)

	var stdout, stderr bytes.Buffer
	rg := exec.CommandContext(ctx, rgPath, cmd...)
	rg.Stdout = &stdout
	rg.Stderr = &stderr

	err := rg.Run()
	if err != nil {
		// Exit code 1 means no matches.
		if exitErr, ok := err.(*exec.ExitError); !ok || exitErr.ExitCode() != 1 {
			return "", fmt.Errorf("ripgrep failed: %s", strings.TrimSpace(stderr.String()))
		}
	}

	out := stdout.String()
	if args.OutputMode == "content" && out != "" {
		return formatRipgrepJSON(out), nil
	}
	if out == "" {
		return "No matches found", nil
	}
	return strings.TrimRight(out, "\n"), nil
}

// rgMessage is the subset of ripgrep's --json stream we render.
type rgMessage struct {
	Type string `json:"type"`
	Data struct {
		Path struct {
			Text string `json:"text"`
		} `json:"path"`
		LineNumber int `json:"line_number"`
		Lines      struct {
			Text string `json:"text"`
		} `json:"lines"`
	} `json:"data"`
}

func formatRipgrepJSON(raw string) string {
	var results []string
	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		if line == "" {
			continue
		}
		var msg rgMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			results = append(results, line)
			continue
		}
		if msg.Type != "match" {
			continue
		}
		results = append(results, fmt.Sprintf("%s:%d:\t%s",
			msg.Data.Path.Text, msg.Data.LineNumber, strings.TrimRight(msg.Data.Lines.Text, "\r\n")))
	}
	if len(results) == 0 {
		return "No matches found"
	}

	output := strings.Join(results, "\n")
	result := truncateTail(output, defaultMaxLines, defaultMaxBytes)
	if result.Truncated {
		return result.Content + truncationNotice(result, "tail")
	}
	return output
}

// goGrep is the pure-Go fallback used when ripgrep is not installed.
func goGrep(args grepArgs) (string, error) {
	pattern := args.Pattern
	if args.CaseInsensitive {
		pattern = "(?i)" + pattern
	}
	regex, err := regexp.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("invalid regex pattern: %w", err)
	}

	limit := grepFallbackMaxResults
	if args.HeadLimit > 0 && args.HeadLimit < limit {
		limit = args.HeadLimit
	}

	var matches []string
	counts := make(map[string]int)
	var files []string

	searchFile := func(path string) {
		f, err := os.Open(path)
		if err != nil {
			return
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			if !regex.Match(scanner.Bytes()) {
				continue
			}
			if counts[path] == 0 {
				files = append(files, path)
			}
			counts[path]++
			matches = append(matches, fmt.Sprintf("%s:%d:\t%s", path, lineNo, strings.TrimRight(scanner.Text(), "\r")))
		}
	}

	info, err := os.Stat(args.Path)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		searchFile(args.Path)
	} else {
		_ = filepath.WalkDir(args.Path, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			name := d.Name()
			if strings.HasPrefix(name, ".") && path != args.Path {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}
			if args.Glob != "" {
				if ok, _ := filepath.Match(args.Glob, name); !ok {
					return nil
				}
			}
			searchFile(path)
			return nil
		})
	}

	switch args.OutputMode {
	case "files_with_matches":
		if len(files) == 0 {
			return "No matches found", nil
		}
		if len(files) > limit {
			files = files[:limit]
		}
		return strings.Join(files, "\n"), nil
	case "count":
		if len(files) == 0 {
			return "No matches found", nil
		}
		lines := make([]string, 0, len(files))
		for _, path := range files {
			lines = append(lines, fmt.Sprintf("%s:%d", path, counts[path]))
		}
		return strings.Join(lines, "\n"), nil
	default:
		if len(matches) == 0 {
			return "No matches found", nil
		}
		if len(matches) > limit {
			matches = matches[:limit]
		}
		return strings.Join(matches, "\n"), nil
	}
}

package coretools

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/prasetya/mika/pkg/toolexec"
)

const (
	defaultReadOffset = 1
	defaultReadLimit  = 2000
)

func readTool(opts Options) toolexec.ToolDefinition {
	return toolexec.ToolDefinition{
		Name: "read",
		Description: "Read the contents of a file. Supports text files and images. " +
			"Returns file content with line numbers. For large files, content may be truncated.",
		Parameters: []toolexec.ToolParameter{
			{Name: "file_path", Type: "string", Description: "The absolute path to the file to read", Required: true},
			{Name: "offset", Type: "integer", Description: "Line number to start reading from (1-based). Default: 1", Default: defaultReadOffset},
			{Name: "limit", Type: "integer", Description: "Maximum number of lines to read. Default: 2000", Default: defaultReadLimit},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (string, error) {
			target, err := resolvePath(opts, stringParam(params, "file_path"))
			if err != nil {
				return "", err
			}
			offset := intParam(params, "offset", defaultReadOffset)
			limit := intParam(params, "limit", defaultReadLimit)

			info, err := os.Stat(target)
			if os.IsNotExist(err) {
				return "", fmt.Errorf("file not found: %s", target)
			}
			if err != nil {
				return "", err
			}
			if info.IsDir() {
				return "", fmt.Errorf("not a file: %s", target)
			}

			if mimeType := mime.TypeByExtension(filepath.Ext(target)); strings.HasPrefix(mimeType, "image/") {
				return readImage(target, mimeType)
			}

			data, err := os.ReadFile(target)
			if err != nil {
				return "", fmt.Errorf("error reading file: %w", err)
			}

			lines := strings.Split(string(data), "\n")
			if len(lines) > 0 && lines[len(lines)-1] == "" {
				lines = lines[:len(lines)-1]
			}
			totalLines := len(lines)

			start := offset - 1
			if start < 0 {
				start = 0
			}
			if start > totalLines {
				start = totalLines
			}
			end := start + limit
			if end > totalLines {
				end = totalLines
			}

			formatted := make([]string, 0, end-start)
			for i := start; i < end; i++ {
				formatted = append(formatted, fmt.Sprintf("%6d\t%s", i+1, lines[i]))
			}

			result := truncateTail(strings.Join(formatted, "\n"), defaultMaxLines, defaultMaxBytes)
			output := result.Content
			output += truncationNotice(result, "tail")

			if end < totalLines {
				output += fmt.Sprintf("\n\n[File has %d total lines. Use offset=%d to read more.]", totalLines, end+1)
			}
			return output, nil
		},
	}
}

func readImage(path, mimeType string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("error reading image: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(data)
	preview := encoded
	if len(preview) > 100 {
		preview = preview[:100]
	}
	return fmt.Sprintf(
		"[Image: %s]\nType: %s\nSize: %d bytes\nBase64 data: %s...\n(Full base64 data available but truncated for display)",
		filepath.Base(path), mimeType, len(data), preview,
	), nil
}

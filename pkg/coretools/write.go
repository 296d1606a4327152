package coretools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prasetya/mika/pkg/toolexec"
)

func writeTool(opts Options) toolexec.ToolDefinition {
	return toolexec.ToolDefinition{
		Name: "write",
		Description: "Write content to a file. Creates the file if it doesn't exist, " +
			"overwrites if it does. Automatically creates parent directories.",
		Parameters: []toolexec.ToolParameter{
			{Name: "file_path", Type: "string", Description: "The absolute path to the file to write", Required: true},
			{Name: "content", Type: "string", Description: "The content to write to the file", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (string, error) {
			target, err := resolvePath(opts, stringParam(params, "file_path"))
			if err != nil {
				return "", err
			}
			content := stringParam(params, "content")

			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return "", fmt.Errorf("error creating directories: %w", err)
			}

			_, statErr := os.Stat(target)
			existed := statErr == nil

			if err := os.WriteFile(target, []byte(content), 0644); err != nil {
				return "", fmt.Errorf("error writing file: %w", err)
			}

			action := "Created"
			if existed {
				action = "Updated"
			}
			return fmt.Sprintf("%s file: %s\nLines: %d\nBytes: %d",
				action, target, countLines(content), len(content)), nil
		},
	}
}

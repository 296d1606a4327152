package coretools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/prasetya/mika/pkg/toolexec"
)

const diffOutputMaxLines = 50

func editTool(opts Options) toolexec.ToolDefinition {
	return toolexec.ToolDefinition{
		Name: "edit",
		Description: "Edit a file by replacing specific text. The old_string must appear " +
			"exactly once in the file. Use this for targeted edits rather than rewriting entire files.",
		Parameters: []toolexec.ToolParameter{
			{Name: "file_path", Type: "string", Description: "The absolute path to the file to edit", Required: true},
			{Name: "old_string", Type: "string", Description: "The text to find and replace (must be unique in the file)", Required: true},
			{Name: "new_string", Type: "string", Description: "The text to replace old_string with", Required: true},
			{Name: "replace_all", Type: "boolean", Description: "Replace all occurrences (default: false)", Default: false},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (string, error) {
			target, err := resolvePath(opts, stringParam(params, "file_path"))
			if err != nil {
				return "", err
			}
			oldString := stringParam(params, "old_string")
			newString := stringParam(params, "new_string")
			replaceAll := boolParam(params, "replace_all")
			if oldString == "" {
				return "", fmt.Errorf("old_string is required")
			}

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

			raw, err := os.ReadFile(target)
			if err != nil {
				return "", fmt.Errorf("error reading file: %w", err)
			}
			if !utf8.Valid(raw) {
				return "", fmt.Errorf("file is not valid UTF-8: %s", target)
			}
			original := string(raw)

			// The file's BOM and line endings survive the edit; matching
			// happens on the LF-normalized view.
			bom, content := stripBOM(original)
			ending := detectLineEnding(content)
			content = normalizeToLF(content)
			oldNorm := normalizeToLF(oldString)
			newNorm := normalizeToLF(newString)

			count, fuzzy := countOccurrences(content, oldNorm)
			if count == 0 {
				return "", notFoundError(content, oldString)
			}
			if !replaceAll && count > 1 {
				return "", fmt.Errorf(
					"old_string appears %d times in the file; provide a more specific string or set replace_all=true",
					count)
			}

			var updated string
			replaced := 1
			if replaceAll {
				updated = replaceEveryMatch(content, oldNorm, newNorm)
				replaced = count
			} else {
				match := fuzzyFind(content, oldNorm)
				updated = content[:match.Start] + newNorm + content[match.End:]
			}

			updated = bom + restoreLineEndings(updated, ending)
			if err := os.WriteFile(target, []byte(updated), info.Mode().Perm()); err != nil {
				return "", fmt.Errorf("error writing file: %w", err)
			}

			diff, diffErr := unifiedDiff(original, updated, filepath.Base(target))

			output := fmt.Sprintf("Edited %s\nReplaced %d occurrence(s)", target, replaced)
			if fuzzy {
				output += " (using fuzzy matching)"
			}
			if diffErr == nil && diff != "" {
				output += "\n\n" + formatDiff(diff, original, updated, diffOutputMaxLines)
			}
			return output, nil
		},
	}
}

// countOccurrences counts exact matches, falling back to a single
// fuzzy match when none are exact.
func countOccurrences(content, oldString string) (count int, fuzzy bool) {
	if n := strings.Count(content, oldString); n > 0 {
		return n, false
	}
	if fuzzyFind(content, oldString).Found {
		return 1, true
	}
	return 0, false
}

func replaceEveryMatch(content, oldString, newString string) string {
	if strings.Contains(content, oldString) {
		return strings.ReplaceAll(content, oldString, newString)
	}
	result := content
	for {
		match := fuzzyFind(result, oldString)
		if !match.Found {
			return result
		}
		result = result[:match.Start] + newString + result[match.End:]
	}
}

// notFoundError explains the most likely reason old_string missed.
func notFoundError(content, oldString string) error {
	var issues []string

	if trimmed := strings.TrimSpace(oldString); trimmed != oldString {
		if strings.Contains(content, strings.TrimLeft(oldString, " \t\n")) ||
			strings.Contains(content, strings.TrimRight(oldString, " \t\n")) {
			issues = append(issues, "whitespace mismatch (leading/trailing)")
		}
	}
	if strings.Contains(oldString, "\r\n") && strings.Contains(content, "\n") && !strings.Contains(content, "\r\n") {
		issues = append(issues, "line ending mismatch (CRLF vs LF)")
	}
	if strings.Contains(normalizeFuzzy(content), normalizeFuzzy(oldString)) {
		issues = append(issues, "Unicode character differences (smart quotes, dashes, etc.)")
	}

	msg := "old_string not found in file."
	if len(issues) > 0 {
		msg += " Possible issues: " + strings.Join(issues, ", ")
	}
	preview := oldString
	if len(preview) > 200 {
		preview = preview[:200] + "..."
	}
	return fmt.Errorf("%s\n\nSearched for:\n%s", msg, preview)
}

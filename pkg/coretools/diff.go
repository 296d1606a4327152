package coretools

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

const diffContextLines = 4

// unifiedDiff renders a unified diff between two file versions.
func unifiedDiff(oldContent, newContent, name string) (string, error) {
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(oldContent),
		B:        difflib.SplitLines(newContent),
		FromFile: "a/" + name,
		ToFile:   "b/" + name,
		Context:  diffContextLines,
	})
}

// firstChangedLine returns the 1-based line number of the first
// differing line, or 0 when the contents are identical.
func firstChangedLine(oldContent, newContent string) int {
	oldLines := strings.Split(oldContent, "\n")
	newLines := strings.Split(newContent, "\n")

	for i := 0; i < len(oldLines) && i < len(newLines); i++ {
		if oldLines[i] != newLines[i] {
			return i + 1
		}
	}
	if len(oldLines) != len(newLines) {
		if n := min(len(oldLines), len(newLines)); n > 0 {
			return n + 1
		}
		return 1
	}
	return 0
}

// formatDiff prepares a diff for tool output, keeping the header and
// the tail when the diff is too long to show whole.
func formatDiff(diff string, oldContent, newContent string, maxLines int) string {
	if diff == "" {
		return "No changes"
	}

	lines := strings.SplitAfter(diff, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	var output string
	if len(lines) <= maxLines {
		output = diff
	} else {
		headerLines := min(2, len(lines))
		tailLines := maxLines - headerLines
		output = strings.Join(lines[:headerLines], "")
		output += fmt.Sprintf("... (truncated %d lines)\n", len(lines)-maxLines)
		output += strings.Join(lines[len(lines)-tailLines:], "")
	}

	if line := firstChangedLine(oldContent, newContent); line > 0 {
		output += fmt.Sprintf("\nFirst change at line %d", line)
	}
	return output
}

package coretools

import (
	"fmt"
	"strings"
)

const (
	defaultMaxLines = 2000
	defaultMaxBytes = 256000
)

// truncation records what a size cap did to a piece of output.
type truncation struct {
	Content       string
	Truncated     bool
	OriginalLines int
	OriginalBytes int
	FinalLines    int
	FinalBytes    int
}

func (t truncation) linesRemoved() int {
	return t.OriginalLines - t.FinalLines
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}

// truncateTail keeps the head of content, cutting lines past maxLines
// and bytes past maxBytes at a line boundary.
func truncateTail(content string, maxLines, maxBytes int) truncation {
	t := truncation{
		Content:       content,
		OriginalLines: countLines(content),
		OriginalBytes: len(content),
	}
	if t.OriginalLines <= maxLines && t.OriginalBytes <= maxBytes {
		t.FinalLines = t.OriginalLines
		t.FinalBytes = t.OriginalBytes
		return t
	}

	if lines := strings.Split(content, "\n"); len(lines) > maxLines {
		content = strings.Join(lines[:maxLines], "\n")
	}
	if len(content) > maxBytes {
		cut := content[:maxBytes]
		if idx := strings.LastIndexByte(cut, '\n'); idx != -1 {
			cut = cut[:idx]
		}
		content = cut
	}

	t.Content = content
	t.Truncated = true
	t.FinalLines = countLines(content)
	t.FinalBytes = len(content)
	return t
}

// truncateHead keeps the tail of content, dropping the oldest lines.
func truncateHead(content string, maxLines, maxBytes int) truncation {
	t := truncation{
		Content:       content,
		OriginalLines: countLines(content),
		OriginalBytes: len(content),
	}
	if t.OriginalLines <= maxLines && t.OriginalBytes <= maxBytes {
		t.FinalLines = t.OriginalLines
		t.FinalBytes = t.OriginalBytes
		return t
	}

	if lines := strings.Split(content, "\n"); len(lines) > maxLines {
		content = strings.Join(lines[len(lines)-maxLines:], "\n")
	}
	if len(content) > maxBytes {
		cut := content[len(content)-maxBytes:]
		if idx := strings.IndexByte(cut, '\n'); idx != -1 {
			cut = cut[idx+1:]
		}
		content = cut
	}

	t.Content = content
	t.Truncated = true
	t.FinalLines = countLines(content)
	t.FinalBytes = len(content)
	return t
}

func truncationNotice(t truncation, direction string) string {
	if !t.Truncated {
		return ""
	}
	return fmt.Sprintf(
		"\n[Output truncated: removed %d lines from %s]\n[Original: %d lines, %d bytes]\n[Showing: %d lines, %d bytes]",
		t.linesRemoved(), direction,
		t.OriginalLines, t.OriginalBytes,
		t.FinalLines, t.FinalBytes,
	)
}

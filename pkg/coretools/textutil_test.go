package coretools

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectLineEnding(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "lf only", content: "a\nb\nc\n", want: "\n"},
		{name: "crlf only", content: "a\r\nb\r\nc\r\n", want: "\r\n"},
		{name: "mixed mostly crlf", content: "a\r\nb\r\nc\n", want: "\r\n"},
		{name: "mixed mostly lf", content: "a\nb\nc\r\n", want: "\n"},
		{name: "empty", content: "", want: "\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, detectLineEnding(tt.content))
		})
	}
}

func TestNormalizeAndRestoreLineEndings(t *testing.T) {
	assert.Equal(t, "a\nb\nc", normalizeToLF("a\r\nb\rc"))
	assert.Equal(t, "a\r\nb", restoreLineEndings("a\nb", "\r\n"))
	assert.Equal(t, "a\nb", restoreLineEndings("a\nb", "\n"))
}

func TestStripBOM(t *testing.T) {
	bom, rest := stripBOM("\uFEFFtext")
	assert.Equal(t, "\uFEFF", bom)
	assert.Equal(t, "text", rest)

	bom, rest = stripBOM("text")
	assert.Empty(t, bom)
	assert.Equal(t, "text", rest)
}

func TestNormalizeFuzzy(t *testing.T) {
	assert.Equal(t, `say "hi" - now`, normalizeFuzzy("say “hi” — now"))
	assert.Equal(t, "a b", normalizeFuzzy("a b"))
}

func TestFuzzyFindExact(t *testing.T) {
	m := fuzzyFind("hello world", "world")
	assert.True(t, m.Found)
	assert.False(t, m.Fuzzy)
	assert.Equal(t, 6, m.Start)
	assert.Equal(t, 11, m.End)
}

func TestFuzzyFindNormalized(t *testing.T) {
	content := "uses ‘quoted’ text"
	m := fuzzyFind(content, "'quoted'")
	assert.True(t, m.Found)
	assert.True(t, m.Fuzzy)
	assert.Equal(t, "‘quoted’", content[m.Start:m.End])
}

func TestFuzzyFindComposedForms(t *testing.T) {
	// Decomposed e + combining acute on disk, precomposed é in the
	// needle. The match region must cover the full combining sequence.
	content := "one cafe\u0301 per day"
	m := fuzzyFind(content, "café")
	assert.True(t, m.Found)
	assert.True(t, m.Fuzzy)
	assert.Equal(t, "cafe\u0301", content[m.Start:m.End])

	// Opposite direction: precomposed on disk, decomposed needle.
	content = "one café per day"
	m = fuzzyFind(content, "cafe\u0301")
	assert.True(t, m.Found)
	assert.Equal(t, "café", content[m.Start:m.End])
}

func TestFuzzyFindMiss(t *testing.T) {
	m := fuzzyFind("abc", "xyz")
	assert.False(t, m.Found)

	m = fuzzyFind("short", "much longer needle")
	assert.False(t, m.Found)
}

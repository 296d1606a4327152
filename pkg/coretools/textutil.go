package coretools

import (
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// fuzzyRunes maps typographic look-alikes (smart quotes, dashes,
// exotic spaces) onto their ASCII equivalents for matching.
var fuzzyRunes = map[rune]rune{
	'‘': '\'', // left single quote
	'’': '\'', // right single quote
	'‚': '\'',
	'‛': '\'',
	'“': '"', // left double quote
	'”': '"', // right double quote
	'„': '"',
	'‟': '"',

	'‐': '-', // hyphen
	'‑': '-',
	'‒': '-',
	'–': '-', // en dash
	'—': '-', // em dash
	'―': '-',
	'−': '-', // minus sign

	' ': ' ', // no-break space
	' ': ' ',
	' ': ' ',
	' ': ' ',
	' ': ' ',
	' ': ' ',
	' ': ' ',
	' ': ' ',
	' ': ' ',
	' ': ' ',
	' ': ' ',
	' ': ' ',
	'　': ' ',
}

const bomRune = '\uFEFF'

// stripBOM splits off a leading UTF-8 BOM if present.
func stripBOM(s string) (bom, rest string) {
	if strings.HasPrefix(s, string(bomRune)) {
		return string(bomRune), s[len(string(bomRune)):]
	}
	return "", s
}

// detectLineEnding returns the dominant line ending, defaulting to LF.
func detectLineEnding(s string) string {
	crlf := strings.Count(s, "\r\n")
	lf := strings.Count(s, "\n") - crlf
	if crlf > lf {
		return "\r\n"
	}
	return "\n"
}

func normalizeToLF(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

func restoreLineEndings(s, ending string) string {
	if ending == "\r\n" {
		return strings.ReplaceAll(s, "\n", "\r\n")
	}
	return s
}

func mapFuzzyRune(r rune) rune {
	if mapped, ok := fuzzyRunes[r]; ok {
		return mapped
	}
	return r
}

// normalizeFuzzy canonicalizes text for containment checks: NFC form
// plus the look-alike rune table.
func normalizeFuzzy(s string) string {
	return strings.Map(mapFuzzyRune, norm.NFC.String(s))
}

// fuzzyMatch locates needle text within content. Start and End are
// byte offsets into the original content.
type fuzzyMatch struct {
	Found bool
	Start int
	End   int
	Fuzzy bool
}

// fuzzyFind tries an exact match first, then retries with both sides
// NFC-normalized and run through the rune table. NFC can merge a base
// letter with combining marks, so the normalized view is matched per
// segment and the hit mapped back to byte offsets in the original.
func fuzzyFind(content, needle string) fuzzyMatch {
	if needle == "" {
		return fuzzyMatch{Start: -1}
	}
	if idx := strings.Index(content, needle); idx >= 0 {
		return fuzzyMatch{Found: true, Start: idx, End: idx + len(needle)}
	}

	normNeedle := []rune(normalizeFuzzy(needle))
	normContent, starts, ends := normalizeWithOffsets(content)
	if len(normNeedle) == 0 || len(normNeedle) > len(normContent) {
		return fuzzyMatch{Start: -1}
	}

	for i := 0; i+len(normNeedle) <= len(normContent); i++ {
		if !slices.Equal(normContent[i:i+len(normNeedle)], normNeedle) {
			continue
		}
		return fuzzyMatch{
			Found: true,
			Start: starts[i],
			End:   ends[i+len(normNeedle)-1],
			Fuzzy: true,
		}
	}
	return fuzzyMatch{Start: -1}
}

// normalizeWithOffsets returns the NFC + rune-table view of s as runes
// together with each rune's originating byte range in s. Runes emitted
// from one normalization segment share that segment's range.
func normalizeWithOffsets(s string) (runes []rune, starts, ends []int) {
	var it norm.Iter
	it.InitString(norm.NFC, s)
	for !it.Done() {
		segStart := it.Pos()
		seg := it.Next()
		segEnd := it.Pos()
		for _, r := range string(seg) {
			runes = append(runes, mapFuzzyRune(r))
			starts = append(starts, segStart)
			ends = append(ends, segEnd)
		}
	}
	return runes, starts, ends
}

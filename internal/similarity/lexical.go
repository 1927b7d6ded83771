package similarity

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Lexical scores texts by the word-level longest common subsequence ratio
// 2·LCS / (|a| + |b|) over lower-cased word tokens.
type Lexical struct {
	maxRunes int
}

// NewLexical creates a lexical scorer. A non-positive maxRunes selects DefaultMaxRunes.
func NewLexical(maxRunes int) *Lexical {
	return &Lexical{maxRunes: budget(maxRunes)}
}

// Similarity implements Scorer.
func (l *Lexical) Similarity(_ context.Context, a, b string) float64 {
	a, b = truncate(a, l.maxRunes), truncate(b, l.maxRunes)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	wa, wb := words(a), words(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}

	// Averaging both directions keeps the score symmetric even if the diff
	// picks a different alignment for swapped inputs.
	lcs := float64(commonWords(wa, wb)+commonWords(wb, wa)) / 2
	return clamp01(2 * lcs / float64(len(wa)+len(wb)))
}

func words(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

// commonWords encodes each word as a single rune and counts the runes the
// diff reports as equal, which is the length of the word-level LCS.
func commonWords(a, b []string) int {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0

	ra, rb, _ := dmp.DiffLinesToRunes(strings.Join(a, "\n")+"\n", strings.Join(b, "\n")+"\n")
	diffs := dmp.DiffMainRunes(ra, rb, false)

	var n int
	for _, d := range diffs {
		if d.Type == diffmatchpatch.DiffEqual {
			n += utf8.RuneCountInString(d.Text)
		}
	}
	return n
}

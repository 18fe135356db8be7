// Package ingest implements the ingestion pipeline: text normalization and
// chunking, entity/relation resolution and upsert, and per-artifact job
// enqueueing. The chunker is a recursive character splitter: normalize
// first, then split on an ordered separator list, then merge with overlap.
package ingest

import (
	"regexp"
	"strings"
)

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 200
)

// defaultSeparators favors markdown/text structure, tried in order from
// most- to least-specific.
var defaultSeparators = []string{
	"\n\n## ",
	"\n\n### ",
	"\n\n",
	"\n",
	". ",
	" ",
	"",
}

var collapseNewlines = regexp.MustCompile(`\n{3,}`)
var collapseSpaces = regexp.MustCompile(`[ \t]+`)

// Chunker splits normalized text into overlapping chunks.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
}

// NewChunker builds a Chunker with the standard defaults.
func NewChunker() *Chunker {
	return &Chunker{
		chunkSize:    defaultChunkSize,
		chunkOverlap: defaultChunkOverlap,
		separators:   defaultSeparators,
	}
}

// NormalizeText collapses runs of 3+ newlines to 2, collapses runs of
// spaces/tabs to one space, rstrips every line, and trims leading and
// trailing blank lines. Idempotent: normalizing twice is a no-op.
func NormalizeText(text string) string {
	text = collapseSpaces.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	text = collapseNewlines.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(text)
}

// SplitText normalizes text and recursively splits it into chunks no
// larger than chunkSize, with chunkOverlap characters of context
// repeated between consecutive chunks. Empty/whitespace-only fragments
// are dropped.
func (c *Chunker) SplitText(text string) []string {
	normalized := NormalizeText(text)
	if normalized == "" {
		return nil
	}
	pieces := c.splitRecursive(normalized, c.separators)

	out := make([]string, 0, len(pieces))
	for _, p := range pieces {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitRecursive implements RecursiveCharacterTextSplitter: pick the
// first separator present in text, split on it, recurse into any
// resulting piece still longer than chunkSize using the remaining
// separators, then merge adjacent short pieces back together up to
// chunkSize with overlap.
func (c *Chunker) splitRecursive(text string, separators []string) []string {
	if len(text) <= c.chunkSize {
		return []string{text}
	}

	sep := separators[len(separators)-1]
	var remaining []string
	for i, s := range separators {
		if s == "" {
			sep = s
			remaining = separators[i+1:]
			break
		}
		if strings.Contains(text, s) {
			sep = s
			remaining = separators[i+1:]
			break
		}
	}

	var splits []string
	if sep == "" {
		splits = splitByRune(text)
	} else {
		splits = strings.Split(text, sep)
	}

	var good []string
	for _, s := range splits {
		if len(remaining) > 0 && len(s) > c.chunkSize {
			good = append(good, c.splitRecursive(s, remaining)...)
		} else {
			good = append(good, s)
		}
	}

	return c.mergeSplits(good, sep)
}

func splitByRune(text string) []string {
	runes := []rune(text)
	out := make([]string, len(runes))
	for i, r := range runes {
		out[i] = string(r)
	}
	return out
}

// mergeSplits greedily packs consecutive splits (rejoined with sep) into
// chunks up to chunkSize, carrying the trailing chunkOverlap characters
// of one chunk into the start of the next.
func (c *Chunker) mergeSplits(splits []string, sep string) []string {
	var chunks []string
	var current []string
	currentLen := 0

	addLen := func(s string) int {
		l := len(s)
		if len(current) > 0 {
			l += len(sep)
		}
		return l
	}

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, strings.Join(current, sep))
	}

	for _, s := range splits {
		l := addLen(s)
		if currentLen+l > c.chunkSize && len(current) > 0 {
			flush()
			current, _ = overlapTail(current, sep, c.chunkOverlap)
			for len(current) > 0 && joinedLen(current, sep)+len(sep)+len(s) > c.chunkSize {
				current = current[1:]
			}
			currentLen = joinedLen(current, sep)
		}
		current = append(current, s)
		currentLen += addLen(s)
	}
	flush()

	return chunks
}

func joinedLen(parts []string, sep string) int {
	if len(parts) == 0 {
		return 0
	}
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	total += len(sep) * (len(parts) - 1)
	return total
}

// overlapTail keeps trailing elements of current whose joined length is
// <= overlap, to seed the next chunk with trailing context.
func overlapTail(current []string, sep string, overlap int) ([]string, int) {
	if overlap <= 0 {
		return nil, 0
	}
	var kept []string
	length := 0
	for i := len(current) - 1; i >= 0; i-- {
		add := len(current[i])
		if length > 0 {
			add += len(sep)
		}
		if length+add > overlap {
			break
		}
		kept = append([]string{current[i]}, kept...)
		length += add
	}
	return kept, length
}

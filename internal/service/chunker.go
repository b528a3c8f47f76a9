package service

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// Delimiter lines made of three or more dashes split a document into
	// independent sections.
	sectionPattern = regexp.MustCompile(`(?m)^\s*-{3,}\s*$`)

	// One or more ATX heading lines at the very start of a fragment.
	headerPrefixPattern = regexp.MustCompile(`^(?:#+[ \t]+[^\n]*(?:\n|$))+`)

	// headingPatterns[level-1] matches an exact-level ATX heading line.
	headingPatterns [6]*regexp.Regexp
)

func init() {
	for level := 1; level <= 6; level++ {
		headingPatterns[level-1] = regexp.MustCompile(
			fmt.Sprintf(`(?m)^#{%d}[ \t]+[^\n]*$`, level),
		)
	}
}

// Chunker splits markdown text into size-bounded chunks while preserving
// heading context.
//
// Pipeline:
//  1. Section split on `---` delimiter lines; each section is processed
//     independently.
//  2. Recursive ATX heading split, level 1 through 6. After each pass only
//     fragments still exceeding ChunkSize are forwarded to the next finer
//     level; a level with no headings is a pass-through. Heading lines stay
//     at the start of the fragment they open.
//  3. Fragments below MinSize are merged into a neighbor (top-down by
//     default, bottom-up when MergeReversed), but only if the merged result
//     stays within MaxSize.
//  4. Anything still above MaxSize goes through a fixed-size fallback
//     splitter with zero overlap. Leading heading lines are shared context:
//     they are prefixed to every produced piece and the splitter target is
//     reduced by the prefix length.
//
// Every returned chunk is at most MaxSize characters (runes).
type Chunker struct {
	maxSize       int
	chunkSize     int
	minSize       int
	mergeReversed bool
}

// NewChunker validates the size configuration and returns a Chunker.
// ChunkSize is the soft target, MaxSize the hard upper bound, MinSize the
// smallest acceptable fragment before merging.
func NewChunker(maxSize, chunkSize, minSize int, mergeReversed bool) (*Chunker, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("max size must be a positive integer")
	}
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be a positive integer")
	}
	if minSize < 0 {
		return nil, fmt.Errorf("min size must be >= 0")
	}
	if minSize > maxSize {
		return nil, fmt.Errorf("min size cannot exceed max size")
	}
	if chunkSize > maxSize {
		return nil, fmt.Errorf("chunk size cannot exceed max size")
	}
	return &Chunker{
		maxSize:       maxSize,
		chunkSize:     chunkSize,
		minSize:       minSize,
		mergeReversed: mergeReversed,
	}, nil
}

// Chunk returns chunks of text, each at most MaxSize runes long.
func (c *Chunker) Chunk(text string) []string {
	var chunks []string
	for _, section := range c.splitBySection(text) {
		if runeLen(section) <= c.chunkSize {
			chunks = append(chunks, section)
		} else {
			chunks = append(chunks, c.splitRecursively(section)...)
		}
	}
	return chunks
}

func (c *Chunker) splitBySection(text string) []string {
	parts := sectionPattern.Split(text, -1)
	sections := make([]string, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			sections = append(sections, part)
		}
	}
	return sections
}

// splitRecursively splits text on headings, coarse to fine, until fragments
// fit ChunkSize or all six levels are exhausted.
func (c *Chunker) splitRecursively(text string) []string {
	oversized := []string{text}
	var chunks []string

	for level := 1; level <= 6; level++ {
		var nextRound []string
		for _, piece := range oversized {
			if runeLen(piece) <= c.chunkSize {
				chunks = append(chunks, piece)
				continue
			}

			subParts := c.splitByHeadingLevel(piece, level)
			// No headings of this level: keep the piece for the next pass.
			if len(subParts) == 1 {
				nextRound = append(nextRound, piece)
				continue
			}

			for _, sub := range subParts {
				if runeLen(sub) <= c.chunkSize {
					chunks = append(chunks, sub)
				} else {
					nextRound = append(nextRound, sub)
				}
			}
		}

		oversized = nextRound
		if len(oversized) == 0 {
			break
		}
	}

	// Glue small heading-split fragments before the fallback pass.
	chunks = c.mergeSmallChunks(chunks)

	for _, remainder := range oversized {
		if runeLen(remainder) > c.maxSize {
			chunks = append(chunks, c.fallbackSplitWithHeaders(remainder)...)
		} else {
			chunks = append(chunks, remainder)
		}
	}
	return chunks
}

// splitByHeadingLevel slices text at each exact-level heading, keeping the
// heading line at the start of its slice. Pre-heading content, if any,
// precedes the first slice. A single-element result means no headings of
// this level were found.
func (c *Chunker) splitByHeadingLevel(text string, level int) []string {
	matches := headingPatterns[level-1].FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return []string{text}
	}

	chunks := make([]string, 0, len(matches)+1)
	for i, match := range matches {
		start := match[0]
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		chunks = append(chunks, text[start:end])
	}

	if preamble := strings.Trim(text[:matches[0][0]], "\n"); preamble != "" {
		chunks = append([]string{preamble}, chunks...)
	}
	return chunks
}

// mergeSmallChunks merges adjacent fragments shorter than MinSize into a
// neighbor. A merge happens only if the result stays within MaxSize;
// otherwise the small fragment is left alone.
func (c *Chunker) mergeSmallChunks(chunks []string) []string {
	if c.minSize == 0 || len(chunks) == 0 {
		return chunks
	}

	merged := make([]string, len(chunks))
	copy(merged, chunks)

	if c.mergeReversed { // bottom-up
		i := len(merged) - 1
		for i > 0 {
			if runeLen(merged[i]) < c.minSize {
				candidate := merged[i-1] + merged[i]
				if runeLen(candidate) <= c.maxSize {
					merged[i-1] = candidate
					merged = append(merged[:i], merged[i+1:]...)
					if i > len(merged)-1 {
						i = len(merged) - 1
					}
					continue
				}
			}
			i--
		}
	} else { // top-down
		i := 0
		for i < len(merged)-1 {
			if runeLen(merged[i]) < c.minSize {
				candidate := merged[i] + merged[i+1]
				if runeLen(candidate) <= c.maxSize {
					merged[i] = candidate
					merged = append(merged[:i+1], merged[i+2:]...)
					// Re-evaluate the merged chunk before advancing.
					continue
				}
			}
			i++
		}
	}
	return merged
}

// fallbackSplitWithHeaders force-splits an oversize fragment at a fixed
// target size with zero overlap. Leading heading lines are prefixed to
// every produced piece, with the target reduced by the prefix length so
// the MaxSize bound still holds.
func (c *Chunker) fallbackSplitWithHeaders(text string) []string {
	headerPrefix := headerPrefixPattern.FindString(text)

	prefixLen := runeLen(headerPrefix)
	effectiveSize := c.chunkSize - prefixLen
	if headerPrefix == "" {
		effectiveSize = c.chunkSize
	}

	// A heading block as large as the target cannot be shared as a prefix
	// without breaking the size bound; split the whole fragment instead.
	if effectiveSize < 1 {
		return fixedSizeSplit(text, c.chunkSize)
	}

	body := text[len(headerPrefix):]
	bodyChunks := fixedSizeSplit(body, effectiveSize)

	if headerPrefix == "" {
		return bodyChunks
	}

	out := make([]string, 0, len(bodyChunks))
	for _, chunk := range bodyChunks {
		out = append(out, headerPrefix+chunk)
	}
	return out
}

// fixedSizeSplit cuts text into pieces of at most size runes, preferring to
// cut at whitespace, with zero overlap. Pieces are trimmed; empty pieces
// are dropped.
func fixedSizeSplit(text string, size int) []string {
	clean := strings.TrimSpace(text)
	if clean == "" {
		return nil
	}
	runes := []rune(clean)
	if len(runes) <= size {
		return []string{clean}
	}

	chunks := make([]string, 0, len(runes)/size+1)
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			end = len(runes)
		} else {
			cut := end
			for i := end; i > start+1; i-- {
				if unicode.IsSpace(runes[i-1]) {
					cut = i
					break
				}
			}
			end = cut
		}

		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		start = end
	}
	return chunks
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

package service

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChunker_Validation(t *testing.T) {
	tests := []struct {
		name      string
		maxSize   int
		chunkSize int
		minSize   int
	}{
		{"zero max size", 0, 10, 5},
		{"zero chunk size", 100, 0, 5},
		{"negative min size", 100, 50, -1},
		{"min size above max size", 100, 50, 200},
		{"chunk size above max size", 100, 200, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewChunker(tt.maxSize, tt.chunkSize, tt.minSize, false)
			assert.Error(t, err)
		})
	}

	c, err := NewChunker(100, 50, 10, false)
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestChunker_ShortTextPassesThrough(t *testing.T) {
	c, err := NewChunker(100, 50, 0, false)
	require.NoError(t, err)

	text := "A short paragraph that fits in one chunk."
	chunks := c.Chunk(text)

	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0])
}

func TestChunker_EmptyText(t *testing.T) {
	c, err := NewChunker(100, 50, 0, false)
	require.NoError(t, err)

	assert.Empty(t, c.Chunk(""))
}

func TestChunker_SectionDelimiterSplits(t *testing.T) {
	c, err := NewChunker(100, 50, 0, false)
	require.NoError(t, err)

	text := "first section\n---\nsecond section\n----\nthird section"
	chunks := c.Chunk(text)

	require.Len(t, chunks, 3)
	assert.Contains(t, chunks[0], "first section")
	assert.Contains(t, chunks[1], "second section")
	assert.Contains(t, chunks[2], "third section")
}

func TestChunker_HeadingSplitKeepsHeadingWithBody(t *testing.T) {
	c, err := NewChunker(100, 60, 0, false)
	require.NoError(t, err)

	bodyA := strings.Repeat("alpha ", 8)
	bodyB := strings.Repeat("beta ", 8)
	text := "# Title A\n" + bodyA + "\n# Title B\n" + bodyB

	chunks := c.Chunk(text)

	require.Len(t, chunks, 2)
	assert.True(t, strings.HasPrefix(chunks[0], "# Title A"))
	assert.True(t, strings.HasPrefix(chunks[1], "# Title B"))
	assert.Equal(t, text, chunks[0]+chunks[1])
}

func TestChunker_PreambleBeforeFirstHeadingIsKept(t *testing.T) {
	c, err := NewChunker(100, 60, 0, false)
	require.NoError(t, err)

	text := "intro paragraph before any heading\n" +
		"# Title A\n" + strings.Repeat("alpha ", 8) + "\n" +
		"# Title B\n" + strings.Repeat("beta ", 8)

	chunks := c.Chunk(text)

	require.Len(t, chunks, 3)
	assert.Equal(t, "intro paragraph before any heading", chunks[0])
	assert.True(t, strings.HasPrefix(chunks[1], "# Title A"))
	assert.True(t, strings.HasPrefix(chunks[2], "# Title B"))
}

func TestChunker_RecursesToFinerHeadingLevels(t *testing.T) {
	c, err := NewChunker(200, 60, 0, false)
	require.NoError(t, err)

	// One level-1 section whose body only divides at level 2.
	text := "# Top\n" +
		"## Part One\n" + strings.Repeat("one ", 10) + "\n" +
		"## Part Two\n" + strings.Repeat("two ", 10)

	chunks := c.Chunk(text)

	require.Len(t, chunks, 3)
	assert.Equal(t, "# Top", chunks[0])
	assert.True(t, strings.HasPrefix(chunks[1], "## Part One"))
	assert.True(t, strings.HasPrefix(chunks[2], "## Part Two"))
}

func TestChunker_MergesSmallFragments(t *testing.T) {
	for _, reversed := range []bool{false, true} {
		t.Run(fmt.Sprintf("reversed=%v", reversed), func(t *testing.T) {
			c, err := NewChunker(200, 50, 20, reversed)
			require.NoError(t, err)

			text := "# A\nshort\n# B\nbrief\n# C\n" + strings.Repeat("word ", 8)
			chunks := c.Chunk(text)

			// The two tiny heading fragments end up merged.
			require.Len(t, chunks, 2)
			assert.Contains(t, chunks[0], "# A")
			assert.Contains(t, chunks[0], "# B")
			for _, chunk := range chunks {
				assert.LessOrEqual(t, runeLen(chunk), 200)
			}
		})
	}
}

func TestChunker_MergeNeverExceedsMaxSize(t *testing.T) {
	// Fragments too large to combine stay separate even below min size.
	c, err := NewChunker(60, 55, 50, false)
	require.NoError(t, err)

	text := "# A\n" + strings.Repeat("a", 36) + "\n# B\n" + strings.Repeat("b", 36) + "\n# C\n" + strings.Repeat("c", 50)
	chunks := c.Chunk(text)

	for _, chunk := range chunks {
		assert.LessOrEqual(t, runeLen(chunk), 60)
	}
	assert.GreaterOrEqual(t, len(chunks), 3)
}

func TestChunker_FallbackCarriesHeadingPrefix(t *testing.T) {
	c, err := NewChunker(50, 30, 0, false)
	require.NoError(t, err)

	text := "## Guide\n" + strings.Repeat("word ", 40)
	chunks := c.Chunk(text)

	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.True(t, strings.HasPrefix(chunk, "## Guide\n"), "chunk %q misses heading prefix", chunk)
		assert.LessOrEqual(t, runeLen(chunk), 30)
	}
}

func TestChunker_FallbackWithoutHeadings(t *testing.T) {
	c, err := NewChunker(40, 25, 0, false)
	require.NoError(t, err)

	text := strings.Repeat("lorem ipsum ", 20)
	chunks := c.Chunk(text)

	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, runeLen(chunk), 25)
		assert.NotEmpty(t, strings.TrimSpace(chunk))
	}
}

func TestChunker_FallbackCountsRunesNotBytes(t *testing.T) {
	c, err := NewChunker(30, 20, 0, false)
	require.NoError(t, err)

	text := strings.Repeat("é", 100)
	chunks := c.Chunk(text)

	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, runeLen(chunk), 20)
	}
}

func TestChunker_OversizedHeadingBlockStillBounded(t *testing.T) {
	// A heading block longer than the chunk target cannot be used as a
	// shared prefix; the fragment is split whole instead.
	c, err := NewChunker(40, 20, 0, false)
	require.NoError(t, err)

	text := "# " + strings.Repeat("x", 30) + "\n" + strings.Repeat("body ", 20)
	chunks := c.Chunk(text)

	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, runeLen(chunk), 40)
	}
}

func TestChunker_LargeDocumentRespectsBounds(t *testing.T) {
	var sb strings.Builder
	for s := 1; s <= 8; s++ {
		fmt.Fprintf(&sb, "# Section %d\n", s)
		for p := 1; p <= 4; p++ {
			fmt.Fprintf(&sb, "## Topic %d.%d\n", s, p)
			sb.WriteString(strings.Repeat(fmt.Sprintf("sentence %d-%d covering policy details. ", s, p), 20))
			sb.WriteString("\n")
		}
		sb.WriteString("\n---\n")
	}
	text := sb.String()
	require.Greater(t, runeLen(text), 20000)

	configs := []struct {
		maxSize, chunkSize, minSize int
	}{
		{7000, 5000, 3000},
		{1024, 512, 256},
	}
	for _, cfg := range configs {
		t.Run(fmt.Sprintf("max=%d", cfg.maxSize), func(t *testing.T) {
			c, err := NewChunker(cfg.maxSize, cfg.chunkSize, cfg.minSize, false)
			require.NoError(t, err)

			chunks := c.Chunk(text)
			require.GreaterOrEqual(t, len(chunks), 3)
			for _, chunk := range chunks {
				assert.LessOrEqual(t, runeLen(chunk), cfg.maxSize)
				assert.NotEmpty(t, strings.TrimSpace(chunk))
			}
		})
	}
}

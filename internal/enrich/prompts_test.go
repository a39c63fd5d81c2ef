package enrich

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("  abc  ", 10))
	assert.Equal(t, "abc", truncate("abc", 0), "no cap when max is zero")
	assert.Equal(t, "ab", truncate("abcd", 2))
}

func TestTruncate_NeverSplitsRunes(t *testing.T) {
	s := strings.Repeat("é", 10)

	for max := 1; max < len(s); max++ {
		cut := truncate(s, max)
		assert.True(t, utf8.ValidString(cut), "max=%d", max)
		assert.LessOrEqual(t, len(cut), max)
	}
	assert.Equal(t, strings.Repeat("é", 2), truncate(s, 5))
}

package textutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncateRunes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "héll", TruncateRunes("héllo", 4))
	assert.Equal(t, "日本", TruncateRunes("日本語", 2))
	assert.Equal(t, "abc", TruncateRunes("abc", 3))
	assert.Equal(t, "abc", TruncateRunes("abc", 10))
	assert.Equal(t, "abc", TruncateRunes("abc", 0))
	assert.Equal(t, "", TruncateRunes("", 5))
}

func TestCollapseWhitespace(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a b c", CollapseWhitespace("  a\n\tb   c \r\n"))
	assert.Equal(t, "", CollapseWhitespace(" \n "))
}

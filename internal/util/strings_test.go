package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncateHead(t *testing.T) {
	assert.Equal(t, "short", TruncateHead("short", 10))
	assert.Equal(t, "abc"+TruncationMarker, TruncateHead("abcdef", 3))

	long := strings.Repeat("x", 2500)
	assert.Len(t, TruncateHead(long, 2000), 2000+len(TruncationMarker))
}

func TestTruncateTail(t *testing.T) {
	assert.Equal(t, "short", TruncateTail("short", 10))
	assert.Equal(t, "def"+TruncationMarker, TruncateTail("abcdef", 3))
}

func TestPtr(t *testing.T) {
	p := Ptr(42)
	assert.Equal(t, 42, *p)
	*p = 7
	assert.Equal(t, 7, *Ptr(*p))
}

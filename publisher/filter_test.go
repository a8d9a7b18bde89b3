package publisher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobFilterEmptyPatterns(t *testing.T) {
	filter, err := NewGlobFilter(nil)
	require.NoError(t, err)

	assert.True(t, filter.Match("chat"))
	assert.True(t, filter.Match(""))
}

func TestGlobFilterPatterns(t *testing.T) {
	filter, err := NewGlobFilter([]string{"chat", "ops-*"})
	require.NoError(t, err)

	assert.True(t, filter.Match("chat"))
	assert.True(t, filter.Match("ops-east"))
	assert.False(t, filter.Match("chatter"))
	assert.False(t, filter.Match("dev-ops"))
}

func TestGlobFilterInvalidPattern(t *testing.T) {
	_, err := NewGlobFilter([]string{"[unclosed"})
	assert.Error(t, err)
}

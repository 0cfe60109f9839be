package subscriber

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicFilterEmptyPatterns(t *testing.T) {
	// Empty patterns should match everything
	filter, err := NewTopicFilter(nil)
	require.NoError(t, err)

	assert.True(t, filter.Match("people/count"))
	assert.True(t, filter.Match(""))
}

func TestTopicFilterExactMatch(t *testing.T) {
	filter, err := NewTopicFilter([]string{"people/count"})
	require.NoError(t, err)

	assert.True(t, filter.Match("people/count"))
	assert.False(t, filter.Match("people/counts"))
	assert.False(t, filter.Match("cars/count"))
}

func TestTopicFilterWildcardLevels(t *testing.T) {
	filter, err := NewTopicFilter([]string{"people/*"})
	require.NoError(t, err)

	assert.True(t, filter.Match("people/count"))
	assert.True(t, filter.Match("people/lobby"))
	assert.False(t, filter.Match("people/lobby/count"), "* should not cross levels")

	filter, err = NewTopicFilter([]string{"people/**"})
	require.NoError(t, err)
	assert.True(t, filter.Match("people/lobby/count"))
}

func TestTopicFilterMultiplePatterns(t *testing.T) {
	filter, err := NewTopicFilter([]string{"lobby/*", "{east,west}/count"})
	require.NoError(t, err)

	assert.True(t, filter.Match("lobby/count"))
	assert.True(t, filter.Match("east/count"))
	assert.True(t, filter.Match("west/count"))
	assert.False(t, filter.Match("north/count"))
}

func TestTopicFilterInvalidPattern(t *testing.T) {
	_, err := NewTopicFilter([]string{"people/["})
	assert.Error(t, err)
}

package pathfilter_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abuss/syncpair/internal/pathfilter"
)

func TestAlways_AdmitsEverything(t *testing.T) {
	assert.True(t, pathfilter.Always("anything"))
	assert.True(t, pathfilter.Always(""))
}

func TestCompile_NoPatterns_BehavesLikeAlways(t *testing.T) {
	f, err := pathfilter.Compile(nil)
	require.NoError(t, err)
	assert.True(t, f("notes/a.md"))
}

func TestCompile_ExcludesMatchingPaths(t *testing.T) {
	f, err := pathfilter.Compile([]string{"*.tmp", "cache/**"})
	require.NoError(t, err)

	assert.False(t, f("draft.tmp"))
	assert.False(t, f("cache/entry.bin"))
	assert.True(t, f("notes/a.md"))
}

func TestCompile_InvalidPatternErrors(t *testing.T) {
	_, err := pathfilter.Compile([]string{"["})
	assert.Error(t, err)
}

func TestMergePatterns_UnionsAndDedupsPreservingOrder(t *testing.T) {
	out := pathfilter.MergePatterns([]string{"*.tmp", "*.log"}, []string{"*.log", "*.bak"})
	assert.Equal(t, []string{"*.tmp", "*.log", "*.bak"}, out)
}

func TestMergePatterns_IgnoresEmptyEntries(t *testing.T) {
	out := pathfilter.MergePatterns([]string{"", "*.tmp"}, []string{""})
	assert.Equal(t, []string{"*.tmp"}, out)
}

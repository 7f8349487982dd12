package aggregator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNameTrackerPrefixing(t *testing.T) {
	nt := NewNameTracker("x")

	exposed := nt.ExposedToolName("github", "list_issues")
	assert.Equal(t, "x_github_list_issues", exposed)

	upstream, original, ok := nt.ResolveToolName(exposed)
	require.True(t, ok)
	assert.Equal(t, "github", upstream)
	assert.Equal(t, "list_issues", original)
}

func TestNameTrackerNoDoublePrefix(t *testing.T) {
	nt := NewNameTracker("x")

	// A tool already carrying its upstream prefix is not prefixed twice.
	assert.Equal(t, "x_github_list_issues", nt.ExposedToolName("github", "github_list_issues"))
}

func TestNameTrackerDefaultPrefix(t *testing.T) {
	nt := NewNameTracker("")
	assert.Equal(t, "x_srv_tool", nt.ExposedToolName("srv", "tool"))
}

func TestNameTrackerUnknownName(t *testing.T) {
	nt := NewNameTracker("x")
	_, _, ok := nt.ResolveToolName("x_unknown_tool")
	assert.False(t, ok)
}

func TestNameTrackerForgetUpstream(t *testing.T) {
	nt := NewNameTracker("x")

	a := nt.ExposedToolName("a", "tool")
	b := nt.ExposedToolName("b", "tool")

	nt.ForgetUpstream("a")

	_, _, ok := nt.ResolveToolName(a)
	assert.False(t, ok)
	_, _, ok = nt.ResolveToolName(b)
	assert.True(t, ok)
}

func TestDenylist(t *testing.T) {
	assert.True(t, isDestructiveTool("delete_file"))
	assert.True(t, isDestructiveTool("execute_command"))
	assert.False(t, isDestructiveTool("list_issues"))
	assert.False(t, isDestructiveTool(""))
}

package runloop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModeIsEmptyWithNoItems(t *testing.T) {
	m := newMode("m")
	lookup := func(string) *Mode { return nil }
	assert.True(t, m.isEmpty(lookup))
}

func TestModeIsEmptyFalseWithSource(t *testing.T) {
	m := newMode("m")
	m.addSource(NewManualSource(0, func() {}))
	lookup := func(string) *Mode { return nil }
	assert.False(t, m.isEmpty(lookup))
}

func TestModeIsEmptyConsidersSubModes(t *testing.T) {
	parent := newMode("parent")
	child := newMode("child")
	parent.addSubMode("child")

	lookup := func(name string) *Mode {
		if name == "child" {
			return child
		}
		return nil
	}

	require.True(t, parent.isEmpty(lookup), "an empty sub-mode must not make the parent non-empty")

	child.addSource(NewManualSource(0, func() {}))
	assert.False(t, parent.isEmpty(lookup), "a non-empty sub-mode must make the parent non-empty")
}

func TestModeIsEmptyIgnoresUnresolvedSubMode(t *testing.T) {
	parent := newMode("parent")
	parent.addSubMode("ghost")
	lookup := func(string) *Mode { return nil }
	assert.True(t, parent.isEmpty(lookup), "a sub-mode name with no backing Mode must be treated as absent, not non-empty")
}

func TestModeAddSubModePreservesOrderAndDedups(t *testing.T) {
	m := newMode("m")
	m.addSubMode("a")
	m.addSubMode("b")
	m.addSubMode("a")

	assert.Equal(t, []string{"a", "b"}, m.subModeNames())
}

func TestModeStopFlagIsConsumedOnce(t *testing.T) {
	m := newMode("m")
	assert.False(t, m.takeStop())

	m.setStop(true)
	assert.True(t, m.takeStop())
	assert.False(t, m.takeStop(), "takeStop must clear the flag")
}

func TestSnapshotTreeVisitsParentAndSubModes(t *testing.T) {
	parent := newMode("parent")
	childA := newMode("childA")
	childB := newMode("childB")
	parent.addSubMode("childA")
	parent.addSubMode("childB")

	lookup := func(name string) *Mode {
		switch name {
		case "childA":
			return childA
		case "childB":
			return childB
		default:
			return nil
		}
	}

	var visited []string
	snapshotTree(parent, lookup, func(m *Mode) { visited = append(visited, m.name) })

	assert.Equal(t, []string{"parent", "childA", "childB"}, visited)
}

func TestModeRemoveAndContains(t *testing.T) {
	m := newMode("m")
	s := NewManualSource(0, func() {})
	m.addSource(s)
	require.True(t, m.containsSource(s))

	m.removeSource(s)
	assert.False(t, m.containsSource(s))
}

package memtracker

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConsumeReleaseBubbles(t *testing.T) {
	root := NewRootTracker("root", Unlimited)
	child := root.CreateChild("mrs-1", Unlimited)
	grandchild := child.CreateChild("arena", Unlimited)

	require.True(t, grandchild.Consume(100))
	require.EqualValues(t, 100, grandchild.Consumption())
	require.EqualValues(t, 100, child.Consumption())
	require.EqualValues(t, 100, root.Consumption())

	grandchild.Release(40)
	require.EqualValues(t, 60, grandchild.Consumption())
	require.EqualValues(t, 60, child.Consumption())
	require.EqualValues(t, 60, root.Consumption())
}

func TestLimitEnforcedAcrossHierarchy(t *testing.T) {
	root := NewRootTracker("root", 100)
	child := root.CreateChild("mrs-1", Unlimited)

	require.True(t, child.Consume(80))
	require.False(t, child.Consume(30))
	require.EqualValues(t, 80, child.Consumption())
	require.EqualValues(t, 80, root.Consumption())
}

func TestChildLimitIndependentOfParent(t *testing.T) {
	root := NewRootTracker("root", Unlimited)
	child := root.CreateChild("mrs-1", 10)

	require.True(t, child.Consume(10))
	require.False(t, child.Consume(1))
}

func TestCloseDetachesFromParent(t *testing.T) {
	root := NewRootTracker("root", Unlimited)
	child := root.CreateChild("mrs-1", Unlimited)
	child.Consume(5)
	child.Release(5)
	child.Close()
	require.NotContains(t, root.children, "mrs-1")
}

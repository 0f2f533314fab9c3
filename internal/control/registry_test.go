package control

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSnapshotOfUnregisteredIDIsZeroValue(t *testing.T) {
	r := NewRegistry()
	require.Equal(t, Flags{}, r.Snapshot("missing"))
}

func TestPauseStopCancelAndRemove(t *testing.T) {
	r := NewRegistry()
	r.Start("op-1")

	r.Pause("op-1")
	require.Equal(t, Flags{Paused: true}, r.Snapshot("op-1"))

	r.Stop("op-1")
	require.Equal(t, Flags{Paused: true, Stopped: true}, r.Snapshot("op-1"))

	r.Cancel("op-1")
	require.Equal(t, Flags{Paused: true, Stopped: true, Canceled: true}, r.Snapshot("op-1"))

	r.Remove("op-1")
	require.Equal(t, Flags{}, r.Snapshot("op-1"))
}

func TestMutatingUnregisteredIDIsNoop(t *testing.T) {
	r := NewRegistry()
	r.Pause("ghost")
	r.Stop("ghost")
	r.Cancel("ghost")
	require.Equal(t, Flags{}, r.Snapshot("ghost"))
}

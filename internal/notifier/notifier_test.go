package notifier

import (
	"errors"
	"strings"
	"testing"

	"corekit/internal/transport"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestRegisterUpdateSnapshotCompleted(t *testing.T) {
	n := New(prometheus.NewRegistry(), transport.NewFake(), "cred", "chat")
	n.Register("op1", KindUpload, "movie.mkv", 9<<20, 3)
	n.Update("op1", 2, 66.6, nil)

	snap := n.Snapshot()
	require.True(t, strings.Contains(snap, "op1"))
	require.True(t, strings.Contains(snap, "movie.mkv"))

	n.Completed("op1", "/tmp/movie.mkv")
	require.Equal(t, "no active transfers", n.Snapshot())
}

func TestFailedRemovesOperation(t *testing.T) {
	n := New(nil, transport.NewFake(), "cred", "chat")
	n.Register("op2", KindDownload, "doc.pdf", 100, 1)
	n.Failed("op2", errors.New("boom"))
	require.Equal(t, "no active transfers", n.Snapshot())
}

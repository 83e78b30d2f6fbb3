package transfer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"fablink/internal/connector"
)

func TestGuardRegistersAndReleasesFiles(t *testing.T) {
	t.Parallel()

	g := NewGuard()
	require.NoError(t, g.acquire([]string{"b.g", "a.g"}, false))
	require.Equal(t, []string{"a.g", "b.g"}, g.FilesBeingChanged())

	g.release([]string{"b.g", "a.g"}, false)
	require.Empty(t, g.FilesBeingChanged())
	require.False(t, g.MultiTransferActive())
}

func TestGuardRejectsSecondMultiBatch(t *testing.T) {
	t.Parallel()

	g := NewGuard()
	require.NoError(t, g.acquire([]string{"a.g"}, true))
	require.True(t, g.MultiTransferActive())

	err := g.acquire([]string{"b.g"}, true)
	require.ErrorIs(t, err, ErrBatchInProgress)
	require.ErrorIs(t, err, connector.ErrOperationFailed)

	// The failed acquire must not have registered anything.
	require.Equal(t, []string{"a.g"}, g.FilesBeingChanged())

	// Single-file transfers are exempt from the exclusivity check.
	require.NoError(t, g.acquire([]string{"c.g"}, false))

	g.release([]string{"a.g"}, true)
	require.False(t, g.MultiTransferActive())
	require.NoError(t, g.acquire([]string{"d.g"}, true))
}

func TestGuardRefCountsOverlappingSingles(t *testing.T) {
	t.Parallel()

	g := NewGuard()
	require.NoError(t, g.acquire([]string{"a.g"}, false))
	require.NoError(t, g.acquire([]string{"a.g"}, false))

	g.release([]string{"a.g"}, false)
	require.Equal(t, []string{"a.g"}, g.FilesBeingChanged())

	g.release([]string{"a.g"}, false)
	require.Empty(t, g.FilesBeingChanged())
}

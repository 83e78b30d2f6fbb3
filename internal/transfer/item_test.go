package transfer

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fablink/internal/connector"
)

func TestItemStartTimeSetExactlyOnce(t *testing.T) {
	t.Parallel()

	it := newItem(File{Filename: "0:/gcodes/part.gcode", Content: []byte("data")})
	require.True(t, it.StartTime().IsZero())

	first := time.Unix(100, 0)
	it.ensureStarted(first)
	it.ensureStarted(time.Unix(200, 0))
	it.update(10, 100, 0, time.Unix(300, 0))

	require.Equal(t, first, it.StartTime())
}

func TestItemUpdateComputesProgressAndSpeed(t *testing.T) {
	t.Parallel()

	it := newItem(File{Filename: "0:/gcodes/part.gcode", Type: connector.TypeBlob})
	require.Equal(t, int64(-1), it.Size())
	require.Zero(t, it.Progress())

	start := time.Unix(1000, 0)
	it.ensureStarted(start)
	it.update(50, 100, 0, start.Add(2*time.Second))

	require.Equal(t, int64(100), it.Size())
	require.InDelta(t, 0.5, it.Progress(), 1e-9)
	require.InDelta(t, 25.0, it.Speed(), 1e-9) // 50 bytes over 2s

	it.update(100, 100, 0, start.Add(4*time.Second))
	require.InDelta(t, 1.0, it.Progress(), 1e-9)
	require.InDelta(t, 25.0, it.Speed(), 1e-9)
}

func TestItemUpdateKeepsProgressWhileTotalUnknown(t *testing.T) {
	t.Parallel()

	it := newItem(File{Filename: "0:/sys/config.g", Type: connector.TypeText})
	it.update(128, -1, 0, time.Unix(1000, 1))

	require.Equal(t, int64(-1), it.Size())
	require.Zero(t, it.Progress())
}

func TestItemRetryIsMonotonic(t *testing.T) {
	t.Parallel()

	it := newItem(File{Filename: "a.g"})
	now := time.Unix(1000, 0)
	it.update(10, 100, 2, now)
	it.update(20, 100, 1, now.Add(time.Second))

	require.Equal(t, 2, it.Retry())
}

func TestItemUploadSizeFromContent(t *testing.T) {
	t.Parallel()

	it := newItem(File{Filename: "a.g", Content: []byte("hello")})
	require.Equal(t, int64(5), it.Size())
}

func TestItemFailAndDone(t *testing.T) {
	t.Parallel()

	it := newItem(File{Filename: "a.g"})
	cause := errors.New("boom")
	it.fail(cause)
	require.ErrorIs(t, it.Err(), cause)

	it.markDone()
	require.InDelta(t, 1.0, it.Progress(), 1e-9)
}

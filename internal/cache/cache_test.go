package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fablink/internal/model"
)

func TestFileInfoCacheHitAndInvalidate(t *testing.T) {
	t.Parallel()

	c := NewFileInfoCache(time.Minute, 10)
	info := &model.ParsedFileInfo{FileName: "0:/gcodes/benchy.gcode", Size: 1234}
	c.Set(info.FileName, info)

	got, ok := c.Get(info.FileName)
	require.True(t, ok)
	require.Equal(t, info, got)

	c.Invalidate(info.FileName)
	_, ok = c.Get(info.FileName)
	require.False(t, ok)
}

func TestFileInfoCacheExpiry(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	c := NewFileInfoCache(30*time.Second, 10)
	c.now = func() time.Time { return now }

	c.Set("a.gcode", &model.ParsedFileInfo{FileName: "a.gcode"})

	now = now.Add(29 * time.Second)
	_, ok := c.Get("a.gcode")
	require.True(t, ok)

	now = now.Add(time.Second)
	_, ok = c.Get("a.gcode")
	require.False(t, ok)
	require.Zero(t, c.Len())
}

func TestFileInfoCacheEvictsOldestWhenFull(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	c := NewFileInfoCache(0, 3)
	c.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		c.Set(fmt.Sprintf("f%d.gcode", i), &model.ParsedFileInfo{})
		now = now.Add(time.Second)
	}
	c.Set("f3.gcode", &model.ParsedFileInfo{})

	_, ok := c.Get("f0.gcode")
	require.False(t, ok)
	_, ok = c.Get("f3.gcode")
	require.True(t, ok)
	require.Equal(t, 3, c.Len())
}

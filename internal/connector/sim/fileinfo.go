package sim

import (
	"context"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"

	"fablink/internal/model"
)

var (
	layerHeightPattern = regexp.MustCompile(`(?m)^;\s*layer_height\s*=\s*([0-9.]+)`)
	filamentPattern    = regexp.MustCompile(`(?m)^;\s*filament used \[mm\]\s*=\s*([0-9., ]+)`)
	printTimePattern   = regexp.MustCompile(`(?m)^;\s*estimated printing time[^=]*=\s*(.+)$`)
	generatedByPattern = regexp.MustCompile(`(?m)^;\s*generated (?:by|with)\s+(.+)$`)
	moveZPattern       = regexp.MustCompile(`(?m)^G[01]\s[^;]*\bZ([0-9.]+)`)
	timePartPattern    = regexp.MustCompile(`(\d+)\s*([dhms])`)
)

// GetFileInfo extracts job metadata from a file with a line scan over the
// common slicer comment formats. Real firmware does a lot more; this covers
// what the client displays.
func (d *Device) GetFileInfo(ctx context.Context, filename string) (*model.ParsedFileInfo, error) {
	if err := d.online(); err != nil {
		return nil, err
	}
	target := d.resolve(filename)
	stat, err := d.fs.Stat(target)
	if err != nil {
		return nil, wrapNotFound(err, filename)
	}
	raw, err := afero.ReadFile(d.fs, target)
	if err != nil {
		return nil, wrapNotFound(err, filename)
	}

	info := &model.ParsedFileInfo{
		FileName:     filename,
		Size:         stat.Size(),
		LastModified: stat.ModTime(),
	}
	text := string(raw)

	if m := layerHeightPattern.FindStringSubmatch(text); m != nil {
		info.LayerHeight, _ = strconv.ParseFloat(m[1], 64)
	}
	if m := filamentPattern.FindStringSubmatch(text); m != nil {
		for _, field := range strings.Split(m[1], ",") {
			if v, err := strconv.ParseFloat(strings.TrimSpace(field), 64); err == nil {
				info.Filament = append(info.Filament, v)
			}
		}
	}
	if m := printTimePattern.FindStringSubmatch(text); m != nil {
		info.PrintTime = parseSlicerDuration(m[1])
	}
	if m := generatedByPattern.FindStringSubmatch(text); m != nil {
		info.GeneratedBy = strings.TrimSpace(m[1])
	}
	for _, m := range moveZPattern.FindAllStringSubmatch(text, -1) {
		if z, err := strconv.ParseFloat(m[1], 64); err == nil && z > info.Height {
			info.Height = z
		}
	}
	if info.LayerHeight > 0 && info.Height > 0 {
		info.NumLayers = int(math.Round(info.Height / info.LayerHeight))
	}
	return info, nil
}

// parseSlicerDuration reads durations in the "1d 2h 34m 56s" form slicers
// write into job comments.
func parseSlicerDuration(s string) time.Duration {
	var total time.Duration
	for _, m := range timePartPattern.FindAllStringSubmatch(s, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		switch m[2] {
		case "d":
			total += time.Duration(n) * 24 * time.Hour
		case "h":
			total += time.Duration(n) * time.Hour
		case "m":
			total += time.Duration(n) * time.Minute
		case "s":
			total += time.Duration(n) * time.Second
		}
	}
	return total
}

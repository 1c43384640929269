package aggregate

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/atmogrid/raster-ingest/internal/domain"
)

// Granule filenames carry the acquisition instant as a run of 13 to 15
// digits: Unix epoch milliseconds, optionally followed by extra sub-second
// digits. Digits beyond the first 13 are ignored.
var instantRe = regexp.MustCompile(`\d{13,15}`)

// ParseAcquisition extracts the acquisition instant encoded in a granule
// filename.
func ParseAcquisition(path string) (time.Time, error) {
	m := instantRe.FindString(filepath.Base(path))
	if m == "" {
		return time.Time{}, fmt.Errorf("no acquisition instant in filename %q", filepath.Base(path))
	}
	ms, err := strconv.ParseInt(m[:13], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse acquisition instant %q: %w", m, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// Bucket is one fixed-width interval of the target day.
type Bucket struct {
	Start time.Time
	End   time.Time
}

// Partition splits the target day into contiguous non-overlapping buckets
// of the given width covering [00:00, 24:00). The width must divide 24h.
func Partition(day time.Time, width time.Duration) []Bucket {
	day = domain.Midnight(day)
	n := int(24 * time.Hour / width)
	buckets := make([]Bucket, n)
	for i := range buckets {
		start := day.Add(time.Duration(i) * width)
		buckets[i] = Bucket{Start: start, End: start.Add(width)}
	}
	return buckets
}

// assign maps each file to the index of the bucket holding its acquisition
// instant. Instants within one bucket width before midnight (the
// previous-day lookback) land in the first bucket so accumulation windows
// straddling midnight stay whole; anything earlier or past 24:00 returns
// false and is discarded.
func assign(day time.Time, width time.Duration, instant time.Time) (int, bool) {
	day = domain.Midnight(day)
	offset := instant.Sub(day)
	if offset < -width || offset >= 24*time.Hour {
		return 0, false
	}
	if offset < 0 {
		return 0, true
	}
	return int(offset / width), true
}

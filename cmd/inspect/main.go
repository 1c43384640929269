// Command inspect summarizes the on-disk archive: which years and days a
// source has, how large the shards are, and per-day value statistics. It is
// the first stop when a backfill looks incomplete.
//
// Usage:
//
//	go run ./cmd/inspect -archive-dir /var/lib/raster-ingest/archive \
//	  -source lightning -year 2024 -stats
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jonboulle/clockwork"
	"gonum.org/v1/gonum/floats"

	"github.com/atmogrid/raster-ingest/internal/domain"
	"github.com/atmogrid/raster-ingest/internal/observability"
	"github.com/atmogrid/raster-ingest/internal/store"
)

func main() {
	archiveDir := flag.String("archive-dir", "", "directory holding yearly archive shards")
	sourceName := flag.String("source", "lightning", "observation source to inspect")
	year := flag.Int("year", 0, "restrict to one shard year (0 inspects all)")
	stats := flag.Bool("stats", false, "print per-day value statistics")
	flag.Parse()

	if *archiveDir == "" {
		fmt.Fprintln(os.Stderr, "-archive-dir is required")
		os.Exit(2)
	}
	src, err := domain.SourceByName(*sourceName)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	archive := store.NewArchiveStore(*archiveDir, 1, time.Second,
		logger, observability.NewMetricsForTesting(), clockwork.NewRealClock())

	years, err := archive.Years(src)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if len(years) == 0 {
		fmt.Printf("no %s shards under %s\n", src.Name, *archiveDir)
		return
	}

	failed := false
	for _, y := range years {
		if *year != 0 && y != *year {
			continue
		}
		if err := inspectYear(archive, src, *archiveDir, y, *stats); err != nil {
			fmt.Fprintf(os.Stderr, "%d: %v\n", y, err)
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

func inspectYear(archive *store.ArchiveStore, src domain.Source, dir string, year int, stats bool) error {
	stack, err := archive.Load(src, year)
	if err != nil {
		return err
	}

	path := filepath.Join(dir, domain.ShardName(src, year))
	size := "?"
	if fi, err := os.Stat(path); err == nil {
		size = humanize.Bytes(uint64(fi.Size()))
	}

	first := domain.DayKey(stack.Days[0])
	last := domain.DayKey(stack.Days[len(stack.Days)-1])
	fmt.Printf("%s  %d days (%s .. %s)  grid %dx%d  %s\n",
		path, len(stack.Days), first, last, len(stack.Lats), len(stack.Lons), size)

	if !stats {
		return nil
	}
	for i, day := range stack.Days {
		g := stack.Layer(i)
		valid := make([]float64, 0, len(g.Values.Elements))
		for _, v := range g.Values.Elements {
			if !domain.IsNoData(v) {
				valid = append(valid, v)
			}
		}
		if len(valid) == 0 {
			fmt.Printf("  %s  no valid cells\n", domain.DayKey(day))
			continue
		}
		fmt.Printf("  %s  valid=%d  min=%.4g  max=%.4g  mean=%.4g\n",
			domain.DayKey(day), len(valid),
			floats.Min(valid), floats.Max(valid), floats.Sum(valid)/float64(len(valid)))
	}
	return nil
}

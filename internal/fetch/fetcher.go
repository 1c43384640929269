// Package fetch downloads granule files into a local staging directory.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/atmogrid/raster-ingest/internal/observability"
)

// File pairs a remote granule URL with its staging destination.
type File struct {
	URL  string
	Dest string
}

// Fetcher downloads granules with bounded concurrency. Individual failures
// are not retried here: satellite feeds have known small gaps, and the
// aggregator treats missing coverage as zero contribution, so a failed file
// is simply omitted from the returned set.
type Fetcher struct {
	concurrency   int
	timeout       time.Duration
	username      string
	password      string
	progressEvery time.Duration
	logger        *slog.Logger
	metrics       *observability.Metrics
	clock         clockwork.Clock
}

// New creates a Fetcher. Credentials are applied as basic auth on every
// download request.
func New(username, password string, concurrency int, timeout time.Duration,
	logger *slog.Logger, metrics *observability.Metrics, clock clockwork.Clock) *Fetcher {
	return &Fetcher{
		concurrency:   concurrency,
		timeout:       timeout,
		username:      username,
		password:      password,
		progressEvery: 15 * time.Second,
		logger:        logger,
		metrics:       metrics,
		clock:         clock,
	}
}

// FetchAll downloads every file not already present at its destination and
// returns the local paths successfully obtained, already-present files
// included. Failed downloads are logged and omitted; only context
// cancellation aborts the batch.
func (f *Fetcher) FetchAll(ctx context.Context, files []File) ([]string, error) {
	var (
		mu        sync.Mutex
		obtained  []string
		completed atomic.Int64
		bytes     atomic.Int64
	)
	start := f.clock.Now()

	progressCtx, stopProgress := context.WithCancel(ctx)
	defer stopProgress()
	go f.reportProgress(progressCtx, &completed, &bytes, len(files), start)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)

	for _, file := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			defer completed.Add(1)

			if _, err := os.Stat(file.Dest); err == nil {
				f.metrics.GranulesSkipped.Inc()
				mu.Lock()
				obtained = append(obtained, file.Dest)
				mu.Unlock()
				return nil
			}

			// Each worker gets its own client; download sessions must not
			// be shared across workers.
			client := &http.Client{Timeout: f.timeout}
			n, err := f.download(ctx, client, file)
			if err != nil {
				f.metrics.FetchErrors.Inc()
				f.logger.Warn("granule download failed, omitting",
					"url", file.URL, "error", err)
				return nil
			}

			f.metrics.GranulesFetched.Inc()
			f.metrics.FetchBytes.Add(float64(n))
			bytes.Add(n)
			mu.Lock()
			obtained = append(obtained, file.Dest)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fetch interrupted: %w", err)
	}
	stopProgress()

	f.logger.Info("fetch complete",
		"requested", len(files),
		"obtained", len(obtained),
		"bytes", humanize.Bytes(uint64(bytes.Load())),
		"elapsed", f.clock.Since(start).Round(time.Second).String(),
	)
	return obtained, nil
}

func (f *Fetcher) download(ctx context.Context, client *http.Client, file File) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	if f.username != "" {
		req.SetBasicAuth(f.username, f.password)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("status %d", resp.StatusCode)
	}

	// Download to a partial file first so an interrupted transfer never
	// passes the skip-if-exists check on a later attempt.
	part := file.Dest + ".part"
	out, err := os.Create(part)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", part, err)
	}

	n, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(part)
		return 0, fmt.Errorf("write: %w", err)
	}
	if err := os.Rename(part, file.Dest); err != nil {
		os.Remove(part)
		return 0, fmt.Errorf("finalize: %w", err)
	}
	return n, nil
}

// reportProgress periodically logs completion and an ETA without blocking
// the workers.
func (f *Fetcher) reportProgress(ctx context.Context, completed, bytes *atomic.Int64, total int, start time.Time) {
	if total == 0 {
		return
	}
	ticker := f.clock.NewTicker(f.progressEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			done := completed.Load()
			if done == 0 || int(done) >= total {
				continue
			}
			elapsed := f.clock.Since(start)
			eta := time.Duration(float64(elapsed) / float64(done) * float64(int64(total)-done))
			f.logger.Info("fetch progress",
				"completed", done,
				"total", total,
				"bytes", humanize.Bytes(uint64(bytes.Load())),
				"eta", eta.Round(time.Second).String(),
			)
		}
	}
}

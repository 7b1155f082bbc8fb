// Package ingest downloads user-submitted screenshots into local media
// storage without blocking the conversation's reply path.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danpetrov/pandorabot/core/logger"
	"github.com/danpetrov/pandorabot/core/netutil"
)

var (
	// ErrQueueClosed is returned when enqueue is attempted after Close.
	ErrQueueClosed = errors.New("ingest: queue closed")
	// ErrQueueFull indicates the queue is saturated and the job was not accepted.
	ErrQueueFull = errors.New("ingest: queue full")
)

// Options controls the behaviour of the ingestor.
type Options struct {
	QueueSize    int
	Workers      int
	MaxRetries   int
	RetryBackoff time.Duration
	// MaxDuration bounds the time spent on a single download including retries.
	MaxDuration time.Duration

	// Client performs the fetch; defaults to a timeout-bounded http.Client.
	Client *http.Client
}

type job struct {
	ctx      context.Context
	srcURL   string
	destPath string
}

// Ingestor fetches remote screenshots asynchronously with retries.
type Ingestor struct {
	opts Options
	jobs chan job
	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
	errs atomic.Uint64

	tombMu sync.Mutex
	tombs  map[string]time.Time
}

// New starts an ingestor with sane defaults if options are zeroed.
func New(opts Options) *Ingestor {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 2 * time.Second
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = 60 * time.Second
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 30 * time.Second}
	}

	ing := &Ingestor{
		opts:  opts,
		jobs:  make(chan job, opts.QueueSize),
		stop:  make(chan struct{}),
		tombs: make(map[string]time.Time),
	}

	ing.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go ing.worker()
	}

	return ing
}

// Enqueue schedules a download of srcURL into destPath and returns
// immediately. The job carries a detached context so the webhook request
// finishing does not cancel the fetch.
func (ing *Ingestor) Enqueue(ctx context.Context, srcURL, destPath string) error {
	select {
	case <-ing.stop:
		return ErrQueueClosed
	default:
	}

	detached := context.Background()
	if rid := logger.RIDFrom(ctx); rid != "" {
		detached = logger.WithRID(detached, rid)
	}

	j := job{ctx: detached, srcURL: srcURL, destPath: destPath}
	select {
	case ing.jobs <- j:
		return nil
	default:
		return ErrQueueFull
	}
}

// ErrorCount returns the number of failed downloads.
func (ing *Ingestor) ErrorCount() uint64 {
	return ing.errs.Load()
}

// Close stops workers and waits for queued downloads to finish.
func (ing *Ingestor) Close() {
	ing.once.Do(func() {
		close(ing.stop)
		close(ing.jobs)
		ing.wg.Wait()
	})
}

func (ing *Ingestor) worker() {
	defer ing.wg.Done()
	for j := range ing.jobs {
		ing.handleJob(j)
	}
}

func (ing *Ingestor) handleJob(j job) {
	ctx, cancel := context.WithTimeout(j.ctx, ing.opts.MaxDuration)
	defer cancel()

	start := time.Now()
	var lastErr error
	attempts := ing.opts.MaxRetries + 1

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		if err := ing.download(ctx, j.srcURL, j.destPath); err != nil {
			lastErr = err
			if !netutil.ShouldRetry(err) || attempt == attempts {
				break
			}

			delay := ing.opts.RetryBackoff * time.Duration(attempt)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				lastErr = ctx.Err()
			case <-timer.C:
				continue
			}
			break
		}

		// The conversation may have been cancelled while the fetch was in
		// flight; its file must not survive the cancellation.
		if ing.discarded(j.destPath) {
			_ = os.Remove(j.destPath)
			logger.Debug(ctx, "ingest", "download.discarded",
				slog.String("path", j.destPath),
			)
			return
		}

		logger.Debug(ctx, "ingest", "download.success",
			slog.String("path", j.destPath),
			slog.Int("attempt", attempt),
			slog.Duration("duration", logger.Took(start)),
		)
		return
	}

	ing.errs.Add(1)
	logger.Error(ctx, "ingest", "download.failed",
		slog.String("url", logger.SanitizeLimit(j.srcURL, 256)),
		slog.String("path", j.destPath),
		slog.String("err", lastErr.Error()),
		slog.Duration("duration", logger.Took(start)),
	)
}

// download fetches the resource into a temp file and renames it into place,
// so a half-written file is never visible under the final path.
func (ing *Ingestor) download(ctx context.Context, srcURL, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := ing.opts.Client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("fetch status: %s", resp.Status)
	}

	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("media dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return fmt.Errorf("temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpName, destPath); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

const tombstoneKeep = 10 * time.Minute

// Discard marks a destination path as belonging to a cancelled conversation.
// A pending download for that path deletes its result instead of keeping it.
func (ing *Ingestor) Discard(destPath string) {
	now := time.Now()
	ing.tombMu.Lock()
	for p, ts := range ing.tombs {
		if now.Sub(ts) > tombstoneKeep {
			delete(ing.tombs, p)
		}
	}
	ing.tombs[destPath] = now
	ing.tombMu.Unlock()
}

func (ing *Ingestor) discarded(destPath string) bool {
	ing.tombMu.Lock()
	defer ing.tombMu.Unlock()
	ts, ok := ing.tombs[destPath]
	return ok && time.Since(ts) <= tombstoneKeep
}

// Sweep removes media files older than maxAge. It is the companion of the
// session TTL: a conversation evicted by expiry leaves its screenshot behind,
// and the sweep reclaims it.
func (ing *Ingestor) Sweep(mediaRoot string, maxAge time.Duration) {
	entries, err := os.ReadDir(mediaRoot)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		_ = os.Remove(filepath.Join(mediaRoot, entry.Name()))
	}
}

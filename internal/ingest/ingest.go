// Package ingest downloads the pipeline's input files from their remote
// sources with retries, exponential backoff, and a per-source circuit
// breaker. Downloads land in a temp file and are renamed into place; there
// is no resumption of partial transfers.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/skycastml/pvnowcast/internal/logging"
)

// BackoffConfig controls exponential backoff behaviour.
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

var (
	errRateLimited = errors.New("rate limited")
	errServerError = errors.New("server error")
	errUnexpected  = errors.New("unexpected status code")
	errCircuitOpen = errors.New("circuit breaker open")
)

// Source names one remote file and where it lands locally.
type Source struct {
	Name string
	URL  string
	Dest string
}

// Downloader fetches sources with shared resilience settings.
type Downloader struct {
	// Backoff may be tightened before the first Fetch.
	Backoff BackoffConfig

	client *http.Client

	mu       sync.Mutex
	circuits map[string]*gobreaker.CircuitBreaker
}

// New creates a Downloader around the given HTTP client.
func New(client *http.Client) *Downloader {
	return &Downloader{
		Backoff: BackoffConfig{
			MaxRetries:      3,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     10 * time.Second,
		},
		client:   client,
		circuits: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// circuit returns the breaker for a source, creating it on first use.
// Overlapping scheduled runs share the map.
func (d *Downloader) circuit(name string) *gobreaker.CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cb, ok := d.circuits[name]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 2,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})
	d.circuits[name] = cb
	return cb
}

// FetchAll downloads every source with a non-empty URL. The first failure
// aborts the run; already-downloaded files keep their renamed state.
func (d *Downloader) FetchAll(ctx context.Context, sources []Source) error {
	for _, src := range sources {
		if src.URL == "" {
			logging.Debug().Str("source", src.Name).Msg("no url configured, skipping")
			continue
		}
		if err := d.Fetch(ctx, src); err != nil {
			return fmt.Errorf("ingest %s: %w", src.Name, err)
		}
	}
	return nil
}

// Fetch downloads one source to its destination path.
func (d *Downloader) Fetch(ctx context.Context, src Source) error {
	started := time.Now()

	resp, err := d.get(ctx, src)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(src.Dest), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(src.Dest), ".ingest-*")
	if err != nil {
		return err
	}
	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), src.Dest); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	logging.Info().
		Str("source", src.Name).
		Str("dest", src.Dest).
		Int64("bytes", n).
		Dur("elapsed", time.Since(started)).
		Msg("download complete")
	return nil
}

// get executes the request with retries, exponential backoff, and the
// source's circuit breaker.
func (d *Downloader) get(ctx context.Context, src Source) (*http.Response, error) {
	cb := d.circuit(src.Name)

	var attempt int
	var lastErr error
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
		if err != nil {
			return nil, err
		}

		result, err := cb.Execute(func() (interface{}, error) {
			resp, execErr := d.client.Do(req)
			if execErr != nil {
				return nil, execErr
			}
			if resp.StatusCode == http.StatusTooManyRequests {
				resp.Body.Close()
				return nil, errRateLimited
			}
			if resp.StatusCode >= 500 {
				resp.Body.Close()
				return nil, errServerError
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				resp.Body.Close()
				return nil, fmt.Errorf("%w: %d", errUnexpected, resp.StatusCode)
			}
			return resp, nil
		})

		if err == nil {
			return result.(*http.Response), nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", errCircuitOpen, err)
		}

		lastErr = err
		if attempt >= d.Backoff.MaxRetries {
			return nil, lastErr
		}

		delay := d.Backoff.InitialInterval * time.Duration(math.Pow(2, float64(attempt)))
		if d.Backoff.MaxInterval > 0 && delay > d.Backoff.MaxInterval {
			delay = d.Backoff.MaxInterval
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		attempt++
	}
}

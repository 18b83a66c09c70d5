package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/withObsrvr/obsrvr-cdn-sync/internal/chunk"
	"github.com/withObsrvr/obsrvr-cdn-sync/internal/logging"
	"github.com/withObsrvr/obsrvr-cdn-sync/internal/metrics"
)

const (
	defaultMaxRetries     = 5
	defaultRetryBaseDelay = 500 * time.Millisecond
	defaultRequestTimeout = 30 * time.Second
	maxRetryInterval      = 30 * time.Second
)

// httpSource fetches chunks over plain HTTP GET against the CDN base URL.
type httpSource struct {
	cfg    Config
	client *http.Client
	log    *slog.Logger
}

func newHTTPSource(cfg Config) *httpSource {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &httpSource{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		log:    logging.Component("source.http"),
	}
}

// Fetch retrieves one chunk, retrying transient failures with exponential
// backoff and jitter until the attempt budget is spent. Non-retriable
// failures (most 4xx statuses) abort immediately.
func (s *httpSource) Fetch(ctx context.Context, d chunk.Descriptor) ([]byte, error) {
	url := strings.TrimRight(s.cfg.BaseURL, "/") + "/" + ObjectKey(s.cfg, d)

	var payload []byte
	attempt := 0
	op := func() error {
		attempt++
		body, err := s.get(ctx, url)
		if err != nil {
			if !retriable(err) {
				return backoff.Permanent(err)
			}
			s.log.Warn("chunk fetch failed, will retry",
				"url", url,
				"attempt", attempt,
				"error", err,
			)
			if m := metrics.Get(); m != nil {
				m.FetchRetries.Inc()
			}
			return err
		}
		payload = body
		return nil
	}

	policy := backoff.WithContext(s.newBackOff(), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, fmt.Errorf("fetch chunk %d-%d after %d attempts: %w", d.Start, d.End, attempt, err)
	}
	return payload, nil
}

// newBackOff builds the per-fetch retry schedule: exponential with jitter,
// capped interval, bounded attempt count.
func (s *httpSource) newBackOff() backoff.BackOff {
	maxRetries := s.cfg.MaxRetries
	if maxRetries < 1 {
		maxRetries = defaultMaxRetries
	}
	base := s.cfg.RetryBaseDelay
	if base <= 0 {
		base = defaultRetryBaseDelay
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.MaxInterval = maxRetryInterval
	b.RandomizationFactor = 0.5
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, uint64(maxRetries-1))
}

// get performs a single GET attempt.
func (s *httpSource) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &NetworkError{Transient: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, &HTTPStatusError{Code: resp.StatusCode, URL: url}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Transient: true, Err: err}
	}
	return body, nil
}

// retriable classifies a fetch error per the CDN contract.
func retriable(err error) bool {
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Transient
	}
	var se *HTTPStatusError
	if errors.As(err, &se) {
		return se.Transient()
	}
	return false
}

func (s *httpSource) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

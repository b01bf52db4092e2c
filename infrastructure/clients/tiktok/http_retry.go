package tiktok

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tiktok-publisher/infrastructure/logger"
	"tiktok-publisher/infrastructure/utils"
)

const defaultMaxRetries = 3

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// RetryTransport retries requests answered with 429 Too Many Requests.
// The wait honors Retry-After (seconds or HTTP date) with a one second floor
// and grows with the attempt number.
type RetryTransport struct {
	Base       http.RoundTripper
	MaxRetries int
	Sleep      SleepFunc
	Now        func() time.Time
}

// NewRetryTransport wraps base (http.DefaultTransport when nil).
func NewRetryTransport(base http.RoundTripper) *RetryTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &RetryTransport{Base: base, MaxRetries: defaultMaxRetries, Sleep: utils.SleepContext, Now: time.Now}
}

// NewHTTPClient returns a client with the retrying transport and timeout.
// A nil sleep waits on the wall clock.
func NewHTTPClient(timeout time.Duration, sleep SleepFunc) *http.Client {
	transport := NewRetryTransport(nil)
	if sleep != nil {
		transport.Sleep = sleep
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	sleep := t.Sleep
	if sleep == nil {
		sleep = utils.SleepContext
	}
	now := t.Now
	if now == nil {
		now = time.Now
	}

	for attempt := 0; ; attempt++ {
		if attempt > 0 && req.Body != nil {
			if req.GetBody == nil {
				return nil, errBodyNotReplayable
			}
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			req = req.Clone(req.Context())
			req.Body = body
		}

		resp, err := t.Base.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusTooManyRequests || attempt >= t.MaxRetries {
			return resp, nil
		}

		wait := retryDelay(resp.Header.Get("Retry-After"), attempt, now())
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()

		logger.GetLogger().WithFields(map[string]interface{}{
			"url":     req.URL.Redacted(),
			"attempt": attempt + 1,
			"wait":    wait.String(),
		}).Warn("tiktok rate limited, retrying")

		if err := sleep(req.Context(), wait); err != nil {
			return nil, err
		}
	}
}

// retryDelay is max(retry-after or 1s, attempt+1 seconds).
func retryDelay(header string, attempt int, now time.Time) time.Duration {
	wait := time.Second
	header = strings.TrimSpace(header)
	if header != "" {
		if seconds, err := strconv.Atoi(header); err == nil {
			if seconds > 0 {
				wait = time.Duration(seconds) * time.Second
			}
		} else if at, err := http.ParseTime(header); err == nil && at.After(now) {
			wait = at.Sub(now)
		}
	}
	if floor := time.Duration(attempt+1) * time.Second; wait < floor {
		wait = floor
	}
	return wait
}

type retryError string

func (e retryError) Error() string { return string(e) }

const errBodyNotReplayable = retryError("tiktok: request body cannot be replayed for retry")

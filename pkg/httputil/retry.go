package httputil

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Backoff is the retry policy applied to index and artifact requests.
type Backoff struct {
	Attempts int           // total tries, at least one
	Delay    time.Duration // wait before the second try, doubled after each
	MaxDelay time.Duration // cap on a single wait; zero leaves it uncapped
}

// DefaultBackoff tries three times, waiting one then two seconds.
var DefaultBackoff = Backoff{Attempts: DefaultAttempts, Delay: DefaultRetryDelay, MaxDelay: DefaultMaxRetryDelay}

// Do calls fn until it succeeds, fails with an error not marked
// [Transient], or runs out of attempts. fn receives the attempt number,
// starting at 1. A Retry-After hint from the server replaces the computed
// wait when it is longer. Cancelling ctx during a wait returns ctx.Err().
func (b Backoff) Do(ctx context.Context, fn func(attempt int) error) error {
	attempts := max(b.Attempts, 1)
	delay := b.Delay

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(attempt); err == nil || !IsTransient(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		timer := time.NewTimer(b.clamp(max(delay, retryAfter(err))))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
	return err
}

func (b Backoff) clamp(d time.Duration) time.Duration {
	if b.MaxDelay > 0 && d > b.MaxDelay {
		return b.MaxDelay
	}
	return d
}

// transientError marks a failure worth another attempt. after holds the
// server's Retry-After hint, if it sent one.
type transientError struct {
	err   error
	after time.Duration
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as retryable by [Backoff.Do]. Integrity and
// descriptor errors are never marked: another try cannot change them.
func Transient(err error) error {
	return &transientError{err: err}
}

// IsTransient reports whether err was marked with [Transient].
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

func retryAfter(err error) time.Duration {
	var t *transientError
	if errors.As(err, &t) {
		return t.after
	}
	return 0
}

// parseRetryAfter reads a Retry-After value given either in seconds or as
// an HTTP date. Values it cannot read count as no hint.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

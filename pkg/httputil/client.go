package httputil

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/matzehuels/ipm/pkg/buildinfo"
	"github.com/matzehuels/ipm/pkg/errors"
	"github.com/matzehuels/ipm/pkg/observability"
)

// Default transport settings.
const (
	DefaultTimeout       = 30 * time.Second
	DefaultAttempts      = 3
	DefaultRetryDelay    = time.Second
	DefaultMaxRetryDelay = 10 * time.Second
)

// ClientOptions configures a [Client]. Zero values take the defaults.
type ClientOptions struct {
	Timeout       time.Duration // per request
	Attempts      int           // total tries for retryable failures
	RetryDelay    time.Duration // first backoff delay, doubled per retry
	MaxRetryDelay time.Duration // cap on one wait, Retry-After included
	Headers       map[string]string
}

// Client performs GET requests against index servers with a per-request
// timeout and bounded retry. Transport failures, 5xx and 429 responses
// are retried; every other failure is returned at once.
type Client struct {
	http    *http.Client
	headers map[string]string
	backoff Backoff
}

// NewClient creates a Client.
func NewClient(opts ClientOptions) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.MaxRetryDelay <= 0 {
		opts.MaxRetryDelay = DefaultMaxRetryDelay
	}
	headers := map[string]string{"User-Agent": buildinfo.UserAgent()}
	for k, v := range opts.Headers {
		headers[k] = v
	}
	return &Client{
		http:    &http.Client{Timeout: opts.Timeout},
		headers: headers,
		backoff: Backoff{Attempts: opts.Attempts, Delay: opts.RetryDelay, MaxDelay: opts.MaxRetryDelay},
	}
}

// GetBytes fetches url and returns the whole response body.
func (c *Client) GetBytes(ctx context.Context, rawURL string) ([]byte, error) {
	var data []byte
	err := c.backoff.Do(ctx, func(int) error {
		body, err := c.doRequest(ctx, rawURL)
		if err != nil {
			return err
		}
		defer body.Close()
		data, err = io.ReadAll(body)
		if err != nil {
			return Transient(errors.Wrap(errors.ErrCodeNetwork, err, "read %s", rawURL))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Download streams url into the file at path, truncating it on every
// attempt. It returns the number of bytes written.
func (c *Client) Download(ctx context.Context, rawURL, path string) (int64, error) {
	var n int64
	err := c.backoff.Do(ctx, func(int) error {
		body, err := c.doRequest(ctx, rawURL)
		if err != nil {
			return err
		}
		defer body.Close()

		f, err := os.Create(path)
		if err != nil {
			return errors.Wrap(errors.ErrCodeInternal, err, "create %s", path)
		}
		n, err = io.Copy(f, body)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return Transient(errors.Wrap(errors.ErrCodeNetwork, err, "download %s", rawURL))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (c *Client) doRequest(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "bad URL %q", rawURL)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	host, path := req.URL.Host, req.URL.Path
	hooks := observability.HTTP()
	hooks.OnRequest(ctx, req.Method, host, path)
	start := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		hooks.OnError(ctx, req.Method, host, path, err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, Transient(errors.Wrap(errors.ErrCodeNetwork, err, "GET %s", req.URL.Redacted()))
	}
	hooks.OnResponse(ctx, req.Method, host, path, resp.StatusCode, time.Since(start))

	if err := checkStatus(resp, req.URL); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

func checkStatus(resp *http.Response, u *url.URL) error {
	code := resp.StatusCode
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusNotFound:
		return errors.New(errors.ErrCodeNotFound, "GET %s: not found", u.Redacted())
	case code >= 500 || code == http.StatusTooManyRequests:
		return &transientError{
			err:   errors.New(errors.ErrCodeNetwork, "GET %s: status %d", u.Redacted(), code),
			after: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	default:
		return errors.New(errors.ErrCodeNetwork, "GET %s: status %d", u.Redacted(), code)
	}
}

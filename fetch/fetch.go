// Package fetch performs the HTTP GETs every repository source relies on.
// Transport failures are retried according to a RetryPolicy; a response with
// a non-200 status is returned to the caller as a *StatusError without retry.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wudi/pagegrab/observability"
)

// DefaultUserAgent is the client signature sent with every request.
const DefaultUserAgent = "Opera/9.80 (Windows NT 5.1; U; en) Presto/2.5.24 Version/10.52"

// MinRetryDelay is the shortest wait between attempts of an unlimited
// RetryPolicy.
const MinRetryDelay = 50 * time.Millisecond

var (
	// ErrRetriesExhausted is returned once a bounded RetryPolicy gives up.
	ErrRetriesExhausted = errors.New("fetch: retries exhausted")
	// ErrNoURL is returned when asked to fetch an unresolved location.
	ErrNoURL = errors.New("fetch: no url")
)

// StatusError reports a response whose status was not 200 OK.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: http status %d", e.URL, e.Code)
}

// RetryPolicy controls retries of timeouts and transport errors.
type RetryPolicy struct {
	// MaxAttempts bounds the number of attempts; zero retries until success
	// or cancellation of the request context.
	MaxAttempts int
	// Delay is waited between attempts.
	Delay time.Duration
}

// Unlimited reports whether the policy never gives up on its own.
func (p RetryPolicy) Unlimited() bool { return p.MaxAttempts <= 0 }

type Options struct {
	// Proxy is an optional HTTP proxy as host:port or a full URL.
	Proxy     string
	UserAgent string
	// Timeout applies to a single attempt; zero means no timeout.
	Timeout time.Duration
	Retry   RetryPolicy
	Logger  observability.Logger
	// Transport overrides the round tripper, mainly for tests.
	Transport http.RoundTripper
}

// Client is safe for sequential use by a single job.
type Client struct {
	http  *http.Client
	ua    string
	retry RetryPolicy
	log   observability.Logger
}

// New builds a Client from opts.
func New(opts Options) (*Client, error) {
	rt := opts.Transport
	if rt == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		if opts.Proxy != "" {
			u, err := ParseProxy(opts.Proxy)
			if err != nil {
				return nil, err
			}
			t.Proxy = http.ProxyURL(u)
		} else {
			t.Proxy = nil
		}
		rt = t
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	retry := opts.Retry
	if retry.Unlimited() && retry.Delay < MinRetryDelay {
		retry.Delay = MinRetryDelay
	}
	return &Client{
		http:  &http.Client{Transport: rt, Timeout: opts.Timeout},
		ua:    ua,
		retry: retry,
		log:   observability.OrNop(opts.Logger),
	}, nil
}

// ParseProxy accepts "host:port" or a URL with scheme.
func ParseProxy(proxy string) (*url.URL, error) {
	p := strings.TrimSpace(proxy)
	if !strings.Contains(p, "://") {
		p = "http://" + p
	}
	u, err := url.Parse(p)
	if err != nil {
		return nil, fmt.Errorf("parse proxy %q: %w", proxy, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("parse proxy %q: missing host", proxy)
	}
	return u, nil
}

// Get fetches rawURL and returns the full body of a 200 response.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	if rawURL == "" {
		return nil, ErrNoURL
	}
	if u, err := url.Parse(rawURL); err != nil || u.Host == "" {
		return nil, fmt.Errorf("fetch %q: malformed url", rawURL)
	}
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		body, err := c.once(ctx, rawURL)
		if err == nil {
			return body, nil
		}
		var se *StatusError
		if errors.As(err, &se) {
			c.log.Warn("http status not ok, skipping", observability.String("url", rawURL), observability.Int("status", se.Code))
			return nil, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if isTimeout(err) {
			c.log.Warn("request timed out, retrying", observability.String("url", rawURL), observability.Int("attempt", attempt))
		} else {
			c.log.Warn("transport error, retrying", observability.String("url", rawURL), observability.Int("attempt", attempt), observability.Error("error", err))
		}
		if !c.retry.Unlimited() && attempt >= c.retry.MaxAttempts {
			return nil, fmt.Errorf("%w: %s after %d attempts: %v", ErrRetriesExhausted, rawURL, attempt, err)
		}
		if c.retry.Delay > 0 {
			timer := time.NewTimer(c.retry.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}
}

func (c *Client) once(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.ua)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{URL: rawURL, Code: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Package enrich fetches the optional snippets of the morning message:
// "on this day in history" and today's weather for a city.
//
// Every call is best effort: any transport error, timeout, bad status,
// malformed payload or missing field yields Unavailable instead of an error,
// so callers can fetch speculatively without special-casing failures.
// There is exactly one attempt per call.
package enrich

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	logx "morningbot/pkg/logx"
)

// Unavailable is the sentinel returned when a snippet cannot be produced.
const Unavailable = "N/A"

const (
	DefaultHistoryURL = "https://v2.api-m.com/api/history"
	DefaultWeatherURL = "https://v.api.aa1.cn/api/api-tianqi-3/index.php"

	DefaultHistoryLimit = 3

	maxBodyBytes = 1 << 20
)

type Config struct {
	HistoryURL string
	WeatherURL string
	Timeout    time.Duration
	// InsecureSkipVerify disables TLS verification for both sources
	// (the upstream hosts are known to serve broken certificate chains).
	InsecureSkipVerify bool
}

type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
	now  func() time.Time

	historyCB *gobreaker.CircuitBreaker
	weatherCB *gobreaker.CircuitBreaker
}

type Option func(*Client)

// WithHTTPClient replaces the transport (tests use httptest clients).
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithClock overrides the clock used to pick today's weekday.
func WithClock(now func() time.Time) Option {
	return func(cl *Client) {
		if now != nil {
			cl.now = now
		}
	}
}

func New(cfg Config, log logx.Logger, opts ...Option) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.HistoryURL) == "" {
		cfg.HistoryURL = DefaultHistoryURL
	}
	if strings.TrimSpace(cfg.WeatherURL) == "" {
		cfg.WeatherURL = DefaultWeatherURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	tr := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // upstream certificates are broken
	}

	c := &Client{
		cfg:       cfg,
		http:      &http.Client{Timeout: cfg.Timeout, Transport: tr},
		log:       log,
		now:       time.Now,
		historyCB: newBreaker("history"),
		weatherCB: newBreaker("weather"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// newBreaker opens after 5 consecutive failures and probes again after a minute.
// An open breaker short-circuits to Unavailable; it never retries.
func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    10 * time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
	})
}

var (
	errStatus  = errors.New("unexpected status code")
	errPayload = errors.New("malformed payload")
)

// get performs one GET through the breaker and returns the (size-capped) body.
func (c *Client) get(ctx context.Context, cb *gobreaker.CircuitBreaker, rawURL string, q url.Values) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if len(q) > 0 {
		vals := u.Query()
		for k, vs := range q {
			for _, v := range vs {
				vals.Set(k, v)
			}
		}
		u.RawQuery = vals.Encode()
	}

	res, err := cb.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("%w: %d", errStatus, resp.StatusCode)
		}
		return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	})
	if err != nil {
		return nil, err
	}
	b, ok := res.([]byte)
	if !ok {
		return nil, errPayload
	}
	return b, nil
}

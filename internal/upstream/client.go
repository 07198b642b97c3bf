// Package upstream implements the HTTP client every authenticated call to
// the game provider goes through: a per-host keep-alive pool, a pinned TLS
// profile matching the provider's expected client fingerprint, and
// mandatory rate-limit-gate consultation before and after every request.
// No component may bypass this client.
package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/worldline-go/klient"

	"github.com/rivengate/skinwatch/internal/apperr"
	"github.com/rivengate/skinwatch/internal/ratelimit"
)

// maxConnsPerHost matches the per-host keep-alive pool cap.
const maxConnsPerHost = 10

// Client wraps klient.Client with rate-limit gate enforcement, grounded on
// the antropic.Provider/discover.go klient.New(...) + client.Do(req, cb)
// idiom from the enrichment pack.
type Client struct {
	http *klient.Client
	gate *ratelimit.Gate

	platformHeader string
	clientVersion  string
}

// Options configures a new Client.
type Options struct {
	BaseURL        string
	Gate           *ratelimit.Gate
	PlatformHeader string
	Proxy          string
}

// pinnedTLSConfig returns the minimum-TLS-1.3, pinned-curve-preference
// transport profile matching the upstream provider's expected client
// fingerprint. Forcing TLS 1.3 makes explicit cipher suite selection moot
// (the stdlib picks the suite for TLS 1.3 and ignores CipherSuites), so only
// MinVersion and CurvePreferences are set. Pinning is necessarily stdlib
// crypto/tls — no pack library exposes raw TLS fingerprint control.
func pinnedTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS13,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
	}
}

// New returns a Client whose transport is capped at maxConnsPerHost
// connections per host and pinned to the TLS profile above.
func New(opts Options) (*Client, error) {
	transport := &http.Transport{
		MaxConnsPerHost:     maxConnsPerHost,
		MaxIdleConnsPerHost: maxConnsPerHost,
		TLSClientConfig:     pinnedTLSConfig(),
	}

	klientOpts := []klient.OptionClientFn{
		klient.WithBaseURL(opts.BaseURL),
		klient.WithLogger(slog.Default()),
		klient.WithRoundTripper(transport),
		klient.WithHeaderSet(http.Header{
			"X-Client-Platform": []string{opts.PlatformHeader},
		}),
	}
	if opts.Proxy != "" {
		klientOpts = append(klientOpts, klient.WithProxy(opts.Proxy))
	}

	c, err := klient.New(klientOpts...)
	if err != nil {
		return nil, fmt.Errorf("upstream: build client: %w", err)
	}

	return &Client{http: c, gate: opts.Gate, platformHeader: opts.PlatformHeader}, nil
}

// SetClientVersion updates the client-version header sent on every
// subsequent request. Called on the updateUserAgent schedule with the asset
// catalog's current game version.
func (c *Client) SetClientVersion(version string) {
	c.clientVersion = version
}

// Do issues req, honoring the rate-limit gate both before (blocking the
// caller's responsibility — Do returns apperr.RateLimited rather than
// sleeping itself, so callers can decide how to wait) and after the call
// (feeding observed rate-limit headers back to the gate).
func (c *Client) Do(ctx context.Context, req *http.Request, decode func(*http.Response) error) error {
	host := req.URL.Host

	if retryAt, limited, err := c.gate.Check(ctx, host); err != nil {
		return err
	} else if limited {
		return &apperr.RateLimited{RetryAt: retryAt}
	}

	if c.clientVersion != "" {
		req.Header.Set("X-Client-Version", c.clientVersion)
	}

	var statusCode int
	var retryAfter, rateLimitReset string

	err := c.http.Do(req, func(resp *http.Response) error {
		statusCode = resp.StatusCode
		retryAfter = resp.Header.Get("Retry-After")
		rateLimitReset = resp.Header.Get("X-Ratelimit-Reset")

		if resp.StatusCode == http.StatusTooManyRequests {
			return &apperr.RateLimited{}
		}
		if resp.StatusCode == http.StatusServiceUnavailable {
			return &apperr.Maintenance{}
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return &apperr.InvalidCredentials{}
		}
		if decode != nil {
			return decode(resp)
		}
		_, copyErr := io.Copy(io.Discard, resp.Body)
		return copyErr
	})

	if retryAt, ok := ratelimit.ParseRetryAfter(retryAfter, rateLimitReset, time.Now()); ok {
		c.gate.Record(ctx, host, retryAt)
	} else if statusCode == http.StatusTooManyRequests {
		c.gate.Record(ctx, host, c.gate.NextBackoff(0))
	}

	if err != nil {
		var rl *apperr.RateLimited
		if as, ok := err.(*apperr.RateLimited); ok {
			rl = as
			if rl.RetryAt.IsZero() {
				rl.RetryAt = c.gate.NextBackoff(0)
			}
			return rl
		}
		if _, ok := err.(*apperr.Maintenance); ok {
			return err
		}
		if _, ok := err.(*apperr.InvalidCredentials); ok {
			return err
		}
		return &apperr.Transport{Cause: err}
	}
	return nil
}

// RoundTrip makes Client usable as an http.RoundTripper, so callers that
// need a raw *http.Response — such as golang.org/x/oauth2's token exchange —
// can still go through the rate-limit gate instead of bypassing this client
// with their own transport. It shares Do's gate-check-before/record-after
// bookkeeping but leaves response interpretation to the caller.
func (c *Client) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	host := req.URL.Host

	if retryAt, limited, err := c.gate.Check(ctx, host); err != nil {
		return nil, err
	} else if limited {
		return nil, &apperr.RateLimited{RetryAt: retryAt}
	}

	if c.clientVersion != "" {
		req.Header.Set("X-Client-Version", c.clientVersion)
	}

	var resp *http.Response
	err := c.http.Do(req, func(r *http.Response) error {
		resp = r
		buf, readErr := io.ReadAll(r.Body)
		r.Body.Close()
		if readErr != nil {
			return readErr
		}
		resp.Body = io.NopCloser(bytes.NewReader(buf))
		return nil
	})
	if err != nil {
		return nil, &apperr.Transport{Cause: err}
	}

	if retryAt, ok := ratelimit.ParseRetryAfter(resp.Header.Get("Retry-After"), resp.Header.Get("X-Ratelimit-Reset"), time.Now()); ok {
		c.gate.Record(ctx, host, retryAt)
	} else if resp.StatusCode == http.StatusTooManyRequests {
		c.gate.Record(ctx, host, c.gate.NextBackoff(0))
	}

	return resp, nil
}

// Package upstream talks to grok.com on behalf of a single SSO token: quota
// queries, NSFW enablement, age verification, asset cleanup and the imagine
// websocket.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"grok2api-go/internal/config"
	"grok2api-go/internal/constants"
	"grok2api-go/internal/logging"
	"grok2api-go/internal/monitoring"
	"grok2api-go/internal/monitoring/tracing"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const maxResponseBody = 8 << 20

// Options are the tunables the client reads on every call.
type Options struct {
	BaseURL          string
	ImagineWSURL     string
	CFClearance      string
	ProxyURL         string
	Timeout          time.Duration
	UsageTimeout     time.Duration
	MaxRetry         int
	RetryStatusCodes []int
	AppURL           string
}

// OptionsFromConfig maps the grok config section.
func OptionsFromConfig(cfg *config.Config) Options {
	g := cfg.Grok
	return Options{
		BaseURL:          strings.TrimRight(g.BaseURL, "/"),
		ImagineWSURL:     g.ImagineWSURL,
		CFClearance:      strings.TrimSpace(g.CFClearance),
		ProxyURL:         g.ProxyURL,
		Timeout:          durationOr(g.TimeoutSec, constants.UpstreamDefaultTimeout),
		UsageTimeout:     durationOr(g.UsageTimeoutSec, constants.UpstreamUsageTimeout),
		MaxRetry:         g.MaxRetry,
		RetryStatusCodes: append([]int(nil), g.RetryStatusCodes...),
		AppURL:           strings.TrimRight(g.AppURL, "/"),
	}
}

func durationOr(seconds int, fallback time.Duration) time.Duration {
	if seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return fallback
}

func (o Options) withDefaults() Options {
	if o.BaseURL == "" {
		o.BaseURL = "https://grok.com"
	}
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	if o.ImagineWSURL == "" {
		o.ImagineWSURL = "wss://grok.com/ws/imagine/listen"
	}
	if o.Timeout <= 0 {
		o.Timeout = constants.UpstreamDefaultTimeout
	}
	if o.UsageTimeout <= 0 {
		o.UsageTimeout = constants.UpstreamUsageTimeout
	}
	if o.MaxRetry < 0 {
		o.MaxRetry = 0
	}
	if o.RetryStatusCodes == nil {
		o.RetryStatusCodes = append([]int(nil), constants.UpstreamRetryStatusCodes...)
	}
	return o
}

// Client is safe for concurrent use. Options can be swapped at runtime.
type Client struct {
	opts    atomic.Pointer[Options]
	http    *http.Client
	limiter *rate.Limiter
	// sleep is replaced in tests to skip retry delays.
	sleep   func(ctx context.Context, d time.Duration) error
	timings *imagineTimings
}

// New builds a client. rps <= 0 disables the outbound throttle.
func New(opts Options, rps float64) *Client {
	opts = opts.withDefaults()
	tr := &http.Transport{
		Proxy: proxyFunc(opts.ProxyURL),
		DialContext: (&net.Dialer{
			Timeout:   constants.DefaultDialTimeout,
			KeepAlive: constants.DefaultKeepAlive,
		}).DialContext,
		TLSHandshakeTimeout: constants.DefaultTLSHandshakeTimeout,
		MaxIdleConns:        constants.UpstreamMaxIdleConns,
		MaxIdleConnsPerHost: constants.UpstreamMaxIdleConnsPerHost,
		IdleConnTimeout:     constants.UpstreamIdleConnTimeout,
		ForceAttemptHTTP2:   true,
	}
	c := &Client{
		http:  &http.Client{Transport: tr},
		sleep: sleepCtx,
	}
	if rps > 0 {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	c.opts.Store(&opts)
	return c
}

// NewFromConfig wires a client from the gateway configuration.
func NewFromConfig(cfg *config.Config) *Client {
	return New(OptionsFromConfig(cfg), cfg.Grok.RequestsPerSecond)
}

// Options returns the current options.
func (c *Client) Options() Options { return *c.opts.Load() }

// SetOptions swaps options; the proxy of the transport is not changed.
func (c *Client) SetOptions(opts Options) {
	opts = opts.withDefaults()
	c.opts.Store(&opts)
}

func proxyFunc(proxyURL string) func(*http.Request) (*url.URL, error) {
	if proxyURL != "" {
		if parsed, err := url.Parse(proxyURL); err == nil {
			return http.ProxyURL(parsed)
		}
	}
	return http.ProxyFromEnvironment
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type request struct {
	op      string
	method  string
	url     string
	body    []byte
	header  http.Header
	timeout time.Duration
}

type response struct {
	status int
	header http.Header
	body   []byte
}

// do performs one HTTP exchange and reads the whole body.
func (c *Client) do(ctx context.Context, token string, r request) (*response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	ctx, span := tracing.StartSpan(ctx, "upstream", r.op,
		trace.WithAttributes(
			attribute.String("http.method", r.method),
			attribute.String("http.url", r.url),
		))
	defer span.End()

	var body *bytes.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, r.url, body)
	if err != nil {
		tracing.Finish(span, err)
		return nil, err
	}
	for k, vs := range r.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	monitoring.UpstreamRequestDuration.WithLabelValues(r.op).Observe(time.Since(start).Seconds())
	if err != nil {
		monitoring.UpstreamRequestsTotal.WithLabelValues(r.op, monitoring.StatusClass(0)).Inc()
		tracing.Finish(span, err)
		log.WithError(err).WithFields(log.Fields{
			"op":         r.op,
			"token":      logging.MaskToken(token),
			"request_id": RequestID(ctx),
		}).Warn("upstream: request failed")
		return nil, fmt.Errorf("%s request failed: %w", r.op, err)
	}
	data, err := readAll(resp, maxResponseBody)
	monitoring.UpstreamRequestsTotal.WithLabelValues(r.op, monitoring.StatusClass(resp.StatusCode)).Inc()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if err != nil {
		tracing.Finish(span, err)
		return nil, fmt.Errorf("%s read body: %w", r.op, err)
	}
	tracing.Finish(span, nil)
	return &response{status: resp.StatusCode, header: resp.Header, body: data}, nil
}

// withRetry re-runs fn while it fails with a retryable status, waiting
// (attempt+1) * 500ms between tries.
func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	opts := c.Options()
	attempt := 0
	for {
		err := fn()
		if err == nil {
			return nil
		}
		status, ok := StatusOf(err)
		if !ok {
			return err
		}
		attempt++
		if attempt > opts.MaxRetry || !containsInt(opts.RetryStatusCodes, status) {
			return err
		}
		delay := time.Duration(attempt+1) * constants.UpstreamRetryBaseDelay
		log.WithFields(log.Fields{
			"op":      op,
			"attempt": attempt,
			"max":     opts.MaxRetry,
			"status":  status,
			"delay":   delay.String(),
		}).Warn("upstream: retrying")
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

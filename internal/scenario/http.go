// Package scenario provides the built-in HTTP scenario: one request per
// iteration, with response time, size and JSON body values reported as
// measurements.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/torosent/stampede/internal/config"
	"github.com/torosent/stampede/internal/feeder"
	"github.com/torosent/stampede/internal/runner"
	"github.com/torosent/stampede/internal/tracing"
)

const (
	maxLoggedBodyBytes = 1024
	maxBodyReadSize    = 1024 * 1024

	// Measurement names reported for every response.
	MeasureTTFB      = "ttfb_ms"
	MeasureBodyBytes = "body_bytes"
)

var headerSanitizer = strings.NewReplacer("\r", "", "\n", "")

// HTTPError is returned for responses with a 4xx or 5xx status.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Reason groups failures by status code only.
func (e *HTTPError) Reason() string {
	return "HTTP " + strconv.Itoa(e.StatusCode)
}

// HTTPOptions configure an HTTP scenario.
type HTTPOptions struct {
	Method   string
	URL      string
	Headers  map[string]string
	Body     BodySource
	Measures []Measure
	Client   *http.Client
	// Feed fills {{field}} placeholders in the URL, header values and an
	// inline body with the row picked by the iteration ID.
	Feed *feeder.Dataset

	// Tracer, when set, wraps each request in a client span.
	Tracer trace.Tracer
	// Propagate injects W3C trace context into request headers.
	Propagate bool
	Logger    *zap.Logger
}

// HTTP is a runner.Scenario issuing one request per iteration.
type HTTP struct {
	method    string
	target    string
	headers   http.Header
	body      BodySource
	measures  []Measure
	client    *http.Client
	tracer    trace.Tracer
	propagate bool
	logger    *zap.Logger

	feed       *feeder.Dataset
	urlTmpl    feeder.Template
	headerTmpl map[string]feeder.Template
	bodyTmpl   *feeder.Template
}

var _ runner.Scenario = (*HTTP)(nil)

// NewHTTP validates opts and builds the scenario.
func NewHTTP(opts HTTPOptions) (*HTTP, error) {
	target := strings.TrimSpace(opts.URL)
	if target == "" {
		return nil, errors.New("target URL is required")
	}
	method := strings.ToUpper(strings.TrimSpace(opts.Method))
	if method == "" {
		method = http.MethodGet
	}

	headers := http.Header{}
	for key, value := range opts.Headers {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" || strings.ContainsAny(trimmedKey, "\r\n") {
			return nil, fmt.Errorf("invalid header key %q", key)
		}
		canonicalKey := http.CanonicalHeaderKey(trimmedKey)
		if strings.ContainsAny(value, "\r\n") {
			return nil, fmt.Errorf("invalid header value for %s", canonicalKey)
		}
		headers.Set(canonicalKey, value)
	}

	seen := make(map[string]bool, len(opts.Measures))
	for _, m := range opts.Measures {
		switch m.Name {
		case "", MeasureTTFB, MeasureBodyBytes:
			return nil, fmt.Errorf("invalid measure name %q", m.Name)
		}
		if seen[m.Name] {
			return nil, fmt.Errorf("duplicate measure %q", m.Name)
		}
		seen[m.Name] = true
	}

	h := &HTTP{
		method:    method,
		target:    target,
		headers:   headers,
		body:      opts.Body,
		measures:  opts.Measures,
		client:    opts.Client,
		tracer:    opts.Tracer,
		propagate: opts.Propagate,
		logger:    opts.Logger,
	}
	if h.body == nil {
		h.body = emptyBodySource{}
	}
	if h.client == nil {
		h.client = NewClient(30 * time.Second)
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	if opts.Feed != nil {
		h.compileTemplates(opts.Feed)
	}
	return h, nil
}

// FromConfig builds the HTTP scenario described by cfg.
func FromConfig(cfg *config.Config, tracer trace.Tracer, propagate bool, logger *zap.Logger) (*HTTP, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	body, err := NewBodySource(cfg.Body, cfg.BodyFile)
	if err != nil {
		return nil, err
	}
	measures := make([]Measure, 0, len(cfg.Measures))
	for _, m := range cfg.Measures {
		measures = append(measures, Measure{Name: m.Name, Path: m.Path})
	}
	var feed *feeder.Dataset
	if cfg.Feeder.Path != "" {
		if feed, err = feeder.Load(cfg.Feeder.Path, cfg.Feeder.FeederType(), cfg.Feeder.Once); err != nil {
			return nil, err
		}
	}
	return NewHTTP(HTTPOptions{
		Method:    cfg.Method,
		URL:       cfg.TargetURL,
		Headers:   cfg.Headers,
		Body:      body,
		Measures:  measures,
		Client:    NewClient(cfg.Timeout),
		Feed:      feed,
		Tracer:    tracer,
		Propagate: propagate,
		Logger:    logger,
	})
}

// Name is used for iteration span names.
func (h *HTTP) Name() string {
	return h.method + " " + h.target
}

func (h *HTTP) Run(ctx context.Context, it runner.Iteration) (runner.Measurements, error) {
	target, headers, body := h.target, h.headers, h.body
	if h.feed != nil {
		record, err := h.feed.Row(it.ID)
		if err != nil {
			// Running out of rows ends the run rather than failing forever.
			return nil, runner.Abort(err)
		}
		target, headers, body = h.expand(record)
	}

	var span trace.Span
	if h.tracer != nil {
		ctx, span = tracing.StartRequestSpan(ctx, h.tracer, "http", target)
	}
	m, status, err := h.do(ctx, target, headers, body)
	if span != nil {
		attrs := []attribute.KeyValue{attribute.String("http.request.method", h.method)}
		if status > 0 {
			attrs = append(attrs, attribute.Int("http.response.status_code", status))
		}
		tracing.EndSpan(span, err, attrs...)
	}
	return m, err
}

func (h *HTTP) compileTemplates(feed *feeder.Dataset) {
	h.feed = feed
	h.urlTmpl = feeder.Compile(h.target)
	for key, values := range h.headers {
		if len(values) == 0 {
			continue
		}
		if t := feeder.Compile(values[0]); !t.Static() {
			if h.headerTmpl == nil {
				h.headerTmpl = make(map[string]feeder.Template)
			}
			h.headerTmpl[key] = t
		}
	}
	if inline, ok := h.body.(*inlineBodySource); ok {
		if t := feeder.Compile(string(inline.data)); !t.Static() {
			h.bodyTmpl = &t
		}
	}
}

// expand builds the per-iteration target, headers and body from record.
func (h *HTTP) expand(record feeder.Record) (string, http.Header, BodySource) {
	target := h.urlTmpl.Expand(record)
	headers := h.headers
	if len(h.headerTmpl) > 0 {
		headers = h.headers.Clone()
		for key, t := range h.headerTmpl {
			headers.Set(key, headerSanitizer.Replace(t.Expand(record)))
		}
	}
	body := h.body
	if h.bodyTmpl != nil {
		body = &inlineBodySource{data: []byte(h.bodyTmpl.Expand(record))}
	}
	return target, headers, body
}

func (h *HTTP) do(ctx context.Context, target string, headers http.Header, body BodySource) (runner.Measurements, int, error) {
	reader, err := body.NewReader()
	if err != nil {
		return nil, 0, fmt.Errorf("open body: %w", err)
	}

	start := time.Now()
	var firstByte time.Time
	ctx = httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
		GotFirstResponseByte: func() { firstByte = time.Now() },
	})

	req, err := http.NewRequestWithContext(ctx, h.method, target, reader)
	if err != nil {
		_ = reader.Close()
		return nil, 0, err
	}
	req.Header = headers.Clone()
	if length, ok := body.ContentLength(); ok {
		req.ContentLength = length
	}
	req.GetBody = body.NewReader
	if h.propagate {
		tracing.InjectHTTPHeaders(ctx, req.Header)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	// Body read errors are non-fatal; measures are simply not extracted.
	respBody, bodyErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyReadSize))
	if bodyErr != nil {
		respBody = nil
	}

	m := runner.Measurements{MeasureBodyBytes: float64(len(respBody))}
	if !firstByte.IsZero() {
		m[MeasureTTFB] = float64(firstByte.Sub(start)) / float64(time.Millisecond)
	}

	if resp.StatusCode >= 400 {
		snippet := respBody
		if len(snippet) > maxLoggedBodyBytes {
			snippet = snippet[:maxLoggedBodyBytes]
		}
		return m, resp.StatusCode, &HTTPError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	if missing := extractAll(respBody, h.measures, m); len(missing) > 0 {
		h.logger.Debug("measures not found in response", zap.Strings("measures", missing))
	}
	return m, resp.StatusCode, nil
}

// NewClient returns a client tuned for many concurrent connections to one
// host.
func NewClient(timeout time.Duration) *http.Client {
	if timeout < 0 {
		timeout = 0
	}
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// Retryable reports whether a failed request is worth retrying: transport
// errors, 429 and 5xx responses are, other client errors are not.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}
	return true
}

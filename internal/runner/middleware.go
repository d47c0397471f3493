package runner

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/torosent/stampede/internal/tracing"
)

// FailureLogger logs failed iterations.
type FailureLogger interface {
	LogFailure(it Iteration, err error)
}

// RetryPolicy configures retry behavior.
type RetryPolicy struct {
	MaxAttempts int                                        // total attempts including initial try
	Delay       time.Duration                              // fixed delay between retries (used if DelayFunc nil)
	ShouldRetry func(error) bool                           // predicate; if nil, all errors retried
	DelayFunc   func(attempt int, err error) time.Duration // dynamic backoff; attempt is 1-based
}

type retryScenario struct {
	inner  Scenario
	policy RetryPolicy
}

// WithRetry retries failed iterations inside a single iteration, so the
// recorded duration covers every attempt.
func WithRetry(s Scenario, policy RetryPolicy) Scenario {
	if policy.MaxAttempts <= 1 {
		return s
	}
	return &retryScenario{inner: s, policy: policy}
}

func (r *retryScenario) Run(ctx context.Context, it Iteration) (Measurements, error) {
	var (
		m       Measurements
		lastErr error
	)
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return m, ctx.Err()
		}

		m, lastErr = r.inner.Run(ctx, it)
		if lastErr == nil {
			return m, nil
		}
		var ab *AbortError
		if errors.As(lastErr, &ab) {
			return m, lastErr
		}

		// Don't delay after the last attempt.
		if attempt < r.policy.MaxAttempts {
			if r.policy.ShouldRetry != nil && !r.policy.ShouldRetry(lastErr) {
				return m, lastErr
			}
			delay := r.policy.Delay
			if r.policy.DelayFunc != nil {
				delay = r.policy.DelayFunc(attempt, lastErr)
			}
			if delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-timer.C:
				case <-ctx.Done():
					timer.Stop()
					return m, ctx.Err()
				}
			}
		}
	}
	return m, lastErr
}

type loggingScenario struct {
	inner  Scenario
	logger FailureLogger
}

// WithLogging reports every failed iteration to logger.
func WithLogging(s Scenario, logger FailureLogger) Scenario {
	if logger == nil {
		return s
	}
	return &loggingScenario{inner: s, logger: logger}
}

func (l *loggingScenario) Run(ctx context.Context, it Iteration) (Measurements, error) {
	m, err := l.inner.Run(ctx, it)
	if err != nil {
		l.logger.LogFailure(it, err)
	}
	return m, err
}

// ZapFailureLogger writes iteration failures through zap, dropping lines
// above a fixed rate so a failing target cannot flood the output.
type ZapFailureLogger struct {
	logger     *zap.Logger
	limiter    *rate.Limiter
	suppressed atomic.Int64
}

// NewZapFailureLogger logs at most perSecond failures per second, with a
// burst of the same size. perSecond <= 0 disables the limit.
func NewZapFailureLogger(logger *zap.Logger, perSecond float64) *ZapFailureLogger {
	limit, burst := rate.Inf, 0
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
		burst = max(1, int(perSecond))
	}
	return &ZapFailureLogger{logger: logger, limiter: rate.NewLimiter(limit, burst)}
}

func (z *ZapFailureLogger) LogFailure(it Iteration, err error) {
	if !z.limiter.Allow() {
		z.suppressed.Add(1)
		return
	}
	fields := []zap.Field{
		zap.Int64("iteration", it.ID),
		zap.String("reason", failureReason(err)),
		zap.Error(err),
	}
	if it.VU > 0 {
		fields = append(fields, zap.Int64("vu", it.VU))
	}
	if n := z.suppressed.Swap(0); n > 0 {
		fields = append(fields, zap.Int64("suppressed", n))
	}
	z.logger.Warn("iteration failed", fields...)
}

// Suppressed reports failures dropped by the rate limit since the last
// logged line.
func (z *ZapFailureLogger) Suppressed() int64 { return z.suppressed.Load() }

type tracingScenario struct {
	inner  Scenario
	tracer trace.Tracer
	name   string
}

// WithTracing wraps every iteration in a span named after the scenario.
func WithTracing(s Scenario, tracer trace.Tracer, name string) Scenario {
	if tracer == nil {
		return s
	}
	return &tracingScenario{inner: s, tracer: tracer, name: name}
}

func (t *tracingScenario) Run(ctx context.Context, it Iteration) (Measurements, error) {
	ctx, span := tracing.StartIterationSpan(ctx, t.tracer, t.name, it.RunID, it.ID, it.VU)
	defer func() {
		if r := recover(); r != nil {
			tracing.EndSpan(span, fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()
	m, err := t.inner.Run(ctx, it)
	attrs := make([]attribute.KeyValue, 0, len(m))
	for name, v := range m {
		attrs = append(attrs, attribute.Float64("stampede.measurement."+name, v))
	}
	tracing.EndSpan(span, err, attrs...)
	return m, err
}

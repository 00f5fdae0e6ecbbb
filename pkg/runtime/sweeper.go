package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Expirer drops state that outlived its TTL and reports how much it removed.
type Expirer interface {
	Expire(ctx context.Context) (int, error)
}

// Sweeper runs expirers on a fixed interval.
type Sweeper struct {
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	expirers []Expirer

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper returns a stopped sweeper. A non-positive interval disables it;
// timeout bounds each sweep when positive.
func NewSweeper(interval, timeout time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{interval: interval, timeout: timeout, logger: logger}
}

// Add registers an expirer. Call before Start.
func (s *Sweeper) Add(e Expirer) {
	if e != nil {
		s.expirers = append(s.expirers, e)
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start() {
	if s.interval <= 0 || len(s.expirers) == 0 {
		s.logger.Info("runtime.sweeper.disabled",
			slog.Duration("interval", s.interval),
			slog.Int("expirers", len(s.expirers)),
		)
		return
	}
	s.Stop()
	initSweepMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
}

// Stop ends the loop and waits for an in-flight sweep.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info("runtime.sweeper.start", slog.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("runtime.sweeper.stop")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	ctx, span := otel.Tracer("chorus/runtime").Start(ctx, "runtime.sweep",
		trace.WithAttributes(attribute.Int("expirers", len(s.expirers))))
	defer span.End()

	for _, e := range s.expirers {
		name := fmt.Sprintf("%T", e)
		attrs := metric.WithAttributes(attribute.String("expirer", name))
		start := time.Now()
		n, err := e.Expire(ctx)
		sweepLatencyMs.Record(ctx, float64(time.Since(start).Microseconds())/1000, attrs)
		if err != nil {
			span.RecordError(err)
			sweepErrors.Add(ctx, 1, attrs)
			s.logger.WarnContext(ctx, "runtime.sweep.error", slog.String("expirer", name), slog.String("error", err.Error()))
			continue
		}
		if n > 0 {
			expiredCounter.Add(ctx, int64(n), attrs)
			s.logger.InfoContext(ctx, "runtime.sweep.expired", slog.String("expirer", name), slog.Int("expired", n))
		}
	}
}

var (
	sweepMetricsOnce sync.Once
	sweepErrors      metric.Int64Counter
	expiredCounter   metric.Int64Counter
	sweepLatencyMs   metric.Float64Histogram
)

func initSweepMetrics() {
	sweepMetricsOnce.Do(func() {
		meter := otel.Meter("chorus/runtime")
		sweepErrors, _ = meter.Int64Counter("chorus.runtime.sweep.errors")
		expiredCounter, _ = meter.Int64Counter("chorus.runtime.sweep.expired")
		sweepLatencyMs, _ = meter.Float64Histogram("chorus.runtime.sweep.latency_ms")
	})
}

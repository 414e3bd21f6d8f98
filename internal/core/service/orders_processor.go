package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/order-pipeline/internal/core/domain"
	"github.com/rl1809/order-pipeline/internal/metrics"
	"github.com/rl1809/order-pipeline/internal/port"
)

const (
	DefaultInterval      = 30 * time.Second
	DefaultInitialDelay  = 15 * time.Second
	DefaultOrderTimeout  = 10 * time.Second
	DefaultNotifyTimeout = 5 * time.Second
)

// OrderTransitioner is the slice of OrderService the processor drives.
type OrderTransitioner interface {
	FindNotFinishedOrders(ctx context.Context) ([]domain.Order, error)
	Transition(ctx context.Context, order domain.Order, target domain.OrderStatus) (domain.Order, error)
}

type ProcessorConfig struct {
	Enabled       bool
	Interval      time.Duration
	InitialDelay  time.Duration
	OrderTimeout  time.Duration
	NotifyTimeout time.Duration
}

// TickResult summarises one tick.
type TickResult struct {
	Skipped     bool
	Loaded      int
	Advanced    int
	Cancelled   int
	Failed      int
	NotifyFails int
}

// OrdersProcessor advances every unfinished order by one status per tick and
// notifies downstream consumers about each advanced order.
type OrdersProcessor struct {
	orders    OrderTransitioner
	notifiers []port.Notifier
	cfg       ProcessorConfig
	logger    *zap.Logger
	metrics   *metrics.ProcessorMetrics
	tracer    trace.Tracer

	running atomic.Bool
}

func NewOrdersProcessor(
	orders OrderTransitioner,
	notifiers []port.Notifier,
	cfg ProcessorConfig,
	logger *zap.Logger,
	m *metrics.ProcessorMetrics,
	tracer trace.Tracer,
) *OrdersProcessor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = 0
	}
	if cfg.OrderTimeout <= 0 {
		cfg.OrderTimeout = DefaultOrderTimeout
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = DefaultNotifyTimeout
	}
	if m == nil {
		m = metrics.NewProcessorMetrics(prometheus.NewRegistry())
	}
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &OrdersProcessor{
		orders:    orders,
		notifiers: notifiers,
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
		tracer:    tracer,
	}
}

// Run waits for the initial delay and then ticks at a fixed rate until ctx is
// done. Ticks that fire while a previous one is still running are dropped by
// the ticker, and Tick itself refuses to overlap with manual calls.
func (p *OrdersProcessor) Run(ctx context.Context) error {
	if !p.cfg.Enabled {
		p.logger.Info("orders processor disabled")
		<-ctx.Done()
		return nil
	}

	p.logger.Info("orders processor started",
		zap.Duration("interval", p.cfg.Interval),
		zap.Duration("initial_delay", p.cfg.InitialDelay))

	select {
	case <-ctx.Done():
		return nil
	case <-time.After(p.cfg.InitialDelay):
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		p.Tick(ctx)

		select {
		case <-ctx.Done():
			p.logger.Info("orders processor stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick loads all unfinished orders and advances each one step. It is a no-op
// when the processor is disabled or another tick is in flight.
func (p *OrdersProcessor) Tick(ctx context.Context) TickResult {
	if !p.cfg.Enabled {
		return TickResult{Skipped: true}
	}
	if !p.running.CompareAndSwap(false, true) {
		p.logger.Warn("previous tick still running, skipping")
		p.metrics.SkippedTicks.Inc()
		return TickResult{Skipped: true}
	}
	defer p.running.Store(false)

	start := time.Now()
	defer func() {
		p.metrics.TickDuration.Observe(float64(time.Since(start).Milliseconds()))
	}()
	p.metrics.Ticks.Inc()

	ctx, span := p.tracer.Start(ctx, "orders.tick")
	defer span.End()

	var res TickResult
	orders, err := p.orders.FindNotFinishedOrders(ctx)
	if err != nil {
		p.logger.Error("failed to load unfinished orders", zap.Error(err))
		p.metrics.Failures.WithLabelValues("load").Inc()
		return res
	}
	res.Loaded = len(orders)
	span.SetAttributes(attribute.Int("orders.loaded", len(orders)))

	if len(orders) == 0 {
		p.logger.Info("no orders to process")
		return res
	}

	for _, order := range orders {
		if ctx.Err() != nil {
			break
		}
		p.processOrder(ctx, order, &res)
	}

	p.logger.Info("tick finished",
		zap.Int("loaded", res.Loaded),
		zap.Int("advanced", res.Advanced),
		zap.Int("cancelled", res.Cancelled),
		zap.Int("failed", res.Failed),
		zap.Int("notify_failures", res.NotifyFails))
	return res
}

// processOrder is the failure boundary for a single order.
func (p *OrdersProcessor) processOrder(ctx context.Context, order domain.Order, res *TickResult) {
	next, ok := domain.Next(order.Status)
	if !ok {
		return
	}

	orderCtx, cancel := context.WithTimeout(ctx, p.cfg.OrderTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			res.Failed++
			p.metrics.Failures.WithLabelValues("panic").Inc()
			p.logger.Error("recovered while processing order",
				zap.String("order_id", order.ID.String()),
				zap.Any("panic", r))
		}
	}()

	p.logger.Info("moving order",
		zap.String("order_id", order.ID.String()),
		zap.String("from", string(order.Status)),
		zap.String("to", string(next)))

	updated, err := p.orders.Transition(orderCtx, order, next)
	if err != nil {
		res.Failed++
		stage := "transition"
		if errors.Is(err, ErrStaleOrder) {
			stage = "stale"
		}
		p.metrics.Failures.WithLabelValues(stage).Inc()
		p.logger.Error("failed to transition order",
			zap.String("order_id", order.ID.String()),
			zap.Error(err))
		return
	}

	res.Advanced++
	if updated.Status == domain.OrderStatusCancelled {
		res.Cancelled++
	}
	p.metrics.Transitions.WithLabelValues(string(updated.Status)).Inc()

	// The status is already persisted; notifications get their own budget.
	res.NotifyFails += p.notify(ctx, updated)
}

// notify fans the order out to every notifier, each under its own timeout.
// Failures are logged and counted, never propagated.
func (p *OrdersProcessor) notify(ctx context.Context, order domain.Order) int {
	failed := 0
	for _, n := range p.notifiers {
		if err := p.notifyOne(ctx, n, order); err != nil {
			failed++
			p.metrics.Failures.WithLabelValues("notify").Inc()
			p.logger.Error("failed to notify",
				zap.String("notifier", n.Name()),
				zap.String("order_id", order.ID.String()),
				zap.Error(err))
		}
	}
	return failed
}

func (p *OrdersProcessor) notifyOne(ctx context.Context, n port.Notifier, order domain.Order) (err error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.NotifyTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panic: %v", r)
		}
	}()
	return n.Notify(ctx, order)
}

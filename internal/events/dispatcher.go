package events

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"kyc-service/internal/metrics"
	"kyc-service/internal/models"
	"kyc-service/internal/util"
)

const defaultSinkTimeout = 5 * time.Second

// Dispatcher fans each event out to every sink concurrently. Delivery is
// best effort: a failing sink is logged and counted, never surfaced to the
// caller, and never blocks the other sinks.
type Dispatcher struct {
	sinks   []Sink
	timeout time.Duration
}

func NewDispatcher(timeout time.Duration, sinks ...Sink) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultSinkTimeout
	}
	return &Dispatcher{sinks: sinks, timeout: timeout}
}

func (d *Dispatcher) StatusChanged(ctx context.Context, change *models.StatusChange, rec *models.VerificationRecord) {
	d.fanOut(ctx, "status_changed", func(ctx context.Context, s Sink) error {
		return s.StatusChanged(ctx, change, rec)
	}, zap.String("reference", change.Reference), zap.String("to", change.To.String()))
}

func (d *Dispatcher) WebhookReceived(ctx context.Context, receipt *models.WebhookReceipt) {
	d.fanOut(ctx, "webhook_received", func(ctx context.Context, s Sink) error {
		return s.WebhookReceived(ctx, receipt)
	}, zap.String("reference", receipt.Reference), zap.String("outcome", receipt.Outcome))
}

func (d *Dispatcher) fanOut(ctx context.Context, kind string, deliver func(context.Context, Sink) error, fields ...zap.Field) {
	if len(d.sinks) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	var g errgroup.Group
	for _, sink := range d.sinks {
		sink := sink
		g.Go(func() error {
			if err := deliver(ctx, sink); err != nil {
				metrics.EventSinkFailures.WithLabelValues(sink.Name()).Inc()
				util.Error("Event sink delivery failed",
					append(fields,
						zap.String("sink", sink.Name()),
						zap.String("event", kind),
						zap.Error(err))...)
			}
			return nil
		})
	}
	_ = g.Wait()
}

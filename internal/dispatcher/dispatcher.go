// Package dispatcher implements the two broadcast delivery modes: naive
// (synchronous, ordered, timeout-bounded) and queue (non-blocking
// enqueue with drop-oldest), selected once at startup.
package dispatcher

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"wsfanout/internal/message"
	"wsfanout/internal/session"
)

// Metrics is the narrow set of counters the dispatcher updates. Backed by
// internal/metrics in production.
type Metrics interface {
	IncMessagesPublished()
	IncMessagesDelivered()
	IncMessagesDropped()
	IncSendErrors()
}

// Dispatcher delivers each message produced by the publisher to every
// session in the registry snapshot taken at delivery time.
type Dispatcher struct {
	registry       *session.Registry
	mode           session.Mode
	naiveTimeout   time.Duration
	sweepInterval  time.Duration
	metrics        Metrics
	logger         zerolog.Logger
}

// New builds a Dispatcher. mode is fixed for the process lifetime.
func New(registry *session.Registry, mode session.Mode, naiveTimeout, sweepInterval time.Duration, metrics Metrics, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		registry:      registry,
		mode:          mode,
		naiveTimeout:  naiveTimeout,
		sweepInterval: sweepInterval,
		metrics:       metrics,
		logger:        logger,
	}
}

// Dispatch delivers msg to every session in the current registry
// snapshot. It never blocks on a slow client in queue mode; in naive mode
// a single slow client can delay the rest of the snapshot by up to
// naiveTimeout (the behavior the project exists to contrast).
func (d *Dispatcher) Dispatch(ctx context.Context, msg message.Message) {
	if d.metrics != nil {
		d.metrics.IncMessagesPublished()
	}

	snapshot := d.registry.Snapshot()
	switch d.mode {
	case session.ModeNaive:
		d.dispatchNaive(ctx, snapshot, msg)
	default:
		d.dispatchQueue(snapshot, msg)
	}
}

func (d *Dispatcher) dispatchNaive(ctx context.Context, sessions []*session.Session, msg message.Message) {
	for _, s := range sessions {
		if s.State() != session.StateOpen {
			continue
		}
		if err := s.SendDirect(ctx, msg, d.naiveTimeout); err != nil {
			if d.metrics != nil {
				d.metrics.IncSendErrors()
			}
			continue
		}
		if d.metrics != nil {
			d.metrics.IncMessagesDelivered()
		}
	}
}

func (d *Dispatcher) dispatchQueue(sessions []*session.Session, msg message.Message) {
	for _, s := range sessions {
		if s.State() != session.StateOpen {
			continue
		}
		dropped := s.Enqueue(msg)
		if dropped {
			if d.metrics != nil {
				d.metrics.IncMessagesDropped()
			}
			continue
		}
		if d.metrics != nil {
			d.metrics.IncMessagesDelivered()
		}
	}
}

// RunSweeper runs the periodic full-timeout sweep (disconnect policy 2)
// until ctx is cancelled. Queue mode only; naive-mode sessions have no
// queue and so no full_since to sweep.
func (d *Dispatcher) RunSweeper(ctx context.Context, now func() time.Time) {
	if d.mode != session.ModeQueue {
		return
	}
	ticker := time.NewTicker(d.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range d.registry.Snapshot() {
				s.SweepFullTimeout(now())
			}
		}
	}
}

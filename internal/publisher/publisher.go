// Package publisher produces one Message per tick at a configured rate,
// correcting drift against absolute deadlines rather than accumulating
// sleep error.
package publisher

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"wsfanout/internal/clock"
	"wsfanout/internal/message"
	"wsfanout/internal/payload"
)

// Sink receives each produced Message. The dispatcher implements this.
type Sink interface {
	Dispatch(ctx context.Context, msg message.Message)
}

// Publisher generates messages at a fixed rate.
type Publisher struct {
	rate         float64
	payloadBytes int
	clock        clock.Clock
	payloads     payload.Source
	sink         Sink
	logger       zerolog.Logger

	seq atomic.Uint64

	produced atomic.Uint64 // lifetime count, for the rate metric
}

// New builds a Publisher targeting rate messages/sec, each carrying a
// fresh payloadBytes-sized payload.
func New(rate float64, payloadBytes int, clk clock.Clock, payloads payload.Source, sink Sink, logger zerolog.Logger) *Publisher {
	return &Publisher{
		rate:         rate,
		payloadBytes: payloadBytes,
		clock:        clk,
		payloads:     payloads,
		sink:         sink,
		logger:       logger,
	}
}

// Produced returns the lifetime count of messages produced, used by the
// metrics aggregator to compute pub_rate.
func (p *Publisher) Produced() uint64 { return p.produced.Load() }

// Run ticks at the configured rate until ctx is cancelled. It never
// blocks on a slow dispatcher call beyond the dispatch itself (the
// dispatcher is infallible; in queue mode it never blocks on a client,
// in naive mode it can take up to its per-send timeout per slow
// session); a tick whose dispatch is
// still running when the next deadline arrives is simply late, which is
// visible in pub_rate rather than hidden.
func (p *Publisher) Run(ctx context.Context) {
	if p.rate <= 0 {
		return
	}
	period := time.Duration(float64(time.Second) / p.rate)
	deadline := p.clock.Now().Add(period)
	timer := p.clock.NewTimer(time.Until(deadline))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("publisher stopped")
			return
		case <-timer.C:
			p.tick(ctx)
			deadline = deadline.Add(period)
			wait := time.Until(deadline)
			if wait < 0 {
				// Fell behind by more than one period; resync instead of
				// firing a burst of already-late ticks.
				deadline = p.clock.Now().Add(period)
				wait = period
			}
			timer.Reset(wait)
		}
	}
}

func (p *Publisher) tick(ctx context.Context) {
	seq := p.seq.Add(1)
	msg := message.Message{
		Seq:       seq,
		PublishTS: p.clock.Now().UnixNano(),
		Payload:   p.payloads.Next(p.payloadBytes),
	}
	p.produced.Add(1)
	p.sink.Dispatch(ctx, msg)
}

package publisher

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"wsfanout/internal/clock"
	"wsfanout/internal/message"
	"wsfanout/internal/payload"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Dispatch(ctx context.Context, msg message.Message) {
	s.count.Add(1)
}

func TestPublisherProducesAtConfiguredRate(t *testing.T) {
	sink := &countingSink{}
	p := New(100, 16, clock.Real{}, payload.Random{}, sink, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 220*time.Millisecond)
	defer cancel()
	p.Run(ctx)

	// 100 msg/sec for ~0.2s should produce roughly 20 messages; allow a
	// generous band since the test environment's scheduler isn't exact.
	got := sink.count.Load()
	if got < 10 || got > 35 {
		t.Fatalf("want roughly 20 produced messages in 220ms at 100/sec, got %d", got)
	}
	if p.Produced() != uint64(got) {
		t.Fatalf("want Produced() == dispatch count, got Produced()=%d count=%d", p.Produced(), got)
	}
}

func TestPublisherZeroRateNeverTicks(t *testing.T) {
	sink := &countingSink{}
	p := New(0, 16, clock.Real{}, payload.Random{}, sink, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	p.Run(ctx)

	if sink.count.Load() != 0 {
		t.Fatalf("want 0 produced at rate 0, got %d", sink.count.Load())
	}
}

func TestPublisherSeqIncreases(t *testing.T) {
	var lastSeq uint64
	sink := sinkFunc(func(ctx context.Context, msg message.Message) {
		if msg.Seq <= lastSeq {
			t.Errorf("want strictly increasing seq, got %d after %d", msg.Seq, lastSeq)
		}
		lastSeq = msg.Seq
	})
	p := New(200, 8, clock.Real{}, payload.Random{}, sink, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	p.Run(ctx)
}

type sinkFunc func(ctx context.Context, msg message.Message)

func (f sinkFunc) Dispatch(ctx context.Context, msg message.Message) { f(ctx, msg) }

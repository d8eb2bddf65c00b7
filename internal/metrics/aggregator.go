package metrics

import (
	"context"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"

	"wsfanout/internal/publisher"
	"wsfanout/internal/session"
)

// Sample is one periodic snapshot emitted by the Aggregator.
type Sample struct {
	Clients          int
	PubRate          float64
	E2ELatencyP50Ms  *float64
	E2ELatencyP95Ms  *float64
	DisconnectsTotal uint64
	Sessions         []SessionSample
}

// SessionSample is one optional per-session metrics row.
type SessionSample struct {
	ID            string
	QueueLen      int
	DropsTotal    uint64
	SendLatencyMs float64
	E2ELatencyMs  float64
}

// Aggregator computes the periodic metrics sample and pushes it into the
// Prometheus Registry. Percentiles are computed by sorting the sample
// buffer and taking the element at floor(p*N), an exact order-statistic
// rather than a Prometheus/HDR bucketed estimate.
type Aggregator struct {
	registry   *session.Registry
	publisher  *publisher.Publisher
	prom       *Registry
	period     time.Duration
	logger     zerolog.Logger
	disconnects func() uint64

	proc *process.Process

	lastProduced uint64
	lastSampleAt time.Time
}

// NewAggregator builds an Aggregator. disconnects returns the cumulative
// count of sessions that have reached Closed (tracked by the supervisor).
func NewAggregator(registry *session.Registry, pub *publisher.Publisher, prom *Registry, period time.Duration, disconnects func() uint64, logger zerolog.Logger) *Aggregator {
	proc, _ := process.NewProcess(int32(os.Getpid()))
	return &Aggregator{
		registry:    registry,
		publisher:   pub,
		prom:        prom,
		period:      period,
		logger:      logger,
		disconnects: disconnects,
		proc:        proc,
	}
}

// Run samples every period until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context, now func() time.Time) {
	a.lastSampleAt = now()
	ticker := time.NewTicker(a.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sample(now())
		}
	}
}

func (a *Aggregator) sample(at time.Time) Sample {
	sessions := a.registry.Snapshot()

	elapsed := at.Sub(a.lastSampleAt).Seconds()
	produced := a.publisher.Produced()
	var rate float64
	if elapsed > 0 {
		rate = float64(produced-a.lastProduced) / elapsed
	}
	a.lastProduced = produced
	a.lastSampleAt = at

	var allE2E []time.Duration
	rows := make([]SessionSample, 0, len(sessions))
	for _, s := range sessions {
		e2e := s.E2ELatencySnapshot()
		allE2E = append(allE2E, e2e...)
		rows = append(rows, SessionSample{
			ID:            string(s.ID()),
			QueueLen:      s.QueueLen(),
			DropsTotal:    s.DropsTotal(),
			SendLatencyMs: meanMillis(s.SendLatencySnapshot()),
			E2ELatencyMs:  meanMillis(e2e),
		})
	}

	p50 := percentile(allE2E, 0.50)
	p95 := percentile(allE2E, 0.95)

	sampleResult := Sample{
		Clients:          len(sessions),
		PubRate:          rate,
		E2ELatencyP50Ms:  p50,
		E2ELatencyP95Ms:  p95,
		DisconnectsTotal: a.disconnects(),
		Sessions:         rows,
	}

	a.publish(sampleResult)
	return sampleResult
}

func (a *Aggregator) publish(s Sample) {
	a.prom.Clients.Set(float64(s.Clients))
	a.prom.PubRate.Set(s.PubRate)
	// DisconnectsTotal itself is incremented by the supervisor at the
	// moment each session closes; s.DisconnectsTotal here only feeds the
	// log line below.

	if s.E2ELatencyP50Ms != nil {
		a.prom.E2ELatencyP50Ms.Set(*s.E2ELatencyP50Ms)
	}
	if s.E2ELatencyP95Ms != nil {
		a.prom.E2ELatencyP95Ms.Set(*s.E2ELatencyP95Ms)
	}

	if a.proc != nil {
		if cpuPct, err := a.proc.Percent(0); err == nil {
			a.prom.ProcessCPUPercent.Set(cpuPct)
		}
		if memInfo, err := a.proc.MemoryInfo(); err == nil && memInfo != nil {
			a.prom.ProcessRSSBytes.Set(float64(memInfo.RSS))
		}
	}

	a.logger.Info().
		Int("clients", s.Clients).
		Float64("pub_rate", s.PubRate).
		Uint64("disconnects_total", s.DisconnectsTotal).
		Msg("metrics sample")
}

// percentile returns the element at floor(p*N) of the sorted durations,
// in milliseconds, or nil if samples is empty.
func percentile(samples []time.Duration, p float64) *float64 {
	if len(samples) == 0 {
		return nil
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(p * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	ms := float64(sorted[idx]) / float64(time.Millisecond)
	return &ms
}

func meanMillis(samples []time.Duration) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range samples {
		sum += d
	}
	return float64(sum) / float64(len(samples)) / float64(time.Millisecond)
}

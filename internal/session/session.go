// Package session implements the per-connection state machine: the
// bounded queue, drop-oldest overflow policy, disconnect policies,
// Sender/Receiver tasks, and the Registry that tracks live sessions.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"wsfanout/internal/clock"
	"wsfanout/internal/message"
	"wsfanout/internal/ring"
	"wsfanout/internal/transport"
)

// State is a Session's position in the Open -> Draining -> Closed
// state machine. There are no transitions out of Closed.
type State int32

const (
	StateOpen State = iota
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Mode selects whether a Session is fed via a bounded queue or driven
// synchronously by the dispatcher (naive mode has no queue at all).
type Mode int

const (
	ModeQueue Mode = iota
	ModeNaive
)

// Errors returned by SendDirect (naive mode).
var (
	ErrNotOpen     = errors.New("session: not open")
	ErrSendTimeout = errors.New("session: send timeout")
)

// Config holds the per-session policy knobs, all sourced from the
// process-wide config.Config.
type Config struct {
	MaxSize        int
	DropLimit      int
	DropWindow     time.Duration
	FullTimeout    time.Duration
	LatencySamples int
	MalformedBurst int
	MalformedRate  float64 // tokens/sec
}

// Session owns one client connection's queue, counters, and tasks.
type Session struct {
	id     message.ClientID
	conn   transport.Connection
	mode   Mode
	cfg    Config
	clock  clock.Clock
	logger zerolog.Logger

	removeFunc func()

	mu         sync.Mutex
	queue      *ring.Buffer[message.Message]
	dropsTotal uint64
	dropWindow *ring.Buffer[time.Time]
	fullSince  *time.Time

	sendLatency   *ring.Buffer[time.Duration]
	e2eLatency    *ring.Buffer[time.Duration]
	outboundTS    map[uint64]int64
	outboundOrder *ring.Buffer[uint64]

	state       atomic.Int32
	drainReason atomic.Value // string

	notifyEnqueue chan struct{}
	drainCh       chan struct{}
	drainOnce     sync.Once
	doneCh        chan struct{}

	malformedLimiter *rate.Limiter
}

// New constructs a Session. The caller spawns Run in its own goroutine.
func New(id message.ClientID, conn transport.Connection, mode Mode, cfg Config, clk clock.Clock, logger zerolog.Logger, removeFunc func()) *Session {
	if cfg.LatencySamples <= 0 {
		cfg.LatencySamples = 1
	}
	s := &Session{
		id:            id,
		conn:          conn,
		mode:          mode,
		cfg:           cfg,
		clock:         clk,
		logger:        logger.With().Str("client_id", string(id)).Logger(),
		removeFunc:    removeFunc,
		queue:         ring.New[message.Message](cfg.MaxSize),
		dropWindow:    ring.New[time.Time](cfg.DropLimit + 1),
		sendLatency:   ring.New[time.Duration](cfg.LatencySamples),
		e2eLatency:    ring.New[time.Duration](cfg.LatencySamples),
		outboundTS:    make(map[uint64]int64),
		outboundOrder: ring.New[uint64](cfg.LatencySamples * 2),
		notifyEnqueue: make(chan struct{}, 1),
		drainCh:       make(chan struct{}),
		doneCh:        make(chan struct{}),
		malformedLimiter: rate.NewLimiter(rate.Limit(cfg.MalformedRate), maxInt(cfg.MalformedBurst, 1)),
	}
	s.drainReason.Store("")
	return s
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// ID returns the session's ClientID.
func (s *Session) ID() message.ClientID { return s.id }

// State returns the session's current state.
func (s *Session) State() State { return State(s.state.Load()) }

// DrainReason returns the reason the session began Draining, or "" if it
// never has.
func (s *Session) DrainReason() string {
	v, _ := s.drainReason.Load().(string)
	return v
}

// Done is closed once the session has fully reached Closed.
func (s *Session) Done() <-chan struct{} { return s.doneCh }

// QueueLen returns the current queue length (queue mode only; always 0 in
// naive mode).
func (s *Session) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// DropsTotal returns the lifetime count of drops due to overflow.
func (s *Session) DropsTotal() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropsTotal
}

// SendLatencySnapshot returns a copy of the current send-latency ring
// buffer contents, oldest first.
func (s *Session) SendLatencySnapshot() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendLatency.Snapshot()
}

// E2ELatencySnapshot returns a copy of the current end-to-end latency
// ring buffer contents, oldest first.
func (s *Session) E2ELatencySnapshot() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.e2eLatency.Snapshot()
}

// transitionDraining moves the session from Open to Draining exactly
// once; later calls (any reason) are no-ops.
func (s *Session) transitionDraining(reason string) {
	if s.state.CompareAndSwap(int32(StateOpen), int32(StateDraining)) {
		s.drainReason.Store(reason)
		s.logger.Info().Str("reason", reason).Msg("session draining")
		s.drainOnce.Do(func() { close(s.drainCh) })
	}
}

// Enqueue performs a non-blocking admit into the session's bounded queue
// (queue mode only). On overflow it drops the oldest message, records the
// drop, and evaluates the drop-rate-cap disconnect policy. Returns true
// if a message was dropped to make room.
func (s *Session) Enqueue(msg message.Message) (dropped bool) {
	now := s.clock.Now()

	s.mu.Lock()
	if s.queue.Full() {
		s.queue.PushBack(msg)
		s.dropsTotal++
		s.dropWindow.PushBack(now)
		dropped = true
	} else {
		s.queue.PushBack(msg)
	}

	if s.queue.Len() == s.queue.Cap() {
		if s.fullSince == nil {
			t := now
			s.fullSince = &t
		}
	} else {
		s.fullSince = nil
	}
	s.mu.Unlock()

	select {
	case s.notifyEnqueue <- struct{}{}:
	default:
	}

	if dropped {
		s.checkDropLimit(now)
	}
	return dropped
}

// checkDropLimit implements disconnect policy 1 (drop-rate cap).
func (s *Session) checkDropLimit(now time.Time) {
	cutoff := now.Add(-s.cfg.DropWindow)
	s.mu.Lock()
	s.dropWindow.DropWhile(func(t time.Time) bool { return t.Before(cutoff) })
	n := s.dropWindow.Len()
	s.mu.Unlock()

	if n >= s.cfg.DropLimit {
		s.transitionDraining("excessive_drops")
	}
}

// SweepFullTimeout implements disconnect policy 2 (sustained overflow).
// It is meant to be called periodically by the dispatcher's sweeper for
// every live session.
func (s *Session) SweepFullTimeout(now time.Time) {
	s.mu.Lock()
	fs := s.fullSince
	s.mu.Unlock()
	if fs != nil && now.Sub(*fs) >= s.cfg.FullTimeout {
		s.transitionDraining("queue_full_timeout")
	}
}

func (s *Session) popFront() (message.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.queue.PopFront()
	if s.queue.Len() < s.queue.Cap() {
		s.fullSince = nil
	}
	return msg, ok
}

func (s *Session) recordSendLatency(d time.Duration) {
	s.mu.Lock()
	s.sendLatency.PushBack(d)
	s.mu.Unlock()
}

// trackOutbound remembers a sent message's publish timestamp so a later
// ACK can compute end-to-end latency. The tracked window is bounded; the
// oldest tracked seq is evicted (and silently un-trackable thereafter)
// once it grows past capacity.
func (s *Session) trackOutbound(msg message.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if evicted, ok := s.outboundOrder.PushBack(msg.Seq); ok {
		delete(s.outboundTS, evicted)
	}
	s.outboundTS[msg.Seq] = msg.PublishTS
}

// recordAck computes the e2e latency sample for ackSeq, if still tracked.
// ACKs for unknown or already-evicted seqs are ignored silently.
func (s *Session) recordAck(ackSeq uint64) {
	s.mu.Lock()
	publishTS, ok := s.outboundTS[ackSeq]
	if ok {
		delete(s.outboundTS, ackSeq)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	latency := time.Duration(s.clock.Now().UnixNano() - publishTS)
	if latency < 0 {
		latency = 0
	}
	s.mu.Lock()
	s.e2eLatency.PushBack(latency)
	s.mu.Unlock()
}

// senderLoop is the Sender task (queue mode only): dequeue, transmit,
// sample latency, repeat until Draining or the context is cancelled.
func (s *Session) senderLoop(ctx context.Context) {
	for {
		msg, ok := s.popFront()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-s.drainCh:
				return
			case <-s.notifyEnqueue:
			}
			continue
		}

		payload, err := msg.Encode()
		if err != nil {
			continue
		}

		start := s.clock.Now()
		sendErr := s.conn.Send(payload)
		s.recordSendLatency(s.clock.Since(start))
		if sendErr != nil {
			s.transitionDraining("send_error")
			return
		}
		s.trackOutbound(msg)
	}
}

// receiverLoop is the Receiver task: read ACK frames, record e2e latency
// samples, tolerate a bounded rate of malformed frames.
func (s *Session) receiverLoop(ctx context.Context) {
	for {
		frame, err := s.conn.Recv()
		if err != nil {
			s.transitionDraining("receiver_closed")
			return
		}

		ack, err := message.DecodeAck(frame)
		if err != nil {
			if !s.malformedLimiter.Allow() {
				s.transitionDraining("malformed_input")
				return
			}
			continue
		}
		s.recordAck(ack.AckSeq)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// SendDirect is the naive-mode delivery path: a synchronous send with a
// hard per-send timeout. Exceeding the timeout or erroring Drains the
// session; the caller (the dispatcher) is never blocked beyond timeout.
func (s *Session) SendDirect(ctx context.Context, msg message.Message, timeout time.Duration) error {
	if s.State() != StateOpen {
		return ErrNotOpen
	}
	payload, err := msg.Encode()
	if err != nil {
		return err
	}

	start := s.clock.Now()
	errCh := make(chan error, 1)
	go func() { errCh <- s.conn.Send(payload) }()

	select {
	case sendErr := <-errCh:
		s.recordSendLatency(s.clock.Since(start))
		if sendErr != nil {
			s.transitionDraining("send_error")
			return sendErr
		}
		s.trackOutbound(msg)
		return nil
	case <-time.After(timeout):
		s.transitionDraining("send_timeout")
		return ErrSendTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the session's tasks and blocks until the session reaches
// Closed: both tasks have exited, the connection has been released, and
// the session has removed itself from the Registry. Cancelling ctx
// Drains the session (supervisor shutdown).
func (s *Session) Run(ctx context.Context) {
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		select {
		case <-ctx.Done():
			s.transitionDraining("shutdown")
			_ = s.conn.Close()
		case <-s.drainCh:
			_ = s.conn.Close()
		}
	}()

	var wg sync.WaitGroup
	if s.mode == ModeQueue {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.senderLoop(ctx)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.receiverLoop(ctx)
	}()
	wg.Wait()
	<-watchDone

	s.finalizeClosed()
}

// finalizeClosed performs the Draining -> Closed transition: best-effort
// connection close, Registry removal, and signaling Done.
func (s *Session) finalizeClosed() {
	_ = s.conn.Close()
	s.state.Store(int32(StateClosed))
	if s.removeFunc != nil {
		s.removeFunc()
	}
	close(s.doneCh)
	s.logger.Info().Str("reason", s.DrainReason()).Msg("session closed")
}

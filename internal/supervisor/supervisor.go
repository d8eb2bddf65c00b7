// Package supervisor wires the publisher, dispatcher, metrics aggregator,
// and accept loop together and drives startup/shutdown.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"wsfanout/internal/clock"
	"wsfanout/internal/config"
	"wsfanout/internal/dispatcher"
	"wsfanout/internal/message"
	"wsfanout/internal/metrics"
	"wsfanout/internal/payload"
	"wsfanout/internal/publisher"
	"wsfanout/internal/session"
	"wsfanout/internal/transport"
)

// ShutdownGrace bounds how long Stop waits for sessions to reach Closed.
// Stop does not force-close sessions still open after it elapses.
const ShutdownGrace = 5 * time.Second

// Supervisor owns every long-lived task in the process.
type Supervisor struct {
	cfg    config.Config
	logger zerolog.Logger

	registry   *session.Registry
	publisher  *publisher.Publisher
	dispatcher *dispatcher.Dispatcher
	promRegistry *metrics.Registry
	aggregator *metrics.Aggregator
	clock      clock.Clock

	listener   *transport.Listener
	metricsSrv *http.Server

	disconnects atomic.Uint64
	nextClient  atomic.Uint64

	wg sync.WaitGroup

	shutdownOnce sync.Once
}

// New builds a Supervisor from cfg. Nothing binds or starts until Start
// is called.
func New(cfg config.Config, logger zerolog.Logger) *Supervisor {
	registry := session.NewRegistry()
	promRegistry := metrics.NewRegistry()
	clk := clock.Real{}

	sup := &Supervisor{
		cfg:          cfg,
		logger:       logger,
		registry:     registry,
		promRegistry: promRegistry,
		clock:        clk,
	}

	mode := session.ModeQueue
	if cfg.Mode == config.ModeNaive {
		mode = session.ModeNaive
	}

	sup.dispatcher = dispatcher.New(registry, mode, cfg.SendTimeoutDuration(), 250*time.Millisecond, promRegistry, logger)
	sup.publisher = publisher.New(cfg.Rate, cfg.PayloadBytes, clk, payload.Random{}, sup.dispatcher, logger)
	sup.aggregator = metrics.NewAggregator(registry, sup.publisher, promRegistry, cfg.MetricsPeriodDuration(), sup.disconnects.Load, logger)

	return sup
}

// Start binds the WebSocket listener and the metrics HTTP listener, and
// launches the publisher, dispatcher sweeper, and metrics aggregator.
// Returns a non-nil error only on bind failure (exit code 1 territory).
func (s *Supervisor) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := transport.Listen(addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.logger.Info().Str("addr", addr).Str("mode", string(s.cfg.Mode)).Msg("listening")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(ctx)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.publisher.Run(ctx)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.dispatcher.RunSweeper(ctx, s.clock.Now)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.aggregator.Run(ctx, s.clock.Now)
	}()

	s.startMetricsHTTP(ctx)

	return nil
}

func (s *Supervisor) startMetricsHTTP(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.promRegistry.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  "ok",
			"clients": s.registry.Len(),
		})
	})

	s.metricsSrv = &http.Server{
		Addr:         s.cfg.MetricsAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("metrics http server error")
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.metricsSrv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn().Err(err).Msg("metrics http server shutdown error")
		}
	}()
}

func (s *Supervisor) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error().Err(err).Msg("accept error")
			return
		}

		go s.handleConnection(ctx, conn)
	}
}

func (s *Supervisor) handleConnection(ctx context.Context, conn net.Conn) {
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))
	if err := transport.Upgrade(conn); err != nil {
		s.logger.Debug().Err(err).Msg("upgrade failed")
		_ = conn.Close()
		return
	}
	_ = conn.SetDeadline(time.Time{})

	wsConn := transport.NewWSConnection(conn, s.cfg.PingIntervalDuration(), s.cfg.PingTimeoutDuration())

	prefix := s.negotiatePrefix(conn, wsConn)
	id := s.nextClientID(prefix)

	mode := session.ModeQueue
	if s.cfg.Mode == config.ModeNaive {
		mode = session.ModeNaive
	}

	sessCfg := session.Config{
		MaxSize:        s.cfg.MaxSize,
		DropLimit:      s.cfg.DropLimit,
		DropWindow:     s.cfg.DropWindow(),
		FullTimeout:    s.cfg.FullTimeoutDuration(),
		LatencySamples: s.cfg.LatencySamples,
		MalformedBurst: s.cfg.MalformedBurst,
		MalformedRate:  s.cfg.MalformedRate,
	}

	sess := session.New(id, wsConn, mode, sessCfg, s.clock, s.logger, func() {
		s.registry.Remove(id)
		s.disconnects.Add(1)
		s.promRegistry.DisconnectsTotal.Inc()
	})
	s.registry.Insert(sess)

	stop := make(chan struct{})
	defer close(stop)
	go wsConn.Keepalive(stop, func() {})

	sess.Run(ctx)
}

// helloWait bounds how long negotiatePrefix waits for a Hello frame before
// falling back to the default prefix and proceeding.
const helloWait = 200 * time.Millisecond

// negotiatePrefix reads one frame from conn within helloWait and attempts
// to decode it as a Hello. Absent, malformed, or empty-prefix Hellos all
// fall back to "client"; the frame is consumed either way, so this must
// run before the session's receiver loop starts. In practice this only
// ever costs a real frame if a client sends application data within
// helloWait of connecting without having sent a Hello first, which
// shouldn't happen since clients have nothing to ACK yet at that point.
func (s *Supervisor) negotiatePrefix(conn net.Conn, wsConn transport.Connection) string {
	_ = conn.SetReadDeadline(time.Now().Add(helloWait))
	frame, err := wsConn.Recv()
	_ = conn.SetReadDeadline(time.Time{})
	if err != nil {
		return "client"
	}
	hello, err := message.DecodeHello(frame)
	if err != nil || hello.Prefix == "" {
		return "client"
	}
	return hello.Prefix
}

// nextClientID assigns the next process-lifetime-unique ClientID with the
// given prefix.
func (s *Supervisor) nextClientID(prefix string) message.ClientID {
	counter := s.nextClient.Add(1)
	return message.ClientID(fmt.Sprintf("%s-%d", prefix, counter))
}

// Stop closes the listener, waits up to ShutdownGrace for the sessions
// still in the registry to reach Closed, then waits for the supervisor's
// own goroutines to exit. Stop does not close session connections itself:
// cancelling the context passed to Start stops the publisher and Drains
// every session, which closes its connection, so cancel that context
// first. Sessions not Closed when ShutdownGrace elapses are not
// force-closed. Only the first call has any effect.
func (s *Supervisor) Stop() {
	s.shutdownOnce.Do(func() {
		if s.listener != nil {
			_ = s.listener.Close()
		}

		deadline := time.After(ShutdownGrace)
	waitSessions:
		for _, sess := range s.registry.Snapshot() {
			select {
			case <-sess.Done():
			case <-deadline:
				break waitSessions
			}
		}

		s.wg.Wait()
	})
}

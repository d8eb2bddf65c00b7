// Command wsfanout-loadclient simulates N concurrent subscribers against a
// running wsfanoutd, ramping up connections at a configured rate and
// ACKing each received message either immediately or after a configured
// delay, to exercise the fast/slow client split the broadcaster is built
// to isolate.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"wsfanout/internal/message"
)

type config struct {
	url          string
	connections  int
	rampPerSec   int
	duration     time.Duration
	reportEvery  time.Duration
	ackDelay     time.Duration
	slowFraction float64
}

type stats struct {
	connected    atomic.Int64
	failed       atomic.Int64
	messagesRecv atomic.Int64
	acksSent     atomic.Int64
}

func main() {
	cfg := parseFlags()
	st := &stats{}

	log.Printf("load client: target=%d ramp=%d/sec duration=%s ack-delay=%s slow-fraction=%.2f url=%s",
		cfg.connections, cfg.rampPerSec, cfg.duration, cfg.ackDelay, cfg.slowFraction, cfg.url)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go reportLoop(ctx, st, cfg.reportEvery)

	var wg sync.WaitGroup
	ticker := time.NewTicker(time.Second / time.Duration(max(cfg.rampPerSec, 1)))
	defer ticker.Stop()

rampLoop:
	for i := 0; i < cfg.connections; i++ {
		select {
		case <-ctx.Done():
			break rampLoop
		case <-ticker.C:
		}
		slow := float64(i%100)/100.0 < cfg.slowFraction
		wg.Add(1)
		go func(slow bool) {
			defer wg.Done()
			runClient(ctx, slow, cfg, st)
		}(slow)
	}

	select {
	case <-ctx.Done():
	case <-time.After(cfg.duration):
	}

	stop()
	wg.Wait()
	log.Printf("final: connected=%d failed=%d messages=%d acks=%d",
		st.connected.Load(), st.failed.Load(), st.messagesRecv.Load(), st.acksSent.Load())
}

func parseFlags() config {
	addr := flag.String("addr", "localhost:8765", "wsfanoutd address")
	path := flag.String("path", "/", "websocket upgrade path")
	connections := flag.Int("connections", 100, "number of simulated subscribers")
	rampPerSec := flag.Int("ramp-rate", 20, "connections per second during ramp-up")
	duration := flag.Duration("duration", 60*time.Second, "sustain duration after ramp-up")
	reportEvery := flag.Duration("report-interval", 5*time.Second, "status report period")
	ackDelay := flag.Duration("ack-delay", 0, "artificial delay before ACKing each message, for slow clients")
	slowFraction := flag.Float64("slow-fraction", 0, "fraction (0-1) of clients that apply ack-delay")
	flag.Parse()

	return config{
		url:          fmt.Sprintf("ws://%s%s", *addr, *path),
		connections:  *connections,
		rampPerSec:   *rampPerSec,
		duration:     *duration,
		reportEvery:  *reportEvery,
		ackDelay:     *ackDelay,
		slowFraction: *slowFraction,
	}
}

func runClient(ctx context.Context, slow bool, cfg config, st *stats) {
	conn, br, _, err := ws.Dial(ctx, cfg.url)
	if err != nil {
		st.failed.Add(1)
		return
	}
	defer conn.Close()

	st.connected.Add(1)
	defer st.connected.Add(-1)

	var src io.Reader = conn
	if br != nil && br.Buffered() > 0 {
		src = io.MultiReader(br, conn)
	}
	reader := wsutil.NewReader(src, ws.StateClientSide)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		head, err := reader.NextFrame()
		if err != nil {
			return
		}

		switch head.OpCode {
		case ws.OpClose:
			return
		case ws.OpPing:
			if err := wsutil.WriteClientMessage(conn, ws.OpPong, nil); err != nil {
				return
			}
		case ws.OpPong:
		case ws.OpText, ws.OpBinary:
			payload := make([]byte, head.Length)
			if _, err := io.ReadFull(reader, payload); err != nil {
				return
			}
			st.messagesRecv.Add(1)

			msg, err := message.Decode(payload)
			if err != nil {
				continue
			}
			if slow && cfg.ackDelay > 0 {
				time.Sleep(cfg.ackDelay)
			}
			encoded, err := message.Ack{AckSeq: msg.Seq}.Encode()
			if err != nil {
				continue
			}
			if err := wsutil.WriteClientMessage(conn, ws.OpText, encoded); err != nil {
				return
			}
			st.acksSent.Add(1)
		default:
			if _, err := io.CopyN(io.Discard, reader, int64(head.Length)); err != nil {
				return
			}
		}
	}
}

func reportLoop(ctx context.Context, st *stats, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Printf("connected=%d failed=%d messages=%d acks=%d",
				st.connected.Load(), st.failed.Load(), st.messagesRecv.Load(), st.acksSent.Load())
		}
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

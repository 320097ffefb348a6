package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"debuglog/codec"
	"debuglog/event"
)

type harnessConfig struct {
	addr      string
	clients   int
	rate      int
	runFor    time.Duration
	handshake bool
	clearProb float64
}

type harnessCounters struct {
	sent    atomic.Uint64
	bytes   atomic.Uint64
	failed  atomic.Uint64
	replies atomic.Uint64
}

// loadharness connects synthetic producers to a running relay and streams
// generated log lines at a fixed rate, for profiling the relay and viewer
// without a real application attached.
func main() {
	var cfg harnessConfig
	flag.StringVar(&cfg.addr, "addr", "127.0.0.1:8765", "relay address")
	flag.IntVar(&cfg.clients, "clients", 4, "concurrent producer connections")
	flag.IntVar(&cfg.rate, "rate", 200, "lines per second per client")
	flag.DurationVar(&cfg.runFor, "duration", 30*time.Second, "how long to run the load")
	flag.BoolVar(&cfg.handshake, "handshake", false, "send the policy handshake before streaming")
	flag.Float64Var(&cfg.clearProb, "clear-prob", 0, "probability that a generated line is a clear command")
	flag.Parse()

	if cfg.clients <= 0 {
		log.Fatalf("clients must be >0 (got %d)", cfg.clients)
	}
	if cfg.rate <= 0 {
		log.Fatalf("rate must be >0 (got %d)", cfg.rate)
	}
	if cfg.runFor <= 0 {
		log.Fatalf("duration must be >0 (got %s)", cfg.runFor)
	}

	log.Printf("loadharness: starting addr=%s clients=%d rate=%d/s duration=%s handshake=%t",
		cfg.addr, cfg.clients, cfg.rate, cfg.runFor, cfg.handshake)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.runFor)
	defer cancel()

	var counters harnessCounters
	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < cfg.clients; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := runClient(ctx, cfg, id, &counters); err != nil {
				counters.failed.Add(1)
				log.Printf("loadharness: client %d: %v", id, err)
			}
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start).Seconds()

	sent := counters.sent.Load()
	log.Println("loadharness: complete")
	log.Printf("sent=%s bytes=%s failed_clients=%d handshakes=%d",
		humanize.Comma(int64(sent)), humanize.Bytes(counters.bytes.Load()),
		counters.failed.Load(), counters.replies.Load())
	log.Printf("throughput=%.1f lines/sec over %.1fs", float64(sent)/elapsed, elapsed)
}

func runClient(ctx context.Context, cfg harnessConfig, id int, counters *harnessCounters) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", cfg.addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		_ = conn.SetDeadline(time.Now())
	}()

	if cfg.handshake {
		if err := handshake(conn); err != nil {
			return fmt.Errorf("handshake: %w", err)
		}
		counters.replies.Add(1)
	}

	w := bufio.NewWriter(conn)
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)))
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for i := 0; i < cfg.rate; i++ {
				line, err := codec.EncodeLine(makeEvent(id, seq, rng, cfg.clearProb))
				if err != nil {
					return err
				}
				seq++
				if _, err := w.Write(line); err != nil {
					return ignoreDeadline(ctx, err)
				}
				counters.sent.Add(1)
				counters.bytes.Add(uint64(len(line)))
			}
			if err := w.Flush(); err != nil {
				return ignoreDeadline(ctx, err)
			}
		}
	}
}

// handshake sends the policy request and waits for the NUL-terminated reply.
func handshake(conn net.Conn) error {
	if _, err := io.WriteString(conn, codec.PolicyRequest+"\x00"); err != nil {
		return err
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	reply := make([]byte, len(codec.PolicyResponse))
	if _, err := io.ReadFull(conn, reply); err != nil {
		return err
	}
	_ = conn.SetReadDeadline(time.Time{})
	if string(reply) != codec.PolicyResponse {
		return fmt.Errorf("unexpected reply %q", reply)
	}
	return nil
}

var senders = []string{"Worker", "Scheduler", "Download", "Renderer", "Net"}

func makeEvent(client int, seq uint64, rng *rand.Rand, clearProb float64) event.Event {
	if clearProb > 0 && rng.Float64() < clearProb {
		return event.Clear()
	}
	kind := event.KindLog
	switch n := rng.Intn(20); {
	case n == 0:
		kind = event.KindError
	case n == 1:
		kind = event.KindComment
	}
	sender := senders[seq%uint64(len(senders))]
	msg := fmt.Sprintf("%s %d|client %d line %d", sender, client, client, seq)
	ts := float64(time.Now().UnixMilli())
	tie := int64(seq)
	return event.New(kind, msg, &ts, &tie)
}

func ignoreDeadline(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}

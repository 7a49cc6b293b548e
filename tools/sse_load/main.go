// Command sse_load opens many concurrent subscribers against a desk stream
// endpoint and reports how many events each kind delivered.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type counters struct {
	connected   atomic.Int64
	connectErrs atomic.Int64
	streamErrs  atomic.Int64
	heartbeats  atomic.Int64

	mu     sync.Mutex
	events map[string]int64
}

func newCounters() *counters {
	return &counters{events: make(map[string]int64)}
}

// observe classifies one SSE line. Only event lines count as deliveries,
// id and data lines belong to the same frame.
func (c *counters) observe(line string) {
	line = strings.TrimRight(line, "\r\n")
	switch {
	case line == "":
	case strings.HasPrefix(line, ":"):
		c.heartbeats.Add(1)
	case strings.HasPrefix(line, "event:"):
		name := strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		c.mu.Lock()
		c.events[name]++
		c.mu.Unlock()
	}
}

func (c *counters) snapshot() (map[string]int64, int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]int64, len(c.events))
	var total int64
	for k, v := range c.events {
		out[k] = v
		total += v
	}
	return out, total
}

func main() {
	var (
		targetURL   string
		lastEventID string
		connections int
		duration    time.Duration
		rampUp      time.Duration
	)

	flag.StringVar(&targetURL, "url", "http://localhost:8080/wallet/stream", "stream endpoint (/wallet/stream, /trades/stream or /bars/stream?...)")
	flag.StringVar(&lastEventID, "last-event-id", "", "resume every subscriber after this journal index")
	flag.IntVar(&connections, "conns", 500, "number of concurrent subscribers")
	flag.DurationVar(&duration, "dur", time.Minute, "test duration, 0 runs until interrupted")
	flag.DurationVar(&rampUp, "ramp", 0, "spread connection starts across this window")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if connections <= 0 {
		logger.Fatal("invalid conns", zap.Int("conns", connections))
	}
	if rampUp == 0 && connections > 100 {
		rampUp = max(time.Duration(connections/500)*time.Second, time.Second)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	client := &http.Client{
		Transport: &http.Transport{
			MaxConnsPerHost:     connections + 100,
			MaxIdleConnsPerHost: connections + 100,
			DisableCompression:  true,
			DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		},
	}

	logger.Info("starting stream load",
		zap.String("url", targetURL),
		zap.Int("conns", connections),
		zap.Duration("duration", duration),
		zap.Duration("ramp", rampUp),
	)

	stats := newCounters()
	start := time.Now()
	go report(ctx, logger, stats, start)

	var interval time.Duration
	if rampUp > 0 {
		interval = rampUp / time.Duration(connections)
	}

	g := new(errgroup.Group)
	for i := 0; i < connections && ctx.Err() == nil; i++ {
		if i > 0 && interval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(interval):
			}
		}
		g.Go(func() error {
			subscribe(ctx, client, targetURL, lastEventID, stats)
			return nil
		})
	}
	_ = g.Wait()

	byEvent, total := stats.snapshot()
	elapsed := max(time.Since(start), time.Millisecond)
	logger.Info("done",
		zap.Int64("connected", stats.connected.Load()),
		zap.Int64("connect_errs", stats.connectErrs.Load()),
		zap.Int64("stream_errs", stats.streamErrs.Load()),
		zap.Int64("heartbeats", stats.heartbeats.Load()),
		zap.Any("events", byEvent),
		zap.Float64("events_per_sec", float64(total)/elapsed.Seconds()),
		zap.Duration("elapsed", elapsed.Truncate(time.Millisecond)),
	)
}

func subscribe(ctx context.Context, client *http.Client, url, lastEventID string, stats *counters) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		stats.connectErrs.Add(1)
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}

	resp, err := client.Do(req)
	if err != nil {
		stats.connectErrs.Add(1)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		stats.connectErrs.Add(1)
		return
	}
	stats.connected.Add(1)

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if ctx.Err() == nil {
				stats.streamErrs.Add(1)
			}
			return
		}
		stats.observe(line)
	}
}

func report(ctx context.Context, logger *zap.Logger, stats *counters, start time.Time) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, total := stats.snapshot()
			logger.Info("status",
				zap.Int64("connected", stats.connected.Load()),
				zap.Int64("connect_errs", stats.connectErrs.Load()),
				zap.Int64("stream_errs", stats.streamErrs.Load()),
				zap.Int64("events", total),
				zap.Duration("elapsed", time.Since(start).Truncate(time.Second)),
			)
		}
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/brightboard/safety-gate/loadtest/client"
	"github.com/brightboard/safety-gate/loadtest/stats"
)

// runEvaluate implements the evaluate throughput test. A fixed pool of
// workers shares one NATS connection and sends corpus messages until the
// request budget or the duration runs out.
func runEvaluate(args []string) {
	fs := flag.NewFlagSet("evaluate", flag.ExitOnError)
	natsURL := fs.String("nats", "nats://localhost:4222", "NATS server URL")
	requests := fs.Int("requests", 10000, "Total number of evaluate requests")
	duration := fs.Duration("duration", 0, "Stop after this long (0 = until -requests are sent)")
	concurrency := fs.Int("concurrency", 50, "Number of concurrent workers")
	timeout := fs.Duration("timeout", 5*time.Second, "Per-request timeout")
	room := fs.String("room", "loadtest-room", "Room id used for all messages")
	categories := fs.String("categories", "", "Comma-separated corpus categories (empty = all)")
	metricsURL := fs.String("metrics-url", "http://localhost:8080/metrics", "Prometheus metrics endpoint URL")
	scrapeInterval := fs.Duration("scrape-interval", 2*time.Second, "Interval between metrics scrapes")
	fs.Parse(args)

	only := make(map[string]bool)
	for _, c := range strings.Split(*categories, ",") {
		if c = strings.TrimSpace(c); c != "" {
			only[c] = true
		}
	}

	fmt.Printf("Evaluate test: %d requests to %s (concurrency=%d, duration=%s, categories=%q)\n",
		*requests, *natsURL, *concurrency, *duration, *categories)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	c, err := client.New(*natsURL, "safetygate-loadtest")
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	collector := stats.NewCollector()
	scraper := stats.NewScraper(*metricsURL, *scrapeInterval)
	collector.SetScraper(scraper)
	scraper.Start(ctx)

	// Progress reporting every 2 seconds.
	progressStop := make(chan struct{})
	var progressWg sync.WaitGroup
	progressWg.Add(1)
	go func() {
		defer progressWg.Done()
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		last := 0
		lastTime := time.Now()
		for {
			select {
			case <-ticker.C:
				now := time.Now()
				n := collector.RequestCount()
				rate := float64(n-last) / now.Sub(lastTime).Seconds()
				fmt.Printf("  [evaluate] requests: %d/%d  errors: %d  rate: %.1f req/s\n",
					n, *requests, collector.ErrorCount(), rate)
				last = n
				lastTime = now
			case <-progressStop:
				return
			}
		}
	}()

	var sent atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < *concurrency; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(w)))
			for sent.Add(1) <= int64(*requests) {
				if ctx.Err() != nil {
					return
				}
				s := pick(rng, only)
				reqCtx, cancel := context.WithTimeout(ctx, *timeout)
				reply, err := c.Evaluate(reqCtx, newInbound(s, *room, w))
				cancel()
				if err != nil || reply.Decision == nil {
					collector.AddError()
					continue
				}
				collector.AddResult(s.category, reply.Decision.Action, string(s.expected), reply.Latency)
			}
		}(w)
	}

	wg.Wait()
	close(progressStop)
	progressWg.Wait()
	scraper.Stop()

	if ctx.Err() != nil && *duration == 0 {
		fmt.Println("\nInterrupted.")
	}
	collector.Report()
}

// runPing measures the transport round trip without running the pipeline.
func runPing(args []string) {
	fs := flag.NewFlagSet("ping", flag.ExitOnError)
	natsURL := fs.String("nats", "nats://localhost:4222", "NATS server URL")
	count := fs.Int("count", 100, "Number of pings")
	timeout := fs.Duration("timeout", 2*time.Second, "Per-ping timeout")
	fs.Parse(args)

	c, err := client.New(*natsURL, "safetygate-loadtest-ping")
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	collector := stats.NewCollector()
	for i := 0; i < *count; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		d, err := c.Ping(ctx)
		cancel()
		if err != nil {
			collector.AddError()
			continue
		}
		collector.AddResult("ping", "pong", "", d)
	}
	collector.Report()
}

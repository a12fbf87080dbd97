// Package stats provides a goroutine-safe collector that aggregates request
// results from many load test workers and prints a summary report with
// latency percentiles and the distribution of gate actions.
package stats

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// Collector aggregates results from concurrent workers.
type Collector struct {
	mu        sync.Mutex
	latencies map[string][]time.Duration // by message category
	actions   map[string]int
	mismatch  int
	errors    int
	requests  int
	startTime time.Time
	scraper   *Scraper
}

// NewCollector creates a new Collector with the start time set to now.
func NewCollector() *Collector {
	return &Collector{
		latencies: make(map[string][]time.Duration),
		actions:   make(map[string]int),
		startTime: time.Now(),
	}
}

// SetScraper attaches a Prometheus metrics scraper to this collector. When set,
// Report() will also print server-side metrics collected by the scraper.
func (c *Collector) SetScraper(s *Scraper) {
	c.mu.Lock()
	c.scraper = s
	c.mu.Unlock()
}

// AddResult records one answered request. expected is the action the
// corpus entry should produce; an empty expected skips the check.
func (c *Collector) AddResult(category, action, expected string, d time.Duration) {
	c.mu.Lock()
	c.requests++
	c.latencies[category] = append(c.latencies[category], d)
	c.actions[action]++
	if expected != "" && action != expected {
		c.mismatch++
	}
	c.mu.Unlock()
}

// AddError counts a request that got no decision.
func (c *Collector) AddError() {
	c.mu.Lock()
	c.requests++
	c.errors++
	c.mu.Unlock()
}

// RequestCount returns the number of requests recorded so far.
func (c *Collector) RequestCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests
}

// ErrorCount returns the current number of recorded errors.
func (c *Collector) ErrorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errors
}

// Report prints a formatted summary of the collected results to stdout.
func (c *Collector) Report() {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(c.startTime)

	fmt.Println("\n=== Load Test Results ===")
	fmt.Printf("Duration:     %s\n", elapsed.Round(time.Second))
	fmt.Printf("Requests:     %d\n", c.requests)
	fmt.Printf("Errors:       %d\n", c.errors)
	fmt.Printf("Mismatches:   %d\n", c.mismatch)
	if elapsed > 0 {
		fmt.Printf("Throughput:   %.1f req/s\n", float64(c.requests)/elapsed.Seconds())
	}
	if c.requests > 0 {
		fmt.Printf("Error rate:   %.2f%%\n", float64(c.errors)/float64(c.requests)*100)
	}

	if len(c.actions) > 0 {
		fmt.Println("\n--- Actions ---")
		for _, a := range sortedKeys(c.actions) {
			fmt.Printf("  %-20s %d\n", a, c.actions[a])
		}
	}

	var all []time.Duration
	cats := make([]string, 0, len(c.latencies))
	for cat, ds := range c.latencies {
		cats = append(cats, cat)
		all = append(all, ds...)
	}
	sort.Strings(cats)
	if len(all) > 0 {
		fmt.Println("\n--- Decision Latency ---")
		printPercentiles("all", all)
		for _, cat := range cats {
			printPercentiles(cat, c.latencies[cat])
		}
	}

	if c.scraper != nil {
		c.scraper.Report()
	}

	fmt.Println()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// percentiles returns p50, p95, p99 and max of durations, sorting in place.
func percentiles(durations []time.Duration) (p50, p95, p99, max time.Duration) {
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	n := len(durations)
	p50 = durations[n/2]
	p95 = durations[int(math.Ceil(float64(n)*0.95))-1]
	p99 = durations[int(math.Ceil(float64(n)*0.99))-1]
	return p50, p95, p99, durations[n-1]
}

func printPercentiles(label string, durations []time.Duration) {
	p50, p95, p99, max := percentiles(durations)

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	avg := sum / time.Duration(len(durations))

	fmt.Printf("  %-12s avg: %v  p50: %v  p95: %v  p99: %v  max: %v  (n=%d)\n",
		label,
		avg.Round(time.Microsecond),
		p50.Round(time.Microsecond),
		p95.Round(time.Microsecond),
		p99.Round(time.Microsecond),
		max.Round(time.Microsecond),
		len(durations),
	)
}

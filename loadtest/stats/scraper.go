package stats

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// metricSnapshot holds the tracked gate metrics at a point in time. Labeled
// counters are summed across labels.
type metricSnapshot struct {
	timestamp     time.Time
	decisions     float64
	concerns      float64
	unavailable   float64
	deadLetters   float64
	evalSum       float64
	evalCount     float64
	classifierSum float64
	classifierCnt float64
}

// Scraper periodically fetches the gate's Prometheus metrics and records
// snapshots for the load test report.
type Scraper struct {
	metricsURL string
	interval   time.Duration

	mu        sync.Mutex
	snapshots []metricSnapshot

	cancel context.CancelFunc
	done   chan struct{}
	client *resty.Client
}

// NewScraper creates a new Scraper that will fetch metrics from metricsURL at
// the given interval.
func NewScraper(metricsURL string, interval time.Duration) *Scraper {
	return &Scraper{
		metricsURL: metricsURL,
		interval:   interval,
		client:     resty.New().SetTimeout(5 * time.Second),
		done:       make(chan struct{}),
	}
}

// Start takes a snapshot immediately and then one per interval until ctx is
// cancelled or Stop is called.
func (s *Scraper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.scrapeOnce(ctx)

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.scrapeOnce(context.Background())
				return
			case <-ticker.C:
				s.scrapeOnce(ctx)
			}
		}
	}()
}

// Stop stops the background scraper and waits for it to finish.
func (s *Scraper) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Scraper) scrapeOnce(ctx context.Context) {
	snap, err := s.fetch(ctx)
	if err != nil {
		// The gate may not be serving metrics yet.
		return
	}
	s.mu.Lock()
	s.snapshots = append(s.snapshots, snap)
	s.mu.Unlock()
}

func (s *Scraper) fetch(ctx context.Context) (metricSnapshot, error) {
	resp, err := s.client.R().SetContext(ctx).Get(s.metricsURL)
	if err != nil {
		return metricSnapshot{}, err
	}
	if resp.IsError() {
		return metricSnapshot{}, fmt.Errorf("metrics: %s", resp.Status())
	}

	snap := metricSnapshot{timestamp: time.Now()}
	scanner := bufio.NewScanner(bytes.NewReader(resp.Body()))
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		name, value, ok := parseMetricLine(line)
		if !ok {
			continue
		}

		switch name {
		case "safetygate_decisions_total":
			snap.decisions += value
		case "safetygate_concerns_created_total":
			snap.concerns += value
		case "safetygate_classifier_unavailable_total":
			snap.unavailable += value
		case "safetygate_dead_letter_size":
			snap.deadLetters = value
		case "safetygate_evaluate_latency_seconds_sum":
			snap.evalSum = value
		case "safetygate_evaluate_latency_seconds_count":
			snap.evalCount = value
		case "safetygate_classifier_latency_seconds_sum":
			snap.classifierSum = value
		case "safetygate_classifier_latency_seconds_count":
			snap.classifierCnt = value
		}
	}
	return snap, scanner.Err()
}

// parseMetricLine parses a Prometheus text exposition line into the metric
// name (labels stripped) and its value.
func parseMetricLine(line string) (name string, value float64, ok bool) {
	raw := line
	if idx := strings.IndexByte(raw, '{'); idx != -1 {
		name = raw[:idx]
		closing := strings.IndexByte(raw[idx:], '}')
		if closing == -1 {
			return "", 0, false
		}
		raw = name + raw[idx+closing+1:]
	}

	fields := strings.Fields(raw)
	if len(fields) < 2 {
		return "", 0, false
	}
	if name == "" {
		name = fields[0]
	}

	v, err := strconv.ParseFloat(fields[len(fields)-1], 64)
	if err != nil {
		return "", 0, false
	}
	return name, v, true
}

// Report prints initial, final, delta and peak for each tracked metric.
func (s *Scraper) Report() {
	s.mu.Lock()
	snaps := make([]metricSnapshot, len(s.snapshots))
	copy(snaps, s.snapshots)
	s.mu.Unlock()

	if len(snaps) == 0 {
		fmt.Println("\n--- Gate Metrics (no data collected) ---")
		return
	}

	first := snaps[0]
	last := snaps[len(snaps)-1]

	fmt.Println("\n--- Gate Metrics (Prometheus) ---")
	fmt.Printf("  Scrape count:  %d snapshots over %s\n",
		len(snaps), last.timestamp.Sub(first.timestamp).Round(time.Second))

	rows := []struct {
		label string
		get   func(metricSnapshot) float64
	}{
		{"Decisions", func(m metricSnapshot) float64 { return m.decisions }},
		{"Concerns", func(m metricSnapshot) float64 { return m.concerns }},
		{"Unclassified", func(m metricSnapshot) float64 { return m.unavailable }},
		{"Dead Letters", func(m metricSnapshot) float64 { return m.deadLetters }},
	}

	fmt.Println()
	fmt.Printf("  %-16s %10s %10s %10s %10s\n", "Metric", "Initial", "Final", "Delta", "Peak")
	fmt.Printf("  %-16s %10s %10s %10s %10s\n", "------", "-------", "-----", "-----", "----")
	for _, r := range rows {
		initial, final := r.get(first), r.get(last)
		fmt.Printf("  %-16s %10.0f %10.0f %10.0f %10.0f\n",
			r.label, initial, final, final-initial, peakValue(snaps, r.get))
	}

	fmt.Println()
	printHistogramAvg("Evaluate", first.evalSum, first.evalCount, last.evalSum, last.evalCount)
	printHistogramAvg("Classifier", first.classifierSum, first.classifierCnt, last.classifierSum, last.classifierCnt)
}

func printHistogramAvg(label string, sumFirst, countFirst, sumLast, countLast float64) {
	deltaSum := sumLast - sumFirst
	deltaCount := countLast - countFirst
	if deltaCount > 0 {
		fmt.Printf("  %-16s avg: %.4fs  (%.0f observations)\n", label, deltaSum/deltaCount, deltaCount)
	} else {
		fmt.Printf("  %-16s avg: N/A  (no observations)\n", label)
	}
}

func peakValue(snaps []metricSnapshot, extract func(metricSnapshot) float64) float64 {
	peak := math.Inf(-1)
	for _, s := range snaps {
		if v := extract(s); v > peak {
			peak = v
		}
	}
	return peak
}

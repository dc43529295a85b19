// Command loadtest replays a question set against POST /api/v1/query and
// summarises throughput, cache hit rate and latency percentiles. Repeated
// questions exercise the answer cache once the backend has answered them
// with enough confidence.
//
// Usage:
//
//	go run ./cmd/loadtest [-url http://localhost:8080] [-token $RP_TOKEN] [-workers 10] [-duration 30s] [-questions file] [-json]
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"maps"
	"math"
	"net/http"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"
)

var defaultQuestions = []string{
	"How are duplicate documents detected?",
	"Which files are never indexed?",
	"How often are usage snapshots taken?",
	"What happens when the backend is unavailable?",
	"How long are answers cached?",
	"Which workspace pages are synced?",
	"How is the answer confidence used?",
	"What does a sync run report?",
}

type target struct {
	url       string
	token     string
	workers   int
	duration  time.Duration
	questions []string
}

// sample is one request as observed by a worker. status is zero when the
// request never got a response.
type sample struct {
	latency time.Duration
	status  int
	cached  bool
	errored bool
}

type Summary struct {
	Requests   int           `json:"requests"`
	Succeeded  int           `json:"succeeded"`
	Degraded   int           `json:"degraded"`
	Failed     int           `json:"failed"`
	CacheHits  int           `json:"cacheHits"`
	Throughput float64       `json:"requestsPerSecond"`
	Latency    LatencyReport `json:"latency"`
	Statuses   map[int]int   `json:"statuses"`
}

type LatencyReport struct {
	Min  time.Duration `json:"min"`
	Mean time.Duration `json:"mean"`
	P50  time.Duration `json:"p50"`
	P90  time.Duration `json:"p90"`
	P99  time.Duration `json:"p99"`
	Max  time.Duration `json:"max"`
}

func main() {
	var t target
	var questionsFile string
	var asJSON bool
	flag.StringVar(&t.url, "url", "http://localhost:8080", "base URL of the retrieval server")
	flag.StringVar(&t.token, "token", os.Getenv("RP_TOKEN"), "API token")
	flag.IntVar(&t.workers, "workers", 10, "concurrent workers")
	flag.DurationVar(&t.duration, "duration", 30*time.Second, "how long to keep sending")
	flag.StringVar(&questionsFile, "questions", "", "file with one question per line (default: built-in set)")
	flag.BoolVar(&asJSON, "json", false, "print the summary as JSON")
	flag.Parse()

	t.questions = defaultQuestions
	if questionsFile != "" {
		qs, err := readQuestions(questionsFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, "loadtest:", err)
			os.Exit(1)
		}
		t.questions = qs
	}

	fmt.Fprintf(os.Stderr, "querying %s with %d workers for %s (%d questions)\n", t.url, t.workers, t.duration, len(t.questions))
	sum := run(context.Background(), t)

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(sum)
	} else {
		render(os.Stdout, sum)
	}
	if sum.Requests == 0 {
		fmt.Fprintln(os.Stderr, "loadtest: no requests completed, is the server running?")
		os.Exit(1)
	}
}

func readQuestions(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var qs []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if q := strings.TrimSpace(sc.Text()); q != "" && !strings.HasPrefix(q, "#") {
			qs = append(qs, q)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(qs) == 0 {
		return nil, fmt.Errorf("%s: no questions", path)
	}
	return qs, nil
}

// run keeps every worker busy until the duration elapses. Workers stagger
// their starting question so the cache sees misses before hits.
func run(ctx context.Context, t target) Summary {
	client := &http.Client{
		Timeout: time.Minute,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: t.workers,
			IdleConnTimeout:     30 * time.Second,
		},
	}
	ctx, cancel := context.WithTimeout(ctx, t.duration)
	defer cancel()

	samples := make(chan sample, t.workers*4)
	g, ctx := errgroup.WithContext(ctx)
	for w := range t.workers {
		g.Go(func() error {
			for i := w; ; i++ {
				s := ask(ctx, client, t, t.questions[i%len(t.questions)])
				if ctx.Err() != nil {
					return nil
				}
				samples <- s
			}
		})
	}

	var collected []sample
	done := make(chan struct{})
	go func() {
		defer close(done)
		for s := range samples {
			collected = append(collected, s)
		}
	}()

	start := time.Now()
	_ = g.Wait()
	elapsed := time.Since(start)
	close(samples)
	<-done
	return summarize(collected, elapsed)
}

func ask(ctx context.Context, client *http.Client, t target, question string) sample {
	body, _ := json.Marshal(map[string]string{"query": question})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url+"/api/v1/query", bytes.NewReader(body))
	if err != nil {
		return sample{}
	}
	req.Header.Set("Content-Type", "application/json")
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return sample{latency: time.Since(start)}
	}
	defer resp.Body.Close()

	s := sample{status: resp.StatusCode}
	var ans struct {
		Cached  bool `json:"cached"`
		Errored bool `json:"errored"`
	}
	if json.NewDecoder(resp.Body).Decode(&ans) == nil {
		s.cached, s.errored = ans.Cached, ans.Errored
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	s.latency = time.Since(start)
	return s
}

// summarize classifies samples: 200 succeeded, 502 with an errored answer
// is degraded, anything else failed. Latency covers responded requests only.
func summarize(samples []sample, elapsed time.Duration) Summary {
	sum := Summary{Requests: len(samples), Statuses: make(map[int]int)}
	var latencies []time.Duration
	for _, s := range samples {
		switch {
		case s.status == http.StatusOK:
			sum.Succeeded++
		case s.status == http.StatusBadGateway && s.errored:
			sum.Degraded++
		default:
			sum.Failed++
		}
		if s.cached {
			sum.CacheHits++
		}
		if s.status != 0 {
			sum.Statuses[s.status]++
			latencies = append(latencies, s.latency)
		}
	}
	if elapsed > 0 {
		sum.Throughput = float64(sum.Requests) / elapsed.Seconds()
	}
	if len(latencies) == 0 {
		return sum
	}

	slices.Sort(latencies)
	var total time.Duration
	for _, l := range latencies {
		total += l
	}
	sum.Latency = LatencyReport{
		Min:  latencies[0],
		Mean: total / time.Duration(len(latencies)),
		P50:  percentile(latencies, 50),
		P90:  percentile(latencies, 90),
		P99:  percentile(latencies, 99),
		Max:  latencies[len(latencies)-1],
	}
	return sum
}

func render(w io.Writer, s Summary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	rate := func(n int) string {
		if s.Requests == 0 {
			return "-"
		}
		return fmt.Sprintf("%.1f%%", float64(n)/float64(s.Requests)*100)
	}
	fmt.Fprintf(tw, "requests\t%d\t%.1f/s\n", s.Requests, s.Throughput)
	fmt.Fprintf(tw, "succeeded\t%d\t%s\n", s.Succeeded, rate(s.Succeeded))
	fmt.Fprintf(tw, "degraded\t%d\t%s\n", s.Degraded, rate(s.Degraded))
	fmt.Fprintf(tw, "failed\t%d\t%s\n", s.Failed, rate(s.Failed))
	fmt.Fprintf(tw, "cache hits\t%d\t%s\n", s.CacheHits, rate(s.CacheHits))
	fmt.Fprintln(tw, "\t\t")
	l := s.Latency
	fmt.Fprintf(tw, "latency\tmin %s\tmean %s\n", l.Min, l.Mean)
	fmt.Fprintf(tw, "\tp50 %s\tp90 %s\n", l.P50, l.P90)
	fmt.Fprintf(tw, "\tp99 %s\tmax %s\n", l.P99, l.Max)

	for _, c := range slices.Sorted(maps.Keys(s.Statuses)) {
		fmt.Fprintf(tw, "status %d\t%d\t\n", c, s.Statuses[c])
	}
	_ = tw.Flush()
}

// percentile uses the nearest-rank method on an ascending slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}

// Loadtest is a concurrent load generator for POST /predict. It measures
// throughput and latency percentiles, and compares the observed backend
// split (from X-Backend-Id) with the router's current weights.
//
// Usage:
//
//	go run ./scripts/loadtest -url http://localhost:8000 -concurrency 10 -requests 1000
//	go run ./scripts/loadtest -url http://localhost:8000 -requests 5000 -csv results.csv -out summary.json
package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type backendStats struct {
	Success   int
	Failure   int
	Latencies []time.Duration
}

type backendSummary struct {
	Total    int     `json:"total"`
	Success  int     `json:"success"`
	Failure  int     `json:"failure"`
	Share    float64 `json:"share"`
	Weight   float64 `json:"weight"`
	P50      float64 `json:"p50_ms"`
	P90      float64 `json:"p90_ms"`
	P99      float64 `json:"p99_ms"`
	Deviance float64 `json:"deviance"`
}

func main() {
	var (
		baseURL     = flag.String("url", "http://localhost:8000", "Router base URL")
		concurrency = flag.Int("concurrency", 10, "Number of concurrent workers")
		requests    = flag.Int("requests", 100, "Total number of requests to send")
		text        = flag.String("text", "I love this product", "Text to classify")
		model       = flag.String("model", "", "Pin every request to this backend")
		timeout     = flag.Duration("timeout", 10*time.Second, "Per-request timeout")
		outJSON     = flag.String("out", "", "Write JSON summary to this file (optional)")
		outCSV      = flag.String("csv", "", "Write per-request CSV to this file (optional)")
	)
	flag.Parse()

	client := &http.Client{Timeout: *timeout}

	body, err := json.Marshal(map[string]string{"text": *text, "model": *model})
	if err != nil {
		fail("encode body: %v", err)
	}

	weights, err := fetchWeights(client, *baseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not read weights: %v\n", err)
	}

	var csvWriter *csv.Writer
	if *outCSV != "" {
		f, err := os.Create(*outCSV)
		if err != nil {
			fail("create csv file: %v", err)
		}
		defer f.Close()
		csvWriter = csv.NewWriter(f)
		csvWriter.Write([]string{"idx", "request_id", "backend", "status", "duration_ms"})
	}

	var (
		mu          sync.Mutex
		stats       = make(map[string]*backendStats)
		statusCodes = make(map[int]int)
		all         []time.Duration
		failures    atomic.Int32
	)

	jobs := make(chan int)
	g, ctx := errgroup.WithContext(context.Background())

	g.Go(func() error {
		defer close(jobs)
		for i := range *requests {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	start := time.Now()
	for range *concurrency {
		g.Go(func() error {
			for idx := range jobs {
				requestID := uuid.NewString()
				req, err := http.NewRequestWithContext(ctx, http.MethodPost, *baseURL+"/predict", bytes.NewReader(body))
				if err != nil {
					return err
				}
				req.Header.Set("Content-Type", "application/json")
				req.Header.Set("X-Request-ID", requestID)

				begin := time.Now()
				resp, err := client.Do(req)
				dur := time.Since(begin)
				if err != nil {
					failures.Add(1)
					continue
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()

				backend := resp.Header.Get("X-Backend-Id")
				if backend == "" {
					backend = "(none)"
				}
				ok := resp.StatusCode == http.StatusOK
				if !ok {
					failures.Add(1)
				}

				mu.Lock()
				bs, found := stats[backend]
				if !found {
					bs = &backendStats{}
					stats[backend] = bs
				}
				if ok {
					bs.Success++
				} else {
					bs.Failure++
				}
				bs.Latencies = append(bs.Latencies, dur)
				all = append(all, dur)
				statusCodes[resp.StatusCode]++
				if csvWriter != nil {
					csvWriter.Write([]string{
						strconv.Itoa(idx),
						requestID,
						backend,
						strconv.Itoa(resp.StatusCode),
						fmt.Sprintf("%.3f", float64(dur.Microseconds())/1000.0),
					})
				}
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		fail("load test aborted: %v", err)
	}
	elapsed := time.Since(start)

	if csvWriter != nil {
		csvWriter.Flush()
	}

	fmt.Println("--- Load Test Summary ---")
	fmt.Printf("Target: %s/predict\n", *baseURL)
	fmt.Printf("Requests: %d  Concurrency: %d  Failures: %d\n", *requests, *concurrency, failures.Load())
	fmt.Printf("Duration: %v  Throughput: %.2f req/s\n", elapsed, float64(len(all))/elapsed.Seconds())

	fmt.Println("\nStatus codes:")
	codes := make([]int, 0, len(statusCodes))
	for code := range statusCodes {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	for _, code := range codes {
		fmt.Printf("  %d -> %d\n", code, statusCodes[code])
	}

	summaries := summarize(stats, weights, len(all))
	ids := make([]string, 0, len(summaries))
	for id := range summaries {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	fmt.Println("\nBackend distribution:")
	for _, id := range ids {
		s := summaries[id]
		fmt.Printf("  %s -> total=%d success=%d failure=%d share=%.4f weight=%.4f deviance=%+.4f\n",
			id, s.Total, s.Success, s.Failure, s.Share, s.Weight, s.Deviance)
		fmt.Printf("    latency p50=%.2fms p90=%.2fms p99=%.2fms\n", s.P50, s.P90, s.P99)
	}

	if *outJSON != "" {
		f, err := os.Create(*outJSON)
		if err != nil {
			fail("create json file: %v", err)
		}
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		enc.Encode(map[string]any{
			"target":         *baseURL,
			"requests":       *requests,
			"concurrency":    *concurrency,
			"failures":       failures.Load(),
			"duration_ms":    elapsed.Milliseconds(),
			"throughput_rps": float64(len(all)) / elapsed.Seconds(),
			"backends":       summaries,
		})
		f.Close()
		fmt.Printf("\nWrote JSON summary to %s\n", *outJSON)
	}

	if failures.Load() > 0 {
		os.Exit(2)
	}
}

func fetchWeights(client *http.Client, baseURL string) (map[string]float64, error) {
	resp, err := client.Get(baseURL + "/config/weights")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var weights map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&weights); err != nil {
		return nil, err
	}
	return weights, nil
}

func summarize(stats map[string]*backendStats, weights map[string]float64, total int) map[string]backendSummary {
	out := make(map[string]backendSummary, len(stats))
	for id, bs := range stats {
		n := bs.Success + bs.Failure
		s := backendSummary{Total: n, Success: bs.Success, Failure: bs.Failure, Weight: weights[id]}
		if total > 0 {
			s.Share = float64(n) / float64(total)
			s.Deviance = s.Share - s.Weight
		}
		if len(bs.Latencies) > 0 {
			sorted := slices.Clone(bs.Latencies)
			slices.Sort(sorted)
			s.P50 = percentile(sorted, 0.50)
			s.P90 = percentile(sorted, 0.90)
			s.P99 = percentile(sorted, 0.99)
		}
		out[id] = s
	}
	return out
}

func percentile(sorted []time.Duration, p float64) float64 {
	idx := int(math.Round(float64(len(sorted)-1) * p))
	return float64(sorted[idx].Microseconds()) / 1000.0
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	txCount     int
)

// Metrics
var (
	totalRequests uint64
	success200    uint64 // First delivery of a webhook
	fail409       uint64 // Duplicate deliveries rejected
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.IntVar(&txCount, "transactions", 1000, "Number of seeded bench-tx-N transactions")
}

func main() {
	flag.Parse()
	log.Printf("Starting Webhook Storm: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func worker(wg *sync.WaitGroup, start time.Time) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}
	body, _ := json.Marshal(map[string]string{"status": "Paid"})

	for time.Since(start) < duration {
		url := fmt.Sprintf("%s/api/v1/payments/bench-tx-%d/status", targetURL, pickTransaction())

		req, _ := http.NewRequest("POST", url, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case 200:
			atomic.AddUint64(&success200, 1)
		case 409:
			atomic.AddUint64(&fail409, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

// pickTransaction chooses which webhook to redeliver.
func pickTransaction() int {
	if workload == "hotspot" {
		// Hotspot: 90% of deliveries hit the first ten transactions
		if rand.Float32() < 0.90 {
			return rand.Intn(10)
		}
	}
	return rand.Intn(txCount)
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	s200 := atomic.LoadUint64(&success200)
	f409 := atomic.LoadUint64(&fail409)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()
	dupRate := 0.0
	if total > 0 {
		dupRate = float64(f409) / float64(total) * 100
	}

	results := map[string]interface{}{
		"workload":           workload,
		"duration_sec":       d.Seconds(),
		"total_requests":     total,
		"throughput_tps":     tps,
		"applied":            s200,
		"duplicates":         f409,
		"duplicate_rate_pct": dupRate,
		"errors":             fErr,
	}

	// applied can never exceed the number of distinct transactions
	if s200 > uint64(txCount) {
		log.Printf("WARNING: %d webhooks applied for %d transactions", s200, txCount)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		log.Printf("save results: %v", err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}

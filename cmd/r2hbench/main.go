package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

func main() {
	var (
		target     = flag.String("url", "http://127.0.0.1:8080/CCTV1", "Stream URL to request")
		readers    = flag.Int("readers", 50, "Number of concurrent streaming readers")
		rampRate   = flag.Float64("rate", 20, "Readers started per second during ramp-up")
		duration   = flag.Duration("duration", 30*time.Second, "How long each reader stays connected")
		timeout    = flag.Duration("timeout", 5*time.Second, "Timeout for the initial response header")
		recvSize   = flag.Int("recv-size", 32*1024, "Read buffer size per reader")
	)
	flag.Parse()

	burst := 10
	if *rampRate > 100 {
		burst = int(*rampRate / 10)
	}
	limiter := rate.NewLimiter(rate.Limit(*rampRate), burst)

	var (
		activeReaders  atomic.Int64
		totalReaders   atomic.Int64
		totalFailures  atomic.Int64
		bytesReceived  atomic.Int64
		ttfbMu         sync.Mutex
		ttfb           = make([]float64, 0, *readers)
		wg             sync.WaitGroup
	)

	fmt.Printf("[%s] starting %d readers against %s at %.1f/sec\n",
		time.Now().Format("15:04:05"), *readers, *target, *rampRate)

	ctx := context.Background()
	client := &http.Client{Timeout: 0} // streaming bodies outlive the header timeout

	t0 := time.Now()
	for i := 0; i < *readers; i++ {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			totalReaders.Add(1)
			activeReaders.Add(1)
			defer activeReaders.Add(-1)

			reqCtx, cancel := context.WithTimeout(ctx, *duration)
			defer cancel()

			req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, *target, nil)
			if err != nil {
				totalFailures.Add(1)
				return
			}

			start := time.Now()
			// The header timeout cancels the request only while waiting for
			// the response head; once it arrives the body runs for duration.
			headerTimer := time.AfterFunc(*timeout, cancel)
			resp, err := client.Do(req)
			if !headerTimer.Stop() && err == nil {
				resp.Body.Close()
				err = context.DeadlineExceeded
			}
			if err != nil {
				totalFailures.Add(1)
				return
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				totalFailures.Add(1)
				return
			}

			reader := bufio.NewReaderSize(resp.Body, *recvSize)
			first := make([]byte, 1)
			if _, err := reader.Read(first); err != nil {
				totalFailures.Add(1)
				return
			}
			ttfbMs := float64(time.Since(start).Microseconds()) / 1000.0
			ttfbMu.Lock()
			ttfb = append(ttfb, ttfbMs)
			ttfbMu.Unlock()
			bytesReceived.Add(1)

			buf := make([]byte, *recvSize)
			for {
				n, err := reader.Read(buf)
				if n > 0 {
					bytesReceived.Add(int64(n))
				}
				if err != nil {
					if err != io.EOF && reqCtx.Err() == nil {
						totalFailures.Add(1)
					}
					return
				}
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(t0).Seconds()

	fmt.Printf("[%s] done: readers=%d failed=%d bytes=%d elapsed_s=%.3f throughput_mbps=%.2f\n",
		time.Now().Format("15:04:05"),
		totalReaders.Load(), totalFailures.Load(), bytesReceived.Load(), elapsed,
		float64(bytesReceived.Load())*8/1e6/elapsed)

	ttfbMu.Lock()
	defer ttfbMu.Unlock()
	if len(ttfb) == 0 {
		fmt.Printf("no reader received a first byte\n")
		return
	}
	sort.Float64s(ttfb)
	fmt.Printf("ttfb_ms p50=%.3f p95=%.3f p99=%.3f min=%.3f max=%.3f\n",
		percentile(ttfb, 50), percentile(ttfb, 95), percentile(ttfb, 99), ttfb[0], ttfb[len(ttfb)-1])
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	idx := int(float64(len(sorted))*float64(p)/100.0) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/creditdesk/chataudit/internal/probeclient"
)

func main() {
	baseURL := flag.String("base-url", envOrDefault("CHATAUDIT_BASE_URL", "http://127.0.0.1:8080"), "chataudit base URL")
	token := flag.String("token", strings.TrimSpace(os.Getenv("CHATAUDIT_TOKEN")), "bearer token with the diagnostics role")
	interval := flag.Duration("interval", durationEnv("CHATAUDIT_PROBE_INTERVAL", 15*time.Minute), "probe interval")
	intervalJitter := flag.Float64("interval-jitter", floatEnv("CHATAUDIT_PROBE_INTERVAL_JITTER", 0.2), "probe interval jitter ratio (0.0-1.0)")
	timeout := flag.Duration("timeout", durationEnv("CHATAUDIT_PROBE_TIMEOUT", 30*time.Second), "per-probe timeout")
	once := flag.Bool("once", false, "run one probe cycle and exit")
	cleanupOnly := flag.Bool("cleanup", false, "delete synthetic records and exit")
	keep := flag.Bool("keep", false, "leave synthetic records in place after each probe")
	flag.Parse()

	if strings.TrimSpace(*token) == "" {
		log.Fatalf("token is required (--token or CHATAUDIT_TOKEN)")
	}
	if *interval <= 0 {
		*interval = 15 * time.Minute
	}
	if *timeout <= 0 {
		*timeout = 30 * time.Second
	}
	*intervalJitter = clampJitterRatio(*intervalJitter)

	client := probeclient.NewClient(*baseURL, *token, &http.Client{Timeout: *timeout})
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *cleanupOnly {
		ctx, cancel := context.WithTimeout(rootCtx, *timeout)
		defer cancel()
		cleaned, err := client.Cleanup(ctx)
		if err != nil {
			log.Fatalf("cleanup failed: %v", err)
		}
		log.Printf("cleanup removed %d records (database=%d fallback=%d)",
			cleaned.Cleaned.Total, cleaned.Cleaned.Database, cleaned.Cleaned.Fallback)
		return
	}

	run := func() {
		ctx, cancel := context.WithTimeout(rootCtx, *timeout)
		defer cancel()
		resp, err := client.RunIsolation(ctx)
		if err != nil {
			log.Printf("probe cycle failed: %v", err)
			return
		}
		if resp.TestPassed {
			log.Printf("probe passed: %d/%d queries, 0 violations",
				resp.Results.Overall.QueriesPassed, resp.Results.Overall.QueriesTested)
		} else {
			log.Printf("probe FAILED: %d/%d queries passed, %d violations, %d errors",
				resp.Results.Overall.QueriesPassed,
				resp.Results.Overall.QueriesTested,
				resp.Results.Overall.IsolationViolations,
				resp.Results.Overall.Errors)
			for _, line := range resp.Results.Summary {
				log.Printf("  %s", line)
			}
		}
		if !*keep {
			if _, err := client.Cleanup(ctx); err != nil {
				log.Printf("post-probe cleanup failed: %v", err)
			}
		}
	}

	run()
	if *once {
		return
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	timer := time.NewTimer(jitteredIntervalWithSample(*interval, *intervalJitter, rng.Float64()))
	defer timer.Stop()
	for {
		select {
		case <-rootCtx.Done():
			log.Printf("probe stopping: %v", rootCtx.Err())
			return
		case <-timer.C:
			run()
			timer.Reset(jitteredIntervalWithSample(*interval, *intervalJitter, rng.Float64()))
		}
	}
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}

func floatEnv(name string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %f", name, raw, fallback)
		return fallback
	}
	return value
}

func clampJitterRatio(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func jitteredIntervalWithSample(base time.Duration, jitterRatio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	jitterRatio = clampJitterRatio(jitterRatio)
	if jitterRatio == 0 {
		return base
	}
	if sample < 0 {
		sample = 0
	} else if sample > 1 {
		sample = 1
	}
	factor := 1 + ((sample*2)-1)*jitterRatio
	if factor < 0 {
		factor = 0
	}
	delay := time.Duration(float64(base) * factor)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}

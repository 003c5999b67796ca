package main

import (
	"testing"
	"time"
)

func TestEnvOrDefault(t *testing.T) {
	t.Setenv("CHATAUDIT_TEST_URL", " http://probe.local ")
	if got := envOrDefault("CHATAUDIT_TEST_URL", "fallback"); got != "http://probe.local" {
		t.Fatalf("expected trimmed value, got %q", got)
	}
	if got := envOrDefault("CHATAUDIT_TEST_URL_UNSET", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
}

func TestDurationEnvFallsBackOnInvalid(t *testing.T) {
	t.Setenv("CHATAUDIT_TEST_DURATION", "not-a-duration")
	if got := durationEnv("CHATAUDIT_TEST_DURATION", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback 1m, got %s", got)
	}
	t.Setenv("CHATAUDIT_TEST_DURATION", "45s")
	if got := durationEnv("CHATAUDIT_TEST_DURATION", time.Minute); got != 45*time.Second {
		t.Fatalf("expected 45s, got %s", got)
	}
}

func TestFloatEnvParsesValue(t *testing.T) {
	t.Setenv("CHATAUDIT_TEST_FLOAT", "0.35")
	if got := floatEnv("CHATAUDIT_TEST_FLOAT", 0.1); got != 0.35 {
		t.Fatalf("expected 0.35, got %f", got)
	}
	t.Setenv("CHATAUDIT_TEST_FLOAT", "oops")
	if got := floatEnv("CHATAUDIT_TEST_FLOAT", 0.25); got != 0.25 {
		t.Fatalf("expected fallback 0.25, got %f", got)
	}
}

func TestClampJitterRatio(t *testing.T) {
	if got := clampJitterRatio(-0.1); got != 0 {
		t.Fatalf("expected clamp to 0, got %f", got)
	}
	if got := clampJitterRatio(1.5); got != 1 {
		t.Fatalf("expected clamp to 1, got %f", got)
	}
	if got := clampJitterRatio(0.4); got != 0.4 {
		t.Fatalf("expected passthrough 0.4, got %f", got)
	}
}

func TestJitteredIntervalWithSample(t *testing.T) {
	base := 10 * time.Second
	if got := jitteredIntervalWithSample(base, 0, 0.2); got != base {
		t.Fatalf("expected no jitter interval %s, got %s", base, got)
	}
	if got := jitteredIntervalWithSample(base, 0.2, 0); got != 8*time.Second {
		t.Fatalf("expected min jitter interval 8s, got %s", got)
	}
	if got := jitteredIntervalWithSample(base, 0.2, 0.5); got != 10*time.Second {
		t.Fatalf("expected midpoint jitter interval 10s, got %s", got)
	}
	if got := jitteredIntervalWithSample(base, 0.2, 1); got != 12*time.Second {
		t.Fatalf("expected max jitter interval 12s, got %s", got)
	}
}

package main

import (
	"testing"
	"time"

	"github.com/osvaldoandrade/captionq/pkg/config"
)

func TestWaitBudget(t *testing.T) {
	cfg := &config.Config{PollMaxRetries: 10, PollRetryDelayMs: 2000, PollMaxDelayMs: 500, HTTPTimeoutSeconds: 15}
	if got, want := waitBudget(cfg), 20*time.Second+60*time.Second; got != want {
		t.Errorf("waitBudget = %v, want %v", got, want)
	}
	cfg.PollMaxDelayMs = 8000
	if got, want := waitBudget(cfg), 80*time.Second+60*time.Second; got != want {
		t.Errorf("exponential ceiling: waitBudget = %v, want %v", got, want)
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	t.Setenv("STORE_BACKEND", "bogus")
	if err := run(""); err == nil {
		t.Fatal("expected config validation error")
	}
}

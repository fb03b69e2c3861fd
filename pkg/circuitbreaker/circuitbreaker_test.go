package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		FailureThreshold:    3,
		SuccessThreshold:    2,
		Timeout:             50 * time.Millisecond,
		MaxRequestsHalfOpen: 2,
	}
}

func TestExecute_ClosedState(t *testing.T) {
	cb := New(testConfig())

	err := cb.Execute(context.Background(), func() error {
		return nil
	})

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("expected closed state, got %v", cb.GetState())
	}
}

func TestExecute_OpensAfterThreshold(t *testing.T) {
	cb := New(testConfig())
	failing := func() error { return errors.New("fail") }

	for i := 0; i < 3; i++ {
		cb.Execute(context.Background(), failing)
	}

	if cb.GetState() != StateOpen {
		t.Fatalf("expected open state after %d failures, got %v", 3, cb.GetState())
	}

	// Requests are rejected while open
	err := cb.Execute(context.Background(), func() error { return nil })
	if err == nil {
		t.Fatal("expected rejection while circuit is open")
	}
}

func TestExecute_HalfOpenToClosedAfterSuccesses(t *testing.T) {
	cb := New(testConfig())
	failing := func() error { return errors.New("fail") }

	for i := 0; i < 3; i++ {
		cb.Execute(context.Background(), failing)
	}

	// Wait for open -> half-open transition
	time.Sleep(60 * time.Millisecond)

	for i := 0; i < 2; i++ {
		if err := cb.Execute(context.Background(), func() error { return nil }); err != nil {
			t.Fatalf("expected half-open request to be allowed, got %v", err)
		}
	}

	if cb.GetState() != StateClosed {
		t.Errorf("expected closed state after recovery, got %v", cb.GetState())
	}
}

func TestExecute_HalfOpenFailureReopens(t *testing.T) {
	cb := New(testConfig())
	failing := func() error { return errors.New("fail") }

	for i := 0; i < 3; i++ {
		cb.Execute(context.Background(), failing)
	}

	time.Sleep(60 * time.Millisecond)

	cb.Execute(context.Background(), failing)

	if cb.GetState() != StateOpen {
		t.Errorf("expected open state after half-open failure, got %v", cb.GetState())
	}
}

func TestReset(t *testing.T) {
	cb := New(testConfig())
	failing := func() error { return errors.New("fail") }

	for i := 0; i < 3; i++ {
		cb.Execute(context.Background(), failing)
	}

	cb.Reset()

	if cb.GetState() != StateClosed {
		t.Errorf("expected closed state after reset, got %v", cb.GetState())
	}

	stats := cb.GetStats()
	if stats.FailureCount != 0 {
		t.Errorf("expected failure count reset, got %d", stats.FailureCount)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.expected)
		}
	}
}

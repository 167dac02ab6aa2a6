package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

var errDevice = errors.New("device unreachable")

func testConfig() Config {
	return Config{
		FailureThreshold:    3,
		SuccessThreshold:    2,
		Timeout:             50 * time.Millisecond,
		MaxRequestsHalfOpen: 2,
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := New(testConfig())

	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return errDevice })
	}

	if cb.State() != StateOpen {
		t.Errorf("expected open state, got %s", cb.State())
	}

	err := cb.Execute(func() error {
		t.Error("call should not execute while circuit is open")
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Errorf("expected ErrOpen, got %v", err)
	}
}

func TestCircuitBreaker_RecoversThroughHalfOpen(t *testing.T) {
	cb := New(testConfig())

	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return errDevice })
	}
	time.Sleep(60 * time.Millisecond)

	// Two successes in half-open close the circuit.
	for i := 0; i < 2; i++ {
		if err := cb.Execute(func() error { return nil }); err != nil {
			t.Fatalf("half-open call %d failed: %v", i, err)
		}
	}

	if cb.State() != StateClosed {
		t.Errorf("expected closed state after recovery, got %s", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := New(testConfig())

	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return errDevice })
	}
	time.Sleep(60 * time.Millisecond)

	_ = cb.Execute(func() error { return errDevice })

	if cb.State() != StateOpen {
		t.Errorf("expected reopened circuit, got %s", cb.State())
	}
}

func TestCircuitBreaker_StateChangeCallback(t *testing.T) {
	cb := New(testConfig())

	var transitions []State
	cb.OnStateChange(func(from, to State) {
		transitions = append(transitions, to)
	})

	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return errDevice })
	}

	if len(transitions) != 1 || transitions[0] != StateOpen {
		t.Errorf("expected single transition to open, got %v", transitions)
	}
}

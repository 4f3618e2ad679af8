package main

import (
	"testing"
	"time"
)

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	if p.Mode != RetryBackoffLinear {
		t.Errorf("Expected linear default mode, got %s", p.Mode)
	}
	if p.Initial != time.Second {
		t.Errorf("Expected initial 1s, got %v", p.Initial)
	}
	if p.Max != 30*time.Second {
		t.Errorf("Expected max 30s, got %v", p.Max)
	}
	if p.MaxRetries != 2 {
		t.Errorf("Expected max retries 2, got %d", p.MaxRetries)
	}
}

func TestNewRetryPolicyOverrides(t *testing.T) {
	p := NewRetryPolicy(RetryBackoffFixed, 5*time.Second, 2*time.Second, 5)

	// initial > max gets clamped
	if p.Initial != 2*time.Second {
		t.Errorf("Expected clamped initial 2s, got %v", p.Initial)
	}
	if p.Max != 2*time.Second {
		t.Errorf("Expected max 2s, got %v", p.Max)
	}
	if p.Mode != RetryBackoffFixed {
		t.Errorf("Expected fixed mode, got %s", p.Mode)
	}
	if p.MaxRetries != 5 {
		t.Errorf("Expected maxRetries 5, got %d", p.MaxRetries)
	}

	// Unknown mode keeps the default
	p = NewRetryPolicy("bogus", 0, 0, -1)
	if p.Mode != RetryBackoffLinear {
		t.Errorf("Expected linear mode for unknown input, got %s", p.Mode)
	}
	if p.MaxRetries != 2 {
		t.Errorf("Expected default maxRetries for negative input, got %d", p.MaxRetries)
	}
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		name    string
		policy  RetryPolicy
		attempt int
		want    time.Duration
	}{
		{"fixed first", NewRetryPolicy(RetryBackoffFixed, 100*time.Millisecond, 500*time.Millisecond, 3), 1, 100 * time.Millisecond},
		{"fixed third", NewRetryPolicy(RetryBackoffFixed, 100*time.Millisecond, 500*time.Millisecond, 3), 3, 100 * time.Millisecond},
		{"linear first", NewRetryPolicy(RetryBackoffLinear, 100*time.Millisecond, 250*time.Millisecond, 5), 1, 100 * time.Millisecond},
		{"linear second", NewRetryPolicy(RetryBackoffLinear, 100*time.Millisecond, 250*time.Millisecond, 5), 2, 200 * time.Millisecond},
		{"linear capped", NewRetryPolicy(RetryBackoffLinear, 100*time.Millisecond, 250*time.Millisecond, 5), 4, 250 * time.Millisecond},
		{"exponential first", NewRetryPolicy(RetryBackoffExponential, 50*time.Millisecond, 160*time.Millisecond, 5), 1, 50 * time.Millisecond},
		{"exponential second", NewRetryPolicy(RetryBackoffExponential, 50*time.Millisecond, 160*time.Millisecond, 5), 2, 100 * time.Millisecond},
		{"exponential capped", NewRetryPolicy(RetryBackoffExponential, 50*time.Millisecond, 160*time.Millisecond, 5), 3, 160 * time.Millisecond},
		{"zero attempt", DefaultRetryPolicy(), 0, 0},
		{"negative attempt", DefaultRetryPolicy(), -1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.Delay(tt.attempt); got != tt.want {
				t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestRetryPolicyValidate(t *testing.T) {
	if err := DefaultRetryPolicy().Validate(); err != nil {
		t.Errorf("Default policy should validate, got %v", err)
	}

	bad := RetryPolicy{Mode: RetryBackoffLinear, Initial: 0, Max: time.Second, MaxRetries: 1}
	if err := bad.Validate(); err == nil {
		t.Error("Expected error for zero initial delay")
	}

	bad = RetryPolicy{Mode: RetryBackoffLinear, Initial: time.Second, Max: 0, MaxRetries: 1}
	if err := bad.Validate(); err == nil {
		t.Error("Expected error for zero max delay")
	}

	bad = RetryPolicy{Mode: RetryBackoffLinear, Initial: time.Second, Max: time.Second, MaxRetries: -1}
	if err := bad.Validate(); err == nil {
		t.Error("Expected error for negative max retries")
	}
}

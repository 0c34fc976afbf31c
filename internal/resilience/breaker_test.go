package resilience

import (
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func TestBreaker_OpensAfterMaxFailures(t *testing.T) {
	b := NewBreaker("test", 3, time.Minute)

	for i := 0; i < 3; i++ {
		if err := b.Do(func() error { return errBoom }); !errors.Is(err, errBoom) {
			t.Fatalf("attempt %d: expected boom, got %v", i, err)
		}
	}

	if b.State() != StateOpen {
		t.Fatalf("expected open state, got %v", b.State())
	}
	if err := b.Do(func() error { return nil }); !errors.Is(err, ErrOpen) {
		t.Errorf("expected ErrOpen while open, got %v", err)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker("test", 3, time.Minute)

	b.Do(func() error { return errBoom })
	b.Do(func() error { return errBoom })
	b.Do(func() error { return nil })
	b.Do(func() error { return errBoom })
	b.Do(func() error { return errBoom })

	if b.State() != StateClosed {
		t.Errorf("expected closed after interleaved success, got %v", b.State())
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b := NewBreaker("test", 1, 10*time.Millisecond)

	b.Do(func() error { return errBoom })
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %v", b.State())
	}

	time.Sleep(20 * time.Millisecond)

	// Three successful probes close the circuit again.
	for i := 0; i < 3; i++ {
		if err := b.Do(func() error { return nil }); err != nil {
			t.Fatalf("probe %d failed: %v", i, err)
		}
	}
	if b.State() != StateClosed {
		t.Errorf("expected closed after recovery, got %v", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker("test", 1, 10*time.Millisecond)

	b.Do(func() error { return errBoom })
	time.Sleep(20 * time.Millisecond)

	b.Do(func() error { return errBoom })
	if b.State() != StateOpen {
		t.Errorf("expected reopened circuit, got %v", b.State())
	}
}

func TestBreaker_Reset(t *testing.T) {
	b := NewBreaker("test", 1, time.Minute)
	b.Do(func() error { return errBoom })
	b.Reset()
	if b.State() != StateClosed {
		t.Errorf("expected closed after Reset, got %v", b.State())
	}
}

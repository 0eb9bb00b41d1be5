package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

var errUpstream = errors.New("upstream unavailable")

func TestOpensAfterFailureThreshold(t *testing.T) {
	cb := New(Config{FailureThreshold: 3, RecoveryTimeout: time.Minute})

	for i := 0; i < 2; i++ {
		cb.RecordFailure()
		if cb.State() != StateClosed {
			t.Fatalf("failure %d: expected closed, got %v", i+1, cb.State())
		}
	}

	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("expected open after 3rd failure, got %v", cb.State())
	}
}

func TestOpenCircuitRejectsWithoutCallingFn(t *testing.T) {
	cb := New(Config{FailureThreshold: 1, RecoveryTimeout: time.Minute})
	cb.RecordFailure()

	calls := 0
	err := cb.Call(func() error {
		calls++
		return nil
	})

	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if calls != 0 {
		t.Errorf("expected fn not to run while open, ran %d times", calls)
	}
}

func TestHalfOpenProbeAfterRecoveryTimeout(t *testing.T) {
	cb := New(Config{FailureThreshold: 1, RecoveryTimeout: 20 * time.Millisecond})
	cb.RecordFailure()

	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected rejection before timeout, got %v", err)
	}

	time.Sleep(30 * time.Millisecond)

	if err := cb.Allow(); err != nil {
		t.Fatalf("expected probe allowed after timeout, got %v", err)
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected half-open after probe admitted, got %v", cb.State())
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cb := New(Config{FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond})
	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)

	if err := cb.Allow(); err != nil {
		t.Fatalf("expected probe allowed, got %v", err)
	}

	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("expected reopen on half-open failure, got %v", cb.State())
	}
}

func TestHalfOpenSuccessesClose(t *testing.T) {
	cb := New(Config{FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond, HalfOpenSuccess: 2})
	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)

	if err := cb.Allow(); err != nil {
		t.Fatalf("expected probe allowed, got %v", err)
	}

	cb.RecordSuccess()
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected still half-open after 1 of 2 successes, got %v", cb.State())
	}

	cb.RecordSuccess()
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after 2 successes, got %v", cb.State())
	}
	if cb.Metrics().FailureCount != 0 {
		t.Errorf("expected failure count reset on close, got %d", cb.Metrics().FailureCount)
	}
}

func TestSuccessResetsFailureCountWhileClosed(t *testing.T) {
	cb := New(Config{FailureThreshold: 3})

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	if cb.State() != StateClosed {
		t.Fatalf("expected closed, non-consecutive failures should not trip, got %v", cb.State())
	}
}

func TestStaleFailuresExpireAfterMonitoringPeriod(t *testing.T) {
	cb := New(Config{FailureThreshold: 3, MonitoringPeriod: 20 * time.Millisecond})

	cb.RecordFailure()
	cb.RecordFailure()
	time.Sleep(30 * time.Millisecond)

	// Window elapsed, this counts as the first failure again
	cb.RecordFailure()
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after stale failures expired, got %v", cb.State())
	}
	if got := cb.Metrics().FailureCount; got != 1 {
		t.Errorf("expected failure count 1, got %d", got)
	}
}

func TestManualReset(t *testing.T) {
	cb := New(Config{FailureThreshold: 1, RecoveryTimeout: time.Minute})
	cb.RecordFailure()

	if !cb.IsOpen() {
		t.Fatal("expected open before reset")
	}

	cb.Reset()

	if cb.IsOpen() {
		t.Fatal("expected closed after reset")
	}
	m := cb.Metrics()
	if m.FailureCount != 0 || m.SuccessCount != 0 {
		t.Errorf("expected counters zeroed, got failures=%d successes=%d", m.FailureCount, m.SuccessCount)
	}
}

func TestCallRecordsOutcomes(t *testing.T) {
	cb := New(Config{FailureThreshold: 2, RecoveryTimeout: time.Minute})

	if err := cb.Call(func() error { return errUpstream }); !errors.Is(err, errUpstream) {
		t.Fatalf("expected upstream error passthrough, got %v", err)
	}
	if err := cb.Call(func() error { return errUpstream }); !errors.Is(err, errUpstream) {
		t.Fatalf("expected upstream error passthrough, got %v", err)
	}

	if !cb.IsOpen() {
		t.Fatal("expected circuit open after threshold failures via Call")
	}
}

func TestStateMarshalJSON(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, `"closed"`},
		{StateOpen, `"open"`},
		{StateHalfOpen, `"half-open"`},
	}

	for _, tt := range tests {
		got, err := tt.state.MarshalJSON()
		if err != nil {
			t.Fatalf("marshal %v: %v", tt.state, err)
		}
		if string(got) != tt.want {
			t.Errorf("state %v: got %s, want %s", tt.state, got, tt.want)
		}
	}
}

package utils

import (
	"errors"
	"testing"
	"time"
)

type throttleErr struct{}

func (throttleErr) Error() string   { return "throttled" }
func (throttleErr) Retryable() bool { return true }

func TestDelayGrowsAndCaps(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 10 * time.Second}
	for i, want := range []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		10 * time.Second, 10 * time.Second,
	} {
		if got := b.Delay(i); got != want {
			t.Fatalf("attempt %d: got %v, want %v", i, got, want)
		}
	}
}

func TestDelayJitterBounded(t *testing.T) {
	b := Backoff{Base: time.Second, Max: time.Second, Jitter: 500 * time.Millisecond}
	for i := 0; i < 50; i++ {
		d := b.Delay(0)
		if d < time.Second || d >= 1500*time.Millisecond {
			t.Fatalf("jittered delay out of bounds: %v", d)
		}
	}
}

func TestDoRetriesOnlyRetryableErrors(t *testing.T) {
	b := Backoff{Base: time.Millisecond, MaxAttempts: 5, Sleep: func(time.Duration) {}}

	var attempts int
	err := b.Do(func(int) error {
		attempts++
		return errors.New("fatal")
	})
	if err == nil || attempts != 1 {
		t.Fatalf("non-retryable: attempts=%d err=%v", attempts, err)
	}

	attempts = 0
	err = b.Do(func(int) error {
		attempts++
		return throttleErr{}
	})
	if err == nil || attempts != 5 {
		t.Fatalf("exhaustion: attempts=%d err=%v", attempts, err)
	}

	attempts = 0
	err = b.Do(func(i int) error {
		attempts++
		if i < 2 {
			return throttleErr{}
		}
		return nil
	})
	if err != nil || attempts != 3 {
		t.Fatalf("recovery: attempts=%d err=%v", attempts, err)
	}
}

func TestDoSleepsBetweenAttempts(t *testing.T) {
	var slept []time.Duration
	b := Backoff{Base: time.Second, Max: 4 * time.Second, MaxAttempts: 4,
		Sleep: func(d time.Duration) { slept = append(slept, d) }}
	_ = b.Do(func(int) error { return throttleErr{} })
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if len(slept) != len(want) {
		t.Fatalf("sleeps: %v", slept)
	}
	for i := range want {
		if slept[i] != want[i] {
			t.Fatalf("sleep %d: got %v, want %v", i, slept[i], want[i])
		}
	}
}

func TestIsRetryableWrapped(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), throttleErr{})
	if !IsRetryable(wrapped) {
		t.Fatal("wrapped retryable error not detected")
	}
	if IsRetryable(errors.New("plain")) {
		t.Fatal("plain error must not be retryable")
	}
}

package util

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetryConfig(maxAttempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:  maxAttempts,
		InitialDelay: 1 * time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		IsRetryable:  DefaultIsRetryable,
	}
}

func TestRetry_FirstAttemptSucceeds(t *testing.T) {
	calls := 0
	result, err := Retry(context.Background(), fastRetryConfig(3), func() (string, error) {
		calls++
		return "ok", nil
	})

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if result != "ok" {
		t.Errorf("expected 'ok', got %q", result)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetry_EventualSuccess(t *testing.T) {
	calls := 0
	tornRead := errors.New("unexpected end of JSON input")

	result, err := Retry(context.Background(), fastRetryConfig(5), func() (int, error) {
		calls++
		if calls < 3 {
			return 0, tornRead
		}
		return 7, nil
	})

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if result != 7 {
		t.Errorf("expected 7, got %d", result)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetry_MaxAttemptsExceeded(t *testing.T) {
	calls := 0
	transient := errors.New("resource temporarily unavailable")

	_, err := Retry(context.Background(), fastRetryConfig(2), func() (string, error) {
		calls++
		return "", transient
	})

	if !errors.Is(err, transient) {
		t.Errorf("expected last error back, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestRetry_NonRetryableError(t *testing.T) {
	calls := 0
	permanent := errors.New("permission denied")

	_, err := Retry(context.Background(), fastRetryConfig(3), func() (string, error) {
		calls++
		return "", permanent
	})

	if err == nil {
		t.Error("expected error for non-retryable error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call (no retry), got %d", calls)
	}
}

func TestRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := Retry(ctx, fastRetryConfig(3), func() (string, error) {
		calls++
		return "ok", nil
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 0 {
		t.Errorf("expected 0 calls, got %d", calls)
	}
}

func TestRetry_PermanentOverridesRetryable(t *testing.T) {
	calls := 0
	// The message matches a transient pattern, but MarkPermanent wins.
	err := MarkPermanent(errors.New("try again"))

	cfg := fastRetryConfig(3)
	cfg.IsRetryable = func(error) bool { return true }

	_, retryErr := Retry(context.Background(), cfg, func() (string, error) {
		calls++
		return "", err
	})

	if retryErr == nil {
		t.Error("expected error for permanent error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call (no retry for permanent), got %d", calls)
	}
}

func TestDefaultIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"torn JSON read", errors.New("parsing mode file: unexpected end of JSON input"), true},
		{"EAGAIN", errors.New("read: resource temporarily unavailable (EAGAIN)"), true},
		{"fd exhaustion", errors.New("open: too many open files"), true},
		{"permission denied", errors.New("open: permission denied"), false},
		{"not a directory", errors.New("open: not a directory"), false},
		{"case insensitive", errors.New("TRY AGAIN"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := DefaultIsRetryable(tt.err)
			if result != tt.expected {
				t.Errorf("DefaultIsRetryable(%v) = %v, want %v", tt.err, result, tt.expected)
			}
		})
	}
}

func TestMarkPermanent(t *testing.T) {
	original := errors.New("original error")
	permanent := MarkPermanent(original)

	if !IsPermanent(permanent) {
		t.Error("expected IsPermanent to return true")
	}
	if !errors.Is(permanent, original) {
		t.Error("expected permanent error to wrap original")
	}
	if permanent.Error() != "original error" {
		t.Errorf("expected error message to be preserved, got %q", permanent.Error())
	}
	if MarkPermanent(nil) != nil {
		t.Error("expected MarkPermanent(nil) to return nil")
	}
}

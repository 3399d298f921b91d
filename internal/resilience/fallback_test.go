package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/provider/stt/mock"
)

func TestExecuteWithResult_PrimarySuccess(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup("a", "primary", CircuitBreakerConfig{})
	fg.AddFallback("secondary", "b")

	got, err := ExecuteWithResult(context.Background(), fg, func(s string) (string, error) { return s, nil })
	if err != nil || got != "a" {
		t.Fatalf("got %q, %v; want a, nil", got, err)
	}
}

func TestExecuteWithResult_Failover(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup("a", "primary", CircuitBreakerConfig{})
	fg.AddFallback("secondary", "b")

	got, err := ExecuteWithResult(context.Background(), fg, func(s string) (string, error) {
		if s == "a" {
			return "", errTest
		}
		return s, nil
	})
	if err != nil || got != "b" {
		t.Fatalf("got %q, %v; want b, nil", got, err)
	}
}

func TestExecuteWithResult_AllFail(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup(1, "one", CircuitBreakerConfig{})
	fg.AddFallback("two", 2)

	_, err := ExecuteWithResult(context.Background(), fg, func(int) (int, error) { return 0, errTest })
	if !errors.Is(err, ErrAllFailed) {
		t.Errorf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errTest) {
		t.Errorf("err = %v, want wrapped errTest", err)
	}
}

func TestExecuteWithResult_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup("a", "primary", CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	fg.AddFallback("secondary", "b")

	calls := map[string]int{}
	fn := func(s string) (string, error) {
		calls[s]++
		if s == "a" {
			return "", errTest
		}
		return s, nil
	}
	for range 3 {
		if _, err := ExecuteWithResult(context.Background(), fg, fn); err != nil {
			t.Fatalf("Execute: %v", err)
		}
	}
	if calls["a"] != 1 {
		t.Errorf("primary calls = %d, want 1 (breaker should open)", calls["a"])
	}
	if calls["b"] != 3 {
		t.Errorf("secondary calls = %d, want 3", calls["b"])
	}
	if st := fg.Breaker("primary").State(); st != BreakerOpen {
		t.Errorf("primary breaker = %v, want open", st)
	}
}

func TestExecuteWithResult_CancelledNotCharged(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup("a", "primary", CircuitBreakerConfig{MaxFailures: 1})
	fg.AddFallback("secondary", "b")

	ctx, cancel := context.WithCancel(context.Background())
	var tried []string
	_, err := ExecuteWithResult(ctx, fg, func(s string) (string, error) {
		tried = append(tried, s)
		cancel()
		return "", context.Canceled
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(tried) != 1 {
		t.Errorf("tried = %v, want only primary", tried)
	}
	if st := fg.Breaker("primary").State(); st != BreakerClosed {
		t.Errorf("primary breaker = %v, want closed", st)
	}
}

func TestTranscriberFallback(t *testing.T) {
	t.Parallel()

	native := &mock.Transcriber{Err: errTest}
	server := &mock.Transcriber{Text: "air horn"}

	f := NewTranscriberFallback(native, "whisper-native", CircuitBreakerConfig{})
	f.AddFallback("whisper", server)

	got, err := f.Transcribe(context.Background(), make([]byte, 320), 16000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Text != "air horn" {
		t.Errorf("text = %q, want air horn", got.Text)
	}
	if native.CallCount() != 1 || server.CallCount() != 1 {
		t.Errorf("calls native=%d server=%d, want 1/1", native.CallCount(), server.CallCount())
	}
	if names := f.Names(); len(names) != 2 || names[0] != "whisper-native" {
		t.Errorf("Names = %v", names)
	}

	var _ stt.Transcriber = f
}

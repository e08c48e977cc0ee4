package profilefs

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoAsync(t *testing.T) {
	t.Run("result", func(t *testing.T) {
		f := goAsync(false, func() (int, error) { return 42, nil })
		got, err := f.Result()
		if err != nil || got != 42 {
			t.Errorf("Result() = %d, %v", got, err)
		}
	})

	t.Run("error", func(t *testing.T) {
		want := errors.New("boom")
		_, err := goAsyncErr(false, func() error { return want }).Result()
		if !errors.Is(err, want) {
			t.Errorf("Result() error = %v, want %v", err, want)
		}
	})

	t.Run("panic becomes error", func(t *testing.T) {
		_, err := goAsync(false, func() (int, error) { panic("bad state") }).Result()
		if err == nil || !strings.Contains(err.Error(), "bad state") {
			t.Errorf("Result() error = %v, want panic error", err)
		}
	})

	t.Run("synchronous runs inline", func(t *testing.T) {
		var ran atomic.Bool
		f := goAsyncErr(true, func() error {
			ran.Store(true)
			return nil
		})
		if !ran.Load() {
			t.Error("synchronous operation did not run before returning")
		}
		select {
		case <-f.Done():
		default:
			t.Error("Done() should be closed")
		}
	})
}

func TestFuture_WaitCanceled(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	f := goAsyncErr(false, func() error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := f.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want context.DeadlineExceeded", err)
	}
}

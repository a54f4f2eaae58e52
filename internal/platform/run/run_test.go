package run

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestWait_ExitCodes(t *testing.T) {
	r := New(zap.NewNop())

	cases := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{http.ErrServerClosed, 0},
		{errors.New("listen tcp :8080: bind: address already in use"), 1},
	}
	for _, tc := range cases {
		got := r.wait(context.Background(), func(context.Context) error { return tc.err })
		if got != tc.want {
			t.Fatalf("err %v: expected exit %d, got %d", tc.err, tc.want, got)
		}
	}
}

func TestWait_ContextCancelled(t *testing.T) {
	r := New(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := r.wait(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return nil
	})
	if got != 0 {
		t.Fatalf("expected 0 on signal, got %d", got)
	}
}

func TestShutdown_RunsAllHooks(t *testing.T) {
	r := New(zap.NewNop())
	var calls int
	hook := func(ctx context.Context) error {
		calls++
		if _, ok := ctx.Deadline(); !ok {
			t.Fatal("expected hook context to carry a deadline")
		}
		return errors.New("ignored")
	}
	r.Shutdown(hook, hook)
	if calls != 2 {
		t.Fatalf("expected 2 hook calls, got %d", calls)
	}
}

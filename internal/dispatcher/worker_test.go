package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pivox/tradingV3/internal/httpactivity"
	"github.com/pivox/tradingV3/internal/priority"
)

type recordedDispatch struct {
	mu    sync.Mutex
	calls []time.Time
	order []string
}

func (r *recordedDispatch) fn(symbolKey string) DispatchFunc {
	return func(_ context.Context, payload map[string]any) httpactivity.Result {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.calls = append(r.calls, time.Now())
		if params, ok := payload["params"].(map[string]any); ok {
			if v, ok := params[symbolKey].(string); ok {
				r.order = append(r.order, v)
			}
		}
		return httpactivity.Result{Status: "ok", Code: 200, CallbackURL: "http://x"}
	}
}

func newTestWorker(dispatch DispatchFunc) *Worker {
	return New("test-worker", nil, dispatch, zerolog.Nop())
}

func envMap(tag string) map[string]any {
	return map[string]any{
		"url_callback": "http://example/cb",
		"method":       "POST",
		"params":       map[string]any{"tag": tag},
	}
}

func TestSubmitRejectsUnknownBucket(t *testing.T) {
	w := newTestWorker(func(context.Context, map[string]any) httpactivity.Result {
		return httpactivity.Result{Status: "ok"}
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	err := w.Submit(map[priority.Bucket][]map[string]any{
		priority.Bucket("not-a-bucket"): {envMap("x")},
	})
	if err == nil {
		t.Fatalf("expected BadInput-style error for unknown bucket")
	}
	if w.QueueSize() != 0 {
		t.Fatalf("expected no partial mutation on rejected submit, got queue size %d", w.QueueSize())
	}
}

func TestSubmitAfterCloseIsSilentNoOp(t *testing.T) {
	w := newTestWorker(func(context.Context, map[string]any) httpactivity.Result {
		return httpactivity.Result{Status: "ok"}
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	w.Close()
	// give the run loop a moment to process the close before submit
	time.Sleep(50 * time.Millisecond)

	err := w.Submit(map[priority.Bucket][]map[string]any{
		priority.Regular: {envMap("dropped")},
	})
	if err != nil {
		t.Fatalf("expected silent no-op after close, got error %v", err)
	}
}

func TestDispatchRespectsPriorityOrder(t *testing.T) {
	rec := &recordedDispatch{}
	w := newTestWorker(rec.fn("tag"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	err := w.Submit(map[priority.Bucket][]map[string]any{
		priority.Regular:       {envMap("regular")},
		priority.Cron4h:        {envMap("cron4h")},
		priority.PositionPrior: {envMap("position_prior")},
	})
	if err != nil {
		t.Fatalf("unexpected submit error: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		rec.mu.Lock()
		n := len(rec.order)
		rec.mu.Unlock()
		if n >= 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for 3 dispatches, got %d", n)
		case <-time.After(50 * time.Millisecond):
		}
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	want := []string{"position_prior", "cron4h", "regular"}
	for i, w := range want {
		if rec.order[i] != w {
			t.Fatalf("dispatch order = %v, want priority order starting %v", rec.order, want)
		}
	}
}

func TestSpacingInvariantBetweenDispatches(t *testing.T) {
	rec := &recordedDispatch{}
	w := newTestWorker(rec.fn("tag"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	err := w.Submit(map[priority.Bucket][]map[string]any{
		priority.Regular: {envMap("a"), envMap("b")},
	})
	if err != nil {
		t.Fatalf("unexpected submit error: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		rec.mu.Lock()
		n := len(rec.calls)
		rec.mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for 2 dispatches")
		case <-time.After(50 * time.Millisecond):
		}
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	gap := rec.calls[1].Sub(rec.calls[0])
	if gap < MinSpacing-50*time.Millisecond {
		t.Fatalf("expected spacing >= ~%v between dispatches, got %v", MinSpacing, gap)
	}
}

func TestPauseBucketsSkipsPausedBucket(t *testing.T) {
	rec := &recordedDispatch{}
	w := newTestWorker(rec.fn("tag"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	w.PauseBuckets([]priority.Bucket{priority.PositionPrior})

	err := w.Submit(map[priority.Bucket][]map[string]any{
		priority.PositionPrior: {envMap("paused-bucket")},
		priority.Regular:       {envMap("regular-bucket")},
	})
	if err != nil {
		t.Fatalf("unexpected submit error: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		rec.mu.Lock()
		n := len(rec.order)
		rec.mu.Unlock()
		if n >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for a dispatch")
		case <-time.After(50 * time.Millisecond):
		}
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.order[0] != "regular-bucket" {
		t.Fatalf("expected paused bucket skipped, dispatched %v first", rec.order[0])
	}
}

func TestSetPriorityOrderRejectsNonPermutation(t *testing.T) {
	w := newTestWorker(func(context.Context, map[string]any) httpactivity.Result {
		return httpactivity.Result{Status: "ok"}
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	err := w.SetPriorityOrder([]priority.Bucket{priority.Regular, priority.PositionPrior})
	if err == nil {
		t.Fatalf("expected error for incomplete permutation")
	}
}

func TestCloseTerminatesRunAfterDrain(t *testing.T) {
	rec := &recordedDispatch{}
	w := newTestWorker(rec.fn("tag"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	if err := w.Submit(map[priority.Bucket][]map[string]any{
		priority.Regular: {envMap("only")},
	}); err != nil {
		t.Fatalf("unexpected submit error: %v", err)
	}
	w.Close()

	select {
	case <-w.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("expected Run to terminate once closed and drained")
	}
}

package middleware_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/xraph/fairqueue"
	"github.com/xraph/fairqueue/id"
	"github.com/xraph/fairqueue/middleware"
)

func TestChain_ExecutionOrder(t *testing.T) {
	var order []string

	mw1 := func(ctx context.Context, _ *fairqueue.Item, next middleware.Handler) error {
		order = append(order, "mw1-before")
		err := next(ctx)
		order = append(order, "mw1-after")
		return err
	}

	mw2 := func(ctx context.Context, _ *fairqueue.Item, next middleware.Handler) error {
		order = append(order, "mw2-before")
		err := next(ctx)
		order = append(order, "mw2-after")
		return err
	}

	chain := middleware.Chain(mw1, mw2)
	it := &fairqueue.Item{ID: id.NewItemID(), Tier: "free"}
	handler := func(_ context.Context) error {
		order = append(order, "handler")
		return nil
	}

	err := chain(context.Background(), it, handler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
	if len(order) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(order), order)
	}
	for i, want := range expected {
		if order[i] != want {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want)
		}
	}
}

func TestChain_Empty(t *testing.T) {
	chain := middleware.Chain()
	called := false
	handler := func(_ context.Context) error {
		called = true
		return nil
	}

	err := chain(context.Background(), &fairqueue.Item{ID: id.NewItemID()}, handler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called with empty chain")
	}
}

func TestChain_PropagatesError(t *testing.T) {
	mw := func(ctx context.Context, _ *fairqueue.Item, next middleware.Handler) error {
		return next(ctx)
	}
	chain := middleware.Chain(mw)
	want := errors.New("handler error")

	err := chain(context.Background(), &fairqueue.Item{ID: id.NewItemID()}, func(_ context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestRecover_CatchesPanic(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Recover(logger)
	it := &fairqueue.Item{ID: id.NewItemID(), Tier: "free"}

	err := mw(context.Background(), it, func(_ context.Context) error {
		panic("test panic")
	})
	if err == nil {
		t.Fatal("expected error from panic recovery")
	}
	want := fmt.Sprintf("panic processing item %s: test panic", it.ID)
	if got := err.Error(); got != want {
		t.Errorf("unexpected error message: %q", got)
	}
}

func TestRecover_PassesThrough(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Recover(logger)
	it := &fairqueue.Item{ID: id.NewItemID(), Tier: "free"}

	called := false
	err := mw(context.Background(), it, func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called")
	}
}

func TestLogging_Success(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	mw := middleware.Logging(logger)
	it := &fairqueue.Item{ID: id.NewItemID(), Tier: "premium"}

	called := false
	err := mw(context.Background(), it, func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called")
	}
	if !strings.Contains(buf.String(), "item processed") {
		t.Errorf("missing completion log: %s", buf.String())
	}
}

func TestLogging_Error(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	mw := middleware.Logging(logger)
	it := &fairqueue.Item{ID: id.NewItemID(), Tier: "premium"}
	want := errors.New("fail")

	err := mw(context.Background(), it, func(_ context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
	if !strings.Contains(buf.String(), "item processing failed") {
		t.Errorf("missing failure log: %s", buf.String())
	}
}

func TestTimeout_CancelsContext(t *testing.T) {
	mw := middleware.Timeout(10 * time.Millisecond)
	it := &fairqueue.Item{ID: id.NewItemID(), Tier: "free"}

	err := mw(context.Background(), it, func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestTimeout_Disabled(t *testing.T) {
	mw := middleware.Timeout(0)
	it := &fairqueue.Item{ID: id.NewItemID(), Tier: "free"}

	err := mw(context.Background(), it, func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); ok {
			t.Error("no deadline expected with zero limit")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

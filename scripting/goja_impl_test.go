package scripting

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGojaEngine_ContextCancellation(t *testing.T) {
	engine := NewEngine()

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	if _, err := engine.Execute(ctx, "while (true) {}"); err == nil || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline error, got %v", err)
	}

	if _, err := engine.Execute(context.Background(), "1 + 1"); err != nil {
		t.Fatalf("engine should recover after cancellation, got %v", err)
	}
}

func TestGojaEngine_ImmediateCancel(t *testing.T) {
	engine := NewEngine()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := engine.Execute(ctx, "42"); err == nil || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled error, got %v", err)
	}
}

func TestGojaEngine_CallDottedPath(t *testing.T) {
	engine := NewEngine()
	script := `var source = {
		key: "DEMO",
		pad: function(n) { return ("0000" + n).slice(-4); },
		url: function(id, n) { return "http://example.org/" + id + "/" + this.pad(n); }
	};`
	if _, err := engine.Execute(context.Background(), script); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	got, err := engine.Call(context.Background(), "source.url", "abc", 7)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if got != "http://example.org/abc/0007" {
		t.Fatalf("unexpected result %v", got)
	}
	if key, ok := engine.Lookup("source.key"); !ok || key != "DEMO" {
		t.Fatalf("Lookup(source.key) = %v, %v", key, ok)
	}
	if !engine.IsFunction("source.url") || engine.IsFunction("source.key") {
		t.Fatalf("IsFunction misreports source members")
	}
	if _, ok := engine.Lookup("source.missing"); ok {
		t.Fatalf("expected missing lookup to fail")
	}
}

func TestGojaEngine_CallErrors(t *testing.T) {
	engine := NewEngine()
	if _, err := engine.Execute(context.Background(), "var x = {y: 3};"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if _, err := engine.Call(context.Background(), "x.z"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := engine.Call(context.Background(), "x.y"); !errors.Is(err, ErrNotFunction) {
		t.Fatalf("expected ErrNotFunction, got %v", err)
	}
}

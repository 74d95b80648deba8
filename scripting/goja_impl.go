package scripting

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/dop251/goja"
)

// GojaEngine runs JavaScript with goja. A single runtime is not safe for
// concurrent use, so calls are serialized.
type GojaEngine struct {
	mu sync.Mutex
	vm *goja.Runtime
}

func NewEngine() *GojaEngine {
	vm := goja.New()
	return &GojaEngine{vm: vm}
}

func (e *GojaEngine) Execute(ctx context.Context, script string) (interface{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	val, err := e.interruptible(ctx, func() (goja.Value, error) {
		return e.vm.RunString(script)
	})
	if err != nil {
		return nil, err
	}
	return export(val), nil
}

func (e *GojaEngine) Call(ctx context.Context, name string, args ...interface{}) (interface{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	this, val, ok := e.resolve(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	fn, ok := goja.AssertFunction(val)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFunction, name)
	}
	jsArgs := make([]goja.Value, len(args))
	for i, a := range args {
		jsArgs[i] = e.vm.ToValue(a)
	}
	out, err := e.interruptible(ctx, func() (goja.Value, error) {
		return fn(this, jsArgs...)
	})
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", name, err)
	}
	return export(out), nil
}

func (e *GojaEngine) Lookup(name string) (interface{}, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, val, ok := e.resolve(name)
	if !ok {
		return nil, false
	}
	return export(val), true
}

func (e *GojaEngine) IsFunction(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, val, ok := e.resolve(name)
	if !ok {
		return false
	}
	_, ok = goja.AssertFunction(val)
	return ok
}

// interruptible runs fn, interrupting the VM when ctx is done.
func (e *GojaEngine) interruptible(ctx context.Context, fn func() (goja.Value, error)) (goja.Value, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		select {
		case <-ctx.Done():
			e.vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()
	// the watcher must be gone before clearing, or a late interrupt leaks
	// into the next call
	defer func() {
		close(done)
		<-stopped
		e.vm.ClearInterrupt()
	}()

	val, err := fn()
	if err != nil {
		if interruptedErr, ok := err.(*goja.InterruptedError); ok {
			if cause, ok := interruptedErr.Value().(error); ok && cause != nil {
				return nil, cause
			}
			return nil, context.Canceled
		}
		return nil, err
	}
	return val, nil
}

// resolve walks a dotted path from the global object. It returns the owning
// object (used as `this` for calls) and the value.
func (e *GojaEngine) resolve(name string) (goja.Value, goja.Value, bool) {
	var this goja.Value = e.vm.GlobalObject()
	obj := e.vm.GlobalObject()
	parts := strings.Split(name, ".")
	for i, part := range parts {
		v := obj.Get(part)
		if isMissing(v) {
			return nil, nil, false
		}
		if i == len(parts)-1 {
			return this, v, true
		}
		next, ok := v.(*goja.Object)
		if !ok {
			return nil, nil, false
		}
		this, obj = next, next
	}
	return nil, nil, false
}

func isMissing(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}

func export(v goja.Value) interface{} {
	if isMissing(v) {
		return nil
	}
	return v.Export()
}

package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/chazu/mote/vm"
)

// ErrWorkerStopped is returned when work is submitted to a stopped worker.
var ErrWorkerStopped = errors.New("vm worker stopped")

// vmRequest represents a unit of work to be executed on the VM goroutine.
type vmRequest struct {
	fn   func(*vm.VM) interface{}
	done chan vmResult
}

// vmResult holds the return value from a VM operation.
type vmResult struct {
	value interface{}
	err   error
}

// VMWorker serializes all access to one VM through a single goroutine.
// A VM owns a single operand stack, so concurrent handlers must go through
// the worker; concurrency across sessions comes from giving each session
// its own VM and worker.
type VMWorker struct {
	vm       *vm.VM
	requests chan vmRequest
	quit     chan struct{}
	stopped  chan struct{}
}

// NewVMWorker creates a VMWorker and starts the processing goroutine.
func NewVMWorker(v *vm.VM) *VMWorker {
	w := &VMWorker{
		vm:       v,
		requests: make(chan vmRequest, 64),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go w.loop()
	return w
}

// loop processes VM requests sequentially on a dedicated goroutine.
func (w *VMWorker) loop() {
	defer close(w.stopped)
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs a function on the VM, recovering from panics. An internal VM
// error keeps its type so callers can tell it apart from other failures.
func (w *VMWorker) execute(fn func(*vm.VM) interface{}) vmResult {
	var result vmResult
	func() {
		defer func() {
			if r := recover(); r != nil {
				if ie, ok := r.(*vm.InternalError); ok {
					result.err = ie
				} else {
					result.err = fmt.Errorf("%v", r)
				}
			}
		}()
		result.value = fn(w.vm)
	}()
	return result
}

// Do submits a function for execution on the VM goroutine and blocks
// until it completes. Returns the result and any error (including panics).
func (w *VMWorker) Do(fn func(*vm.VM) interface{}) (interface{}, error) {
	return w.DoContext(context.Background(), fn)
}

// DoContext is Do with cancellation. A request already running is not
// interrupted; the caller simply stops waiting for it.
func (w *VMWorker) DoContext(ctx context.Context, fn func(*vm.VM) interface{}) (interface{}, error) {
	req := vmRequest{
		fn:   fn,
		done: make(chan vmResult, 1),
	}
	select {
	case w.requests <- req:
	case <-w.stopped:
		return nil, ErrWorkerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case result := <-req.done:
		return result.value, result.err
	case <-w.stopped:
		return nil, ErrWorkerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop shuts down the worker goroutine. It is safe to call more than once.
func (w *VMWorker) Stop() {
	select {
	case <-w.quit:
	default:
		close(w.quit)
	}
	<-w.stopped
}

// VM returns the underlying VM. Callers must not touch its state outside Do.
func (w *VMWorker) VM() *vm.VM {
	return w.vm
}

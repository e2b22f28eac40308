package lua

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// DefaultQueueSize is the number of operations an Executor buffers.
const DefaultQueueSize = 64

type call struct {
	fn     func(*State) error
	result chan error
}

// Executor serializes every operation on one State through a single
// goroutine. Calls from many goroutines queue up and run one at a time.
type Executor struct {
	state *State
	queue chan *call

	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewExecutor starts an executor that owns st. Close stops it and closes st.
func NewExecutor(st *State, queueSize int) *Executor {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	e := &Executor{
		state:   st,
		queue:   make(chan *call, queueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *Executor) run() {
	defer close(e.stopped)
	for {
		select {
		case <-e.done:
			e.drain()
			e.closeErr = e.state.Close()
			return
		case c := <-e.queue:
			c.result <- e.invoke(c)
		}
	}
}

func (e *Executor) invoke(c *call) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if re, ok := r.(error); ok {
				err = fmt.Errorf("lua panic: %w", re)
				return
			}
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return c.fn(e.state)
}

func (e *Executor) drain() {
	for {
		select {
		case c := <-e.queue:
			c.result <- ErrExecutorClosed
		default:
			return
		}
	}
}

// Do runs fn on the executor goroutine and waits for it. If ctx ends first,
// Do returns ctx.Err() but a call already dequeued still runs to completion.
func (e *Executor) Do(ctx context.Context, fn func(*State) error) error {
	c := &call{fn: fn, result: make(chan error, 1)}

	select {
	case <-e.done:
		return ErrExecutorClosed
	default:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrExecutorClosed
	case e.queue <- c:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-c.result:
		return err
	case <-e.stopped:
		select {
		case err := <-c.result:
			return err
		default:
			return ErrExecutorClosed
		}
	}
}

// State returns the owned state. Touch it only from inside Do.
func (e *Executor) State() *State { return e.state }

// Close stops the executor and waits for it. See Shutdown.
func (e *Executor) Close() error {
	return e.Shutdown(context.Background())
}

// Shutdown stops the executor: it interrupts the running call, fails queued
// calls with ErrExecutorClosed, and closes the state. It waits until the
// executor goroutine has stopped or ctx ends. In the latter case it returns
// ctx.Err() and the state is closed once the running call returns.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.closeOnce.Do(func() {
		close(e.done)
		e.state.Interrupt()
	})
	select {
	case <-e.stopped:
		return e.closeErr
	default:
	}
	select {
	case <-e.stopped:
		return e.closeErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsClosed reports whether Close has been called.
func (e *Executor) IsClosed() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// IsClosedErr reports whether err means the executor or its state is gone.
func IsClosedErr(err error) bool {
	return errors.Is(err, ErrExecutorClosed) || errors.Is(err, ErrStateClosed)
}

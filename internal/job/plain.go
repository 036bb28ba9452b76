package job

import (
	"context"
	"sync/atomic"
)

// Func is a plain job backed by a function.
type Func struct {
	key      string
	fn       func(ctx context.Context) error
	teardown func()

	tornDown atomic.Bool
}

// NewFunc returns a plain job running fn under key. teardown may be nil.
func NewFunc(key string, fn func(ctx context.Context) error, teardown func()) *Func {
	return &Func{key: key, fn: fn, teardown: teardown}
}

func (f *Func) Key() string { return f.key }

func (f *Func) Run(ctx context.Context) error { return f.fn(ctx) }

func (f *Func) Teardown() {
	if f.tornDown.CompareAndSwap(false, true) && f.teardown != nil {
		f.teardown()
	}
}

// TornDown reports whether Teardown has run.
func (f *Func) TornDown() bool { return f.tornDown.Load() }

// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package syncx contains useful synchronization primitives.
package syncx

import (
	"io"
	"sync"
)

// Protect wraps T into [Protected].
func Protect[T any](val T) *Protected[T] { return &Protected[T]{val: val} }

// Protected provides synchronized access to a value of type T.
// It should not be copied.
type Protected[T any] struct {
	mu  sync.Mutex
	val T
}

// WriteAccess executes f with the value under the lock.
func (p *Protected[T]) WriteAccess(f func(T)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f(p.val)
}

// Lazy represents a lazily computed value.
type Lazy[T any] struct {
	once sync.Once
	val  T
	err  error
}

// Get returns T, calling f to compute it, if necessary.
func (l *Lazy[T]) Get(f func() T) T {
	l.once.Do(func() { l.val = f() })
	return l.val
}

// GetErr returns T and an error, calling f to compute them, if necessary.
func (l *Lazy[T]) GetErr(f func() (T, error)) (T, error) {
	l.once.Do(func() { l.val, l.err = f() })
	return l.val, l.err
}

// Writer is an [io.Writer] that serializes writes, so that lines printed by
// concurrent workers are never interleaved.
type Writer struct {
	p *Protected[io.Writer]
}

// NewWriter returns a [Writer] that writes to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{p: Protect(w)}
}

func (w *Writer) Write(b []byte) (n int, err error) {
	w.p.WriteAccess(func(dst io.Writer) {
		n, err = dst.Write(b)
	})
	return n, err
}

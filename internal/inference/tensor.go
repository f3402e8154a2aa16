// Package inference provides the two prediction backends: local
// numeric models and remote language-model inference.
package inference

import (
	"sync"
)

// BufferPool hands out numeric buffers for model inference. The model
// runtime assumes no automatic reclamation of its buffers, so every
// acquisition must be paired with a release on every exit path; Scope
// makes that pairing structural.
type BufferPool struct {
	pools sync.Map // int -> *sync.Pool
}

// NewBufferPool creates an empty buffer pool.
func NewBufferPool() *BufferPool {
	return &BufferPool{}
}

func (p *BufferPool) acquire(n int) []float64 {
	v, ok := p.pools.Load(n)
	if !ok {
		v, _ = p.pools.LoadOrStore(n, &sync.Pool{
			New: func() any {
				return make([]float64, n)
			},
		})
	}
	buf := v.(*sync.Pool).Get().([]float64)
	for i := range buf {
		buf[i] = 0
	}
	return buf
}

func (p *BufferPool) release(buf []float64) {
	if v, ok := p.pools.Load(len(buf)); ok {
		v.(*sync.Pool).Put(buf) //nolint:staticcheck // slice headers are small
	}
}

// Scope tracks every buffer acquired during one prediction and returns
// all of them to the pool when closed.
type Scope struct {
	pool *BufferPool
	bufs [][]float64
}

// Alloc acquires a zeroed buffer of length n, owned by the scope.
func (s *Scope) Alloc(n int) []float64 {
	buf := s.pool.acquire(n)
	s.bufs = append(s.bufs, buf)
	return buf
}

// Close releases every buffer the scope handed out.
func (s *Scope) Close() {
	for _, buf := range s.bufs {
		s.pool.release(buf)
	}
	s.bufs = nil
}

// WithScope runs fn with a fresh scope and releases all of its buffers
// when fn returns, on success, error, and panic alike. Values read out
// of scope buffers must be copied before returning.
func (p *BufferPool) WithScope(fn func(s *Scope) error) error {
	s := &Scope{pool: p}
	defer s.Close()
	return fn(s)
}

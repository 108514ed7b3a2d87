// Package ringbuf implements a fixed capacity queue of length-prefixed
// frames. One goroutine may Put while another calls Get.
package ringbuf

import (
	"io"
	"sync/atomic"
)

// Ring stores whole frames, each preceded by a length byte. A frame is
// either stored completely or not at all.
type Ring struct {
	buf []byte
	// Byte counters kept modulo 2*len(buf) so that a full ring is told
	// apart from an empty one. Indices are taken modulo len(buf).
	head atomic.Uint32 // Advanced by the reader.
	tail atomic.Uint32 // Advanced by the writer.
}

// New returns a Ring holding at most size bytes, length prefixes included.
func New(size int) *Ring {
	if size <= 1 {
		panic("ringbuf: size must be greater than 1")
	}
	return &Ring{buf: make([]byte, size)}
}

// Cap returns the capacity of the ring in bytes.
func (r *Ring) Cap() int { return len(r.buf) }

// Len returns the number of buffered bytes, length prefixes included.
func (r *Ring) Len() int {
	m := 2 * uint32(len(r.buf))
	return int((r.tail.Load() + m - r.head.Load()) % m)
}

// Free returns the number of bytes that can still be written.
func (r *Ring) Free() int { return r.Cap() - r.Len() }

// Put stores frame. It returns false and stores nothing if frame is empty,
// longer than 255 bytes or does not fit with its length prefix.
func (r *Ring) Put(frame []byte) bool {
	n := len(frame)
	if n == 0 || n > 255 || n >= r.Free() {
		return false
	}
	t := r.tail.Load()
	r.buf[r.idx(t)] = byte(n)
	r.copyIn(t+1, frame)
	r.tail.Store(r.wrap(t + 1 + uint32(n)))
	return true
}

// Next returns the length of the next frame or 0 if the ring is empty.
func (r *Ring) Next() int {
	h := r.head.Load()
	if h == r.tail.Load() {
		return 0
	}
	return int(r.buf[r.idx(h)])
}

// Get copies the next frame into dst and removes it from the ring.
// It returns io.EOF if the ring is empty and io.ErrShortBuffer, leaving the
// frame queued, if dst is too small.
func (r *Ring) Get(dst []byte) (int, error) {
	n := r.Next()
	if n == 0 {
		return 0, io.EOF
	}
	if len(dst) < n {
		return 0, io.ErrShortBuffer
	}
	h := r.head.Load()
	r.copyOut(dst[:n], h+1)
	r.head.Store(r.wrap(h + 1 + uint32(n)))
	return n, nil
}

// Discard drops all buffered frames. Only the reader may call it.
func (r *Ring) Discard() { r.head.Store(r.tail.Load()) }

func (r *Ring) idx(counter uint32) int { return int(counter % uint32(len(r.buf))) }

func (r *Ring) wrap(counter uint32) uint32 { return counter % (2 * uint32(len(r.buf))) }

func (r *Ring) copyIn(at uint32, src []byte) {
	i := r.idx(at)
	n := copy(r.buf[i:], src)
	copy(r.buf, src[n:])
}

func (r *Ring) copyOut(dst []byte, at uint32) {
	i := r.idx(at)
	n := copy(dst, r.buf[i:])
	copy(dst[n:], r.buf)
}

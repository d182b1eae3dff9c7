package utils

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
)

// ErrTooLarge is returned once a LimitedReader has handed out Max bytes.
var ErrTooLarge = errors.New("input exceeds size limit")

// DefaultChunkSize is used when callers pass a chunk size <= 0.
const DefaultChunkSize = 32 * 1024

// bufPool reuses scratch buffers across requests; encoded images are
// short-lived and similar in size.
var bufPool = sync.Pool{
	New: func() interface{} { return new(bytes.Buffer) },
}

// AcquireBuffer returns a reset buffer from the pool.
func AcquireBuffer() *bytes.Buffer {
	b := bufPool.Get().(*bytes.Buffer)
	b.Reset()
	return b
}

// ReleaseBuffer returns b to the pool.  Callers must not use b after this call.
func ReleaseBuffer(b *bytes.Buffer) {
	if b.Cap() > 8*1024*1024 {
		return
	}
	bufPool.Put(b)
}

// DrainReader copies r into a pooled buffer chunk by chunk, checking ctx
// between reads. Pass the buffer back with ReleaseBuffer.
func DrainReader(ctx context.Context, r io.Reader, chunkSize int) (*bytes.Buffer, error) {
	return drain(ctx, r, 0, chunkSize)
}

// ReadAll drains r into a slice the caller owns. sizeHint pre-sizes the
// scratch buffer when the length is known up front (pass -1 otherwise).
// When max > 0, more than max bytes fails with ErrTooLarge.
func ReadAll(ctx context.Context, r io.Reader, sizeHint, max int64, chunkSize int) ([]byte, error) {
	if max > 0 {
		r = &LimitedReader{R: r, Max: max}
		if sizeHint > max {
			sizeHint = max
		}
	}
	buf, err := drain(ctx, r, sizeHint, chunkSize)
	if err != nil {
		return nil, err
	}
	out := CloneBytes(buf.Bytes())
	ReleaseBuffer(buf)
	return out, nil
}

func drain(ctx context.Context, r io.Reader, sizeHint int64, chunkSize int) (*bytes.Buffer, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	buf := AcquireBuffer()
	if sizeHint > 0 {
		buf.Grow(int(sizeHint))
	}
	chunk := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			ReleaseBuffer(buf)
			return nil, err
		}
		n, err := r.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
		}
		if err == io.EOF {
			return buf, nil
		}
		if err != nil {
			ReleaseBuffer(buf)
			return nil, err
		}
	}
}

// LimitedReader passes through at most Max bytes of R. Unlike io.LimitReader
// it reports ErrTooLarge when R still has data past the limit, so an
// oversized input is never mistaken for a complete one.
type LimitedReader struct {
	R   io.Reader
	Max int64
	n   int64
}

func (l *LimitedReader) Read(p []byte) (int, error) {
	if l.Max <= 0 {
		return l.R.Read(p)
	}
	if l.n >= l.Max {
		// Probe for one more byte.
		var one [1]byte
		n, err := l.R.Read(one[:])
		if n > 0 {
			return 0, ErrTooLarge
		}
		if err == nil {
			return 0, nil
		}
		return 0, err
	}
	if remain := l.Max - l.n; int64(len(p)) > remain {
		p = p[:remain]
	}
	n, err := l.R.Read(p)
	l.n += int64(n)
	return n, err
}

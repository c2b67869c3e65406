// Package copier streams a bounded byte range from a device into a sink.
package copier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sys/unix"
)

// Op identifies which side of the copy failed.
type Op string

const (
	OpRead  Op = "read"
	OpWrite Op = "write"
)

var (
	ErrRead  = errors.New("copy read failed")
	ErrWrite = errors.New("copy write failed")
)

// Error reports a failed copy and the byte offset reached before it.
type Error struct {
	Op     Op
	Offset int64
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("copy %s at offset %d: %v", e.Op, e.Offset, e.Err)
}

func (e *Error) Unwrap() []error {
	sentinel := ErrRead
	if e.Op == OpWrite {
		sentinel = ErrWrite
	}
	if e.Err == nil {
		return []error{sentinel}
	}
	return []error{sentinel, e.Err}
}

// ProgressFunc receives the size of each chunk just read.
type ProgressFunc func(n int)

// Copy reads at most length bytes from src in chunks of bufferSize, invoking
// onProgress with each chunk size before writing that chunk to dst. Reading
// stops successfully at EOF or when length bytes have been copied.
func Copy(src io.Reader, dst io.Writer, length, bufferSize int64, onProgress ProgressFunc) error {
	return CopyContext(context.Background(), src, dst, length, bufferSize, onProgress)
}

// CopyContext is Copy with cancellation checked between chunks. A cancelled
// context is returned as ctx.Err(), not as an *Error.
func CopyContext(ctx context.Context, src io.Reader, dst io.Writer, length, bufferSize int64, onProgress ProgressFunc) error {
	if bufferSize <= 0 {
		return fmt.Errorf("copy: buffer size must be positive, got %d", bufferSize)
	}
	if length <= 0 {
		return nil
	}

	buf, release := borrowBuffer(int(min(bufferSize, length)))
	defer release()

	var copied int64
	for copied < length {
		if err := ctx.Err(); err != nil {
			return err
		}
		want := int64(len(buf))
		if remaining := length - copied; remaining < want {
			want = remaining
		}

		n, readErr := src.Read(buf[:want])
		if n > 0 {
			if onProgress != nil {
				onProgress(n)
			}
			if err := writeAll(dst, buf[:n]); err != nil {
				return &Error{Op: OpWrite, Offset: copied, Err: err}
			}
			copied += int64(n)
		}
		switch {
		case readErr == nil:
		case errors.Is(readErr, io.EOF):
			return nil
		case errors.Is(readErr, unix.EINTR):
			continue
		default:
			return &Error{Op: OpRead, Offset: copied, Err: readErr}
		}
	}
	return nil
}

func writeAll(dst io.Writer, chunk []byte) error {
	for len(chunk) > 0 {
		n, err := dst.Write(chunk)
		chunk = chunk[n:]
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
	}
	return nil
}

var pools sync.Map // int -> *sync.Pool

func borrowBuffer(size int) ([]byte, func()) {
	value, _ := pools.LoadOrStore(size, &sync.Pool{
		New: func() any {
			buf := make([]byte, size)
			return &buf
		},
	})
	pool := value.(*sync.Pool)
	buf := pool.Get().(*[]byte)
	return *buf, func() { pool.Put(buf) }
}

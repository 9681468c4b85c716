package sock

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// ErrConnectionLost is returned when the peer closes the stream before the
// expected number of bytes arrived.
var ErrConnectionLost = errors.New("connection lost")

// readChunk caps the up-front allocation of ReadExact; larger reads grow the
// buffer as bytes arrive.
const readChunk = 64 * 1024

// ReadExact reads exactly n bytes from r. A short read caused by the peer
// closing the stream yields ErrConnectionLost; other I/O errors pass through.
func ReadExact(r io.Reader, n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("invalid read length %d", n)
	}
	if n == 0 {
		return []byte{}, nil
	}
	var buf bytes.Buffer
	buf.Grow(min(n, readChunk))
	if _, err := io.CopyN(&buf, r, int64(n)); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrConnectionLost
		}
		return nil, err
	}
	return buf.Bytes(), nil
}

// Length decodes a 4-byte big-endian length prefix.
func Length(b []byte) (int, error) {
	n := binary.BigEndian.Uint32(b)
	if uint64(n) > math.MaxInt {
		return 0, fmt.Errorf("length %d does not fit in int", n)
	}
	return int(n), nil
}

// ReadSome performs a single read of up to size bytes. A zero-length read or
// EOF is reported as ErrConnectionLost.
func ReadSome(r io.Reader, size int) ([]byte, error) {
	buf := make([]byte, size)
	n, err := r.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return nil, ErrConnectionLost
	}
	return nil, err
}

// TryClose closes c and ignores any error. Nil is allowed.
func TryClose(c io.Closer) {
	if c == nil {
		return
	}
	_ = c.Close()
}

// Deadline arms a read/write deadline on conn for one exchange and returns
// the function that clears it. A zero timeout is a no-op.
func Deadline(conn net.Conn, timeout time.Duration) func() {
	if conn == nil || timeout <= 0 {
		return func() {}
	}
	_ = conn.SetDeadline(time.Now().Add(timeout))
	return func() { _ = conn.SetDeadline(time.Time{}) }
}

// IsExpectedCloseError reports errors that are a normal part of tearing a
// connection down rather than a fault worth logging loudly.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, ErrConnectionLost) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == unix.EPIPE || errno == unix.ECONNRESET || errno == unix.ECONNABORTED
	}
	return false
}

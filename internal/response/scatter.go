package response

import (
	"errors"
	"io"
	"net"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// rawConnWriter is implemented by writers that expose their underlying file
// descriptor — *os.File and *net.TCPConn in the standard library. When the
// emitter's target supports it, writeGather issues a single writev(2) for
// every chunk instead of one write(2) per chunk.
type rawConnWriter interface {
	SyscallConn() (syscall.RawConn, error)
}

// writeGather writes bufs to w as a single scatter/gather operation when w
// exposes a raw file descriptor, falling back to net.Buffers' sequential
// Write calls otherwise (the common case when w is an http.ResponseWriter,
// whose header/status-line framing net/http still owns).
func writeGather(w io.Writer, bufs [][]byte) error {
	if rw, ok := w.(rawConnWriter); ok {
		if err := writevRaw(rw, bufs); !errors.Is(err, errNotRaw) {
			return err
		}
	}
	nb := net.Buffers(bufs)
	_, err := nb.WriteTo(w)
	return err
}

// errNotRaw signals writevRaw couldn't get a raw fd; writeGather falls back
// to net.Buffers rather than surfacing this to callers.
var errNotRaw = errors.New("response: no raw file descriptor available")

func writevRaw(rw rawConnWriter, bufs [][]byte) error {
	conn, err := rw.SyscallConn()
	if err != nil {
		return errNotRaw
	}

	iovs := make([]unix.Iovec, 0, len(bufs))
	for _, b := range bufs {
		if len(b) == 0 {
			continue
		}
		iovs = append(iovs, unix.Iovec{Base: &b[0]})
		iovs[len(iovs)-1].SetLen(len(b))
	}
	if len(iovs) == 0 {
		return nil
	}

	var writeErr error
	ctrlErr := conn.Write(func(fd uintptr) bool {
		for len(iovs) > 0 {
			n, err := unix.Writev(int(fd), iovs)
			if err != nil {
				if err == unix.EAGAIN {
					return false // ask runtime poller to wait for writability
				}
				writeErr = err
				return true
			}
			iovs = dropWritten(iovs, n)
		}
		return true
	})
	if ctrlErr != nil {
		return ctrlErr
	}
	return writeErr
}

// dropWritten advances past the first n bytes already written across iovs,
// trimming or dropping entries as needed for a short writev.
func dropWritten(iovs []unix.Iovec, n int) []unix.Iovec {
	for n > 0 && len(iovs) > 0 {
		l := int(iovs[0].Len)
		if n < l {
			iovs[0].Base = (*byte)(unsafe.Pointer(uintptr(unsafe.Pointer(iovs[0].Base)) + uintptr(n)))
			iovs[0].SetLen(l - n)
			break
		}
		n -= l
		iovs = iovs[1:]
	}
	return iovs
}

// Package netutil provides the self-pipe wakeup primitive the socket
// reactor uses to interrupt a blocked poll(2) call from any goroutine.
package netutil

import (
	"os"

	"golang.org/x/sys/unix"
)

// SelfPipe is a non-blocking pipe: Wake writes one byte from any goroutine,
// the owner of the read end includes it in its poll set and calls Drain
// once it observes readability.
type SelfPipe struct {
	r, w *os.File
}

// NewSelfPipe opens a pipe and puts both ends in non-blocking mode, so Wake
// never blocks the caller and Drain never blocks the poller.
func NewSelfPipe() (*SelfPipe, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	if err := unix.SetNonblock(int(r.Fd()), true); err != nil {
		r.Close()
		w.Close()
		return nil, err
	}
	if err := unix.SetNonblock(int(w.Fd()), true); err != nil {
		r.Close()
		w.Close()
		return nil, err
	}
	return &SelfPipe{r: r, w: w}, nil
}

// ReadFD returns the file descriptor to register for POLLIN.
func (p *SelfPipe) ReadFD() int { return int(p.r.Fd()) }

// Wake writes a single byte, waking anything polling ReadFD. Safe to call
// from any goroutine; a full pipe buffer (meaning a wake is already
// pending) is not an error.
func (p *SelfPipe) Wake() {
	p.w.Write([]byte{0})
}

// Drain reads and discards every pending byte. Call after observing
// readability on ReadFD.
func (p *SelfPipe) Drain() {
	buf := make([]byte, 64)
	for {
		n, err := p.r.Read(buf)
		if err != nil || n < len(buf) {
			return
		}
	}
}

// Close releases both ends of the pipe.
func (p *SelfPipe) Close() error {
	werr := p.w.Close()
	rerr := p.r.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// Package reactor runs a single background goroutine that multiplexes an
// arbitrary, dynamically-changing set of file descriptors through one
// poll(2) call, dispatching to a per-fd callback when interesting events
// fire. Registration and cancellation happen from any goroutine; they are
// queued and applied by the reactor goroutine itself between poll calls, so
// callbacks never race with the descriptor set they're iterating.
package reactor

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/Elettrotecnica/naviserver/internal/metrics"
	"github.com/Elettrotecnica/naviserver/internal/netutil"
)

// ErrShutdownPending is returned by Register once BeginShutdown has been
// called; the registration is rejected synchronously instead of being
// queued and immediately swept with EventExit.
var ErrShutdownPending = errors.New("reactor: shutdown in progress")

// EventMask identifies the kind of activity a registration cares about, or
// the kind that fired on a callback invocation.
type EventMask int

const (
	EventRead EventMask = 1 << iota
	EventWrite
	EventException
	// EventExit fires exactly once per registration, during the shutdown
	// sweep, regardless of which mask the registration originally asked
	// for. Callbacks use it to release resources (close the fd, signal a
	// waiting goroutine) since no further poll events will ever arrive.
	EventExit
)

// Callback is invoked with the fd and the events that fired. Returning
// false cancels the registration; returning true keeps it active for the
// next poll cycle.
type Callback func(fd int, events EventMask) bool

type registration struct {
	fd   int
	mask EventMask
	cb   Callback
}

type opKind int

const (
	opRegister opKind = iota
	opCancel
)

type pendingOp struct {
	kind opKind
	reg  registration
}

// pollInterval bounds how long a single poll(2) call blocks even with
// nothing queued, so a missed self-pipe byte (there shouldn't be one, but
// defense in depth) can't wedge shutdown indefinitely.
const pollInterval = 5 * time.Second

// Reactor is the socket callback thread: one poll loop, an arbitrary number
// of registered descriptors, and a self-pipe used to break out of a blocked
// poll(2) whenever the descriptor set changes or shutdown begins.
type Reactor struct {
	mu   sync.Mutex
	cond *sync.Cond

	regs    map[int]*registration
	pending []pendingOp

	wake *netutil.SelfPipe

	running         bool
	shutdownPending bool
	exited          bool // set once Run has returned
}

// New creates a Reactor. Call Run in its own goroutine to start the poll
// loop; Register/Cancel may be called from any goroutine once Run has been
// launched (or even before — registrations queue until the loop starts).
func New() (*Reactor, error) {
	wake, err := netutil.NewSelfPipe()
	if err != nil {
		return nil, err
	}

	re := &Reactor{
		regs: make(map[int]*registration),
		wake: wake,
	}
	re.cond = sync.NewCond(&re.mu)
	return re, nil
}

// Register queues fd for polling under mask. If fd is already registered,
// the new mask and callback replace the old ones once the reactor goroutine
// next drains its pending queue. Register fails synchronously with
// ErrShutdownPending once BeginShutdown has been called — the caller can
// rely on never racing the shutdown sweep for a registration it thinks
// succeeded.
func (re *Reactor) Register(fd int, mask EventMask, cb Callback) error {
	return re.queue(pendingOp{kind: opRegister, reg: registration{fd: fd, mask: mask, cb: cb}})
}

// Cancel removes fd from the poll set. It does not invoke the callback;
// callers that need cleanup should do it themselves before calling Cancel.
func (re *Reactor) Cancel(fd int) {
	re.queue(pendingOp{kind: opCancel, reg: registration{fd: fd}})
}

func (re *Reactor) queue(op pendingOp) error {
	re.mu.Lock()
	if re.shutdownPending {
		re.mu.Unlock()
		return ErrShutdownPending
	}
	re.pending = append(re.pending, op)
	re.mu.Unlock()
	re.wakeUp()
	return nil
}

func (re *Reactor) wakeUp() {
	re.wake.Wake()
}

// BeginShutdown tells the reactor to stop accepting new poll cycles. On its
// next iteration it sweeps every still-registered fd with an EventExit
// callback, then exits. Use AwaitShutdown to block until that's done.
func (re *Reactor) BeginShutdown() {
	re.mu.Lock()
	re.shutdownPending = true
	re.mu.Unlock()
	re.wakeUp()
}

// AwaitShutdown blocks until Run has returned.
func (re *Reactor) AwaitShutdown() {
	re.mu.Lock()
	defer re.mu.Unlock()
	for !re.exited {
		re.cond.Wait()
	}
}

// Running reports whether the poll loop is currently active.
func (re *Reactor) Running() bool {
	re.mu.Lock()
	defer re.mu.Unlock()
	return re.running
}

// Run executes the poll loop until BeginShutdown is called and the shutdown
// sweep completes. It is meant to run in its own goroutine for the lifetime
// of the process; callers should never call it more than once concurrently.
func (re *Reactor) Run() {
	re.mu.Lock()
	re.running = true
	re.mu.Unlock()

	defer func() {
		re.wake.Close()
		re.mu.Lock()
		re.running = false
		re.exited = true
		re.cond.Broadcast()
		re.mu.Unlock()
	}()

	for {
		re.mu.Lock()
		re.drainPendingLocked()

		if re.shutdownPending {
			regs := make([]*registration, 0, len(re.regs))
			for _, reg := range re.regs {
				regs = append(regs, reg)
			}
			re.regs = make(map[int]*registration)
			re.mu.Unlock()

			for _, reg := range regs {
				reg.cb(reg.fd, EventExit)
			}
			return
		}

		fds, regs := re.pollSetLocked()
		metrics.ReactorRegisteredFDs.Set(float64(len(regs)))
		re.mu.Unlock()

		n, err := unix.Poll(fds, int(pollInterval/time.Millisecond))
		metrics.ReactorPollCycles.Inc()
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			logrus.WithError(err).Fatal("reactor: poll failed")
		}
		if n == 0 {
			continue
		}

		re.dispatch(fds, regs)
	}
}

func (re *Reactor) drainPendingLocked() {
	for _, op := range re.pending {
		switch op.kind {
		case opRegister:
			reg := op.reg
			re.regs[reg.fd] = &reg
		case opCancel:
			delete(re.regs, op.reg.fd)
		}
	}
	re.pending = re.pending[:0]
}

func (re *Reactor) pollSetLocked() ([]unix.PollFd, []*registration) {
	regs := make([]*registration, 0, len(re.regs))
	fds := make([]unix.PollFd, 1, len(re.regs)+1)
	fds[0] = unix.PollFd{Fd: int32(re.wake.ReadFD()), Events: unix.POLLIN}
	for _, reg := range re.regs {
		regs = append(regs, reg)
		fds = append(fds, unix.PollFd{Fd: int32(reg.fd), Events: pollEventsFor(reg.mask)})
	}
	return fds, regs
}

// orderedKinds lists the event kinds in the order the original socket
// callback thread dispatches them: read, then write, then exception.
var orderedKinds = [3]EventMask{EventRead, EventWrite, EventException}

func (re *Reactor) dispatch(fds []unix.PollFd, regs []*registration) {
	if fds[0].Revents&unix.POLLIN != 0 {
		re.wake.Drain()
	}

	var dead []int
	for i, reg := range regs {
		rev := eventMaskFor(fds[i+1].Revents)
		if rev == 0 {
			continue
		}
		for _, kind := range orderedKinds {
			if rev&kind == 0 || reg.mask&kind == 0 {
				continue
			}
			if !reg.cb(reg.fd, kind) {
				dead = append(dead, reg.fd)
				break
			}
		}
	}

	if len(dead) == 0 {
		return
	}
	re.mu.Lock()
	for _, fd := range dead {
		delete(re.regs, fd)
	}
	re.mu.Unlock()
}

func pollEventsFor(mask EventMask) int16 {
	var ev int16
	if mask&EventRead != 0 {
		ev |= unix.POLLIN
	}
	if mask&EventWrite != 0 {
		ev |= unix.POLLOUT
	}
	if mask&EventException != 0 {
		ev |= unix.POLLPRI
	}
	return ev
}

func eventMaskFor(rev int16) EventMask {
	var mask EventMask
	if rev&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
		mask |= EventRead
	}
	if rev&unix.POLLOUT != 0 {
		mask |= EventWrite
	}
	if rev&unix.POLLPRI != 0 {
		mask |= EventException
	}
	return mask
}

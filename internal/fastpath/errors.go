package fastpath

import "net/http"

// Kind classifies the abstract failure categories the fast path can
// produce, independent of the concrete Go error that triggered them.
type Kind int

const (
	NotFound Kind = iota
	PermissionDenied
	RangeNotSatisfiable
	IOError
	ShutdownPending
	Fatal
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case PermissionDenied:
		return "permission_denied"
	case RangeNotSatisfiable:
		return "range_not_satisfiable"
	case IOError:
		return "io_error"
	case ShutdownPending:
		return "shutdown_pending"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error wraps a Kind with the HTTP status it maps to and, where available,
// the underlying cause.
type Error struct {
	Kind   Kind
	Status int
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return "fastpath: " + e.Kind.String() + ": " + e.Cause.Error()
	}
	return "fastpath: " + e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is match on Kind alone, so callers can write
// errors.Is(err, fastpath.ErrNotFound) regardless of the wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrNotFound            = &Error{Kind: NotFound, Status: http.StatusNotFound}
	ErrPermissionDenied    = &Error{Kind: PermissionDenied, Status: http.StatusNotFound}
	ErrRangeNotSatisfiable = &Error{Kind: RangeNotSatisfiable, Status: http.StatusRequestedRangeNotSatisfiable}
	ErrIOError             = &Error{Kind: IOError, Status: http.StatusInternalServerError}
	ErrShutdownPending     = &Error{Kind: ShutdownPending, Status: http.StatusServiceUnavailable}
)

// withCause returns a copy of sentinel carrying cause as its Unwrap target.
func withCause(sentinel *Error, cause error) *Error {
	return &Error{Kind: sentinel.Kind, Status: sentinel.Status, Cause: cause}
}

package session

import "errors"

// State is the lifecycle state of an open conversation session.
type State int

const (
	StateNew State = iota
	StateLoading
	StateReady
	StateLoadingOlder
	StateSending
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateLoadingOlder:
		return "loading_older"
	case StateSending:
		return "sending"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	// ErrBusy is returned when Open, LoadOlder, or Send is called while
	// another of the three is in flight.
	ErrBusy = errors.New("session operation already in flight")

	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("session closed")
)

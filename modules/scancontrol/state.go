package scancontrol

import (
	"github.com/e7canasta/orion-scan/modules/camera"
	"github.com/e7canasta/orion-scan/modules/resolver"
)

// Lifecycle is the scan session state.
type Lifecycle int

const (
	Idle Lifecycle = iota
	Starting
	Streaming
	Detected
	// Stopped is terminal: the owner closed the controller.
	Stopped
)

func (l Lifecycle) String() string {
	switch l {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Streaming:
		return "streaming"
	case Detected:
		return "detected"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// State is a snapshot of the scan session.
type State struct {
	Lifecycle  Lifecycle
	Permission camera.Permission
	Generation uint64
	SessionID  string
	LastError  error
	LastResult *resolver.ProductReference
}

// Observer receives a snapshot after every state change. It runs on the
// goroutine that caused the change and must not block. Panics raised on the
// scheduler goroutine are recovered by the frame loop; on the caller's
// goroutine they propagate.
type Observer func(State)

// Navigator receives resolved references. The controller never navigates
// itself; it hands off and stops.
type Navigator interface {
	Navigate(ref resolver.ProductReference)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ref resolver.ProductReference)

// Navigate implements Navigator.
func (f NavigatorFunc) Navigate(ref resolver.ProductReference) { f(ref) }

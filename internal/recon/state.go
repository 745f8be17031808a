package recon

import "sync/atomic"

// ScannerState represents the current state of the channel scanner.
type ScannerState int32

const (
	StateIdle    ScannerState = iota // Created but not running
	StateRunning                     // Promiscuous on, hopping
	StatePaused                      // Promiscuous off, table retained
	StateStopped                     // Permanently stopped
)

func (s ScannerState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRunning:
		return "Running"
	case StatePaused:
		return "Paused"
	case StateStopped:
		return "Stopped"
	}
	return "Unknown"
}

// AtomicState wraps atomic operations for ScannerState
type AtomicState struct {
	v int32
}

func (a *AtomicState) Set(s ScannerState) {
	atomic.StoreInt32(&a.v, int32(s))
}

func (a *AtomicState) Get() ScannerState {
	return ScannerState(atomic.LoadInt32(&a.v))
}

func (a *AtomicState) CompareAndSwap(old, new ScannerState) bool {
	return atomic.CompareAndSwapInt32(&a.v, int32(old), int32(new))
}

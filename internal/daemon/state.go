package daemon

import "sync/atomic"

// State is the daemon lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateWarm
	StateReindexing
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateWarm:
		return "warm"
	case StateReindexing:
		return "reindexing"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

type stateBox struct {
	v atomic.Int32
}

func (b *stateBox) load() State { return State(b.v.Load()) }

func (b *stateBox) store(s State) { b.v.Store(int32(s)) }

// transition moves to next only from one of the given states.
func (b *stateBox) transition(next State, from ...State) bool {
	for _, f := range from {
		if b.v.CompareAndSwap(int32(f), int32(next)) {
			return true
		}
	}
	return false
}

package proxy

import "sync/atomic"

// State is a Session's lifecycle position. Transitions only move forward.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type stateBox struct{ v atomic.Int32 }

func (b *stateBox) load() State { return State(b.v.Load()) }

// advance moves to next only if next is later than the current state.
func (b *stateBox) advance(next State) bool {
	for {
		cur := b.v.Load()
		if State(cur) >= next {
			return false
		}
		if b.v.CompareAndSwap(cur, int32(next)) {
			return true
		}
	}
}

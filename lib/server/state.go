package server

import (
	"strings"
	"sync/atomic"
)

// ConnectionState is the set of negotiation steps a connection has completed.
type ConnectionState uint32

const (
	StateNone      ConnectionState = 0
	StateConnected ConnectionState = 1 << (iota - 1)
	StateEncrypted
	StateAuthenticated
	StateResourceBinded
	StateSessionStarted
)

var stateNames = []struct {
	flag ConnectionState
	name string
}{
	{StateConnected, "CONNECTED"},
	{StateEncrypted, "ENCRYPTED"},
	{StateAuthenticated, "AUTHENTICATED"},
	{StateResourceBinded, "RESOURCE_BINDED"},
	{StateSessionStarted, "SESSION_STARTED"},
}

// Has reports whether all bits of flag are set.
func (s ConnectionState) Has(flag ConnectionState) bool {
	return s&flag == flag
}

// String returns a human-readable list of the set flags.
func (s ConnectionState) String() string {
	if s == StateNone {
		return "NONE"
	}
	var parts []string
	for _, n := range stateNames {
		if s.Has(n.flag) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// atomicState is a ConnectionState shared by the I/O loops and callbacks.
type atomicState struct {
	v atomic.Uint32
}

func (a *atomicState) Load() ConnectionState {
	return ConnectionState(a.v.Load())
}

// Set sets flag and reports whether it was newly set.
func (a *atomicState) Set(flag ConnectionState) bool {
	for {
		old := a.v.Load()
		if ConnectionState(old).Has(flag) {
			return false
		}
		if a.v.CompareAndSwap(old, old|uint32(flag)) {
			return true
		}
	}
}

// Clear clears flag and reports whether it was set.
func (a *atomicState) Clear(flag ConnectionState) bool {
	for {
		old := a.v.Load()
		if old&uint32(flag) == 0 {
			return false
		}
		if a.v.CompareAndSwap(old, old&^uint32(flag)) {
			return true
		}
	}
}

// networkFlags controls the I/O loops of a connection.
type networkFlags uint32

const (
	flagCancelRead networkFlags = 1 << iota
	flagCancelWrite
	flagSuspendRead
	flagSuspendWrite
)

type atomicFlags struct {
	v atomic.Uint32
}

func (a *atomicFlags) Has(f networkFlags) bool {
	return networkFlags(a.v.Load())&f != 0
}

func (a *atomicFlags) Set(f networkFlags) {
	a.v.Or(uint32(f))
}

func (a *atomicFlags) Clear(f networkFlags) {
	a.v.And(^uint32(f))
}

// disposeState tracks teardown progress.
type disposeState uint32

const (
	disposeNone disposeState = iota
	disposePartial
	disposeFull
)

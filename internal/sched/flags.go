package sched

import "sync/atomic"

// Flags is the cooperative arbitration protocol for the shared radio:
// paused suppresses autonomous scanning while a GATT session is open, busy
// marks one BLE operation in flight. The scheduler and the command router
// share one Flags instance; neither ever blocks on the other.
type Flags struct {
	paused atomic.Bool
	busy   atomic.Bool
}

func (f *Flags) Pause()  { f.paused.Store(true) }
func (f *Flags) Resume() { f.paused.Store(false) }

func (f *Flags) Paused() bool { return f.paused.Load() }

// AcquireBusy claims the radio for one operation. The claim is a
// compare-and-swap: observing Busy()==false and storing true separately
// would leave a window where both sides claim the radio at once.
func (f *Flags) AcquireBusy() bool { return f.busy.CompareAndSwap(false, true) }

// ReleaseBusy gives the radio back. Only the side that won AcquireBusy may
// call it.
func (f *Flags) ReleaseBusy() { f.busy.Store(false) }

func (f *Flags) Busy() bool { return f.busy.Load() }

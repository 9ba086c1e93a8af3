package zigbee

import "sync/atomic"

// counter8 is a monotonic 8-bit counter that wraps modulo 256. Each
// increment is globally unique at the instant of allocation (spec §3).
//
// Grounded on the seq/seqMu pattern in the teacher's EZSPLayer.SendCommand
// (urmzd-homai pkg/zigbee/ezsp.go), generalized from a mutex-guarded uint8
// to a lock-free atomic counter per spec §9 ("Counters: Atomic 8-bit
// counters; wrap is correct and expected").
type counter8 struct {
	value atomic.Uint32
}

// next allocates the next value in the sequence and returns it.
func (c *counter8) next() uint8 {
	v := c.value.Add(1) - 1
	return uint8(v & 0xFF)
}

// current returns the most recently allocated value's successor without
// allocating (diagnostic use only).
func (c *counter8) current() uint8 {
	return uint8(c.value.Load() & 0xFF)
}

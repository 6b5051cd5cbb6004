// Package countbuf implements the Count operand: a uniform u32 buffer
// that is either supplied by the caller (when the element count is
// itself computed on the GPU by an earlier stage) or owned by the
// primitive and filled with a fixed, host-known fallback value. Both
// forms present an identical binding surface to shaders, so kernels never
// need to know which case they're in.
package countbuf

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuscan/internal/gpuexec"
)

// Count is the polymorphic count operand. The zero value is invalid; use
// Bound or Owned to construct one.
type Count struct {
	buf    hal.Buffer
	owned  bool
	device hal.Device // only set when owned, for Destroy
}

// Bound wraps a caller-supplied uniform buffer. The buffer's value is
// expected to have been computed by a prior GPU stage (e.g. find-runs'
// run count), so encoding against a Bound Count always implies indirect
// dispatch downstream.
func Bound(buf hal.Buffer) Count {
	return Count{buf: buf}
}

// Owned allocates a fresh uniform buffer and fills it with fallback, a
// host-known element count. Used when the caller didn't supply a Count,
// so direct (non-indirect) dispatch can still read a uniform in the same
// binding slot a Bound Count would occupy.
func Owned(device hal.Device, queue hal.Queue, fallback uint32) (Count, error) {
	buf, err := gpuexec.CreateBuffer(device, "gpuscan_count_owned", 4, gputypes.BufferUsageUniform|gputypes.BufferUsageCopyDst)
	if err != nil {
		return Count{}, fmt.Errorf("countbuf: create owned buffer: %w", err)
	}
	queue.WriteBuffer(buf, 0, uint32ToBytes(fallback))
	return Count{buf: buf, owned: true, device: device}, nil
}

// Uniform returns the buffer to bind wherever a shader declares a
// `var<uniform> count: u32` binding. Cheap: never copies, whichever form
// this Count is.
func (c Count) Uniform() hal.Buffer {
	return c.buf
}

// Update overwrites an owned Count's fallback value. Primitives cache one
// Owned Count per pipeline instance and call Update on every Encode that
// doesn't receive a caller-supplied Count, instead of allocating a fresh
// buffer per call. Calling Update on a Bound Count is a programming error
// and is ignored, since the caller owns that buffer's contents.
func (c Count) Update(queue hal.Queue, value uint32) {
	if !c.owned || c.buf == nil {
		return
	}
	queue.WriteBuffer(c.buf, 0, uint32ToBytes(value))
}

// IsOwned reports whether this Count allocated its own buffer (true) or
// wraps a caller-supplied one (false). The primitives' Encode methods do
// not call it: they choose indirect dispatch by checking whether their
// input carries a non-nil Count buffer.
func (c Count) IsOwned() bool {
	return c.owned
}

// Destroy releases the buffer if this Count owns it. Destroying a Bound
// Count is a no-op: the caller owns that buffer's lifetime.
func (c Count) Destroy() {
	if c.owned && c.device != nil && c.buf != nil {
		c.device.DestroyBuffer(c.buf)
	}
}

func uint32ToBytes(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

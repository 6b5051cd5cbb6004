// Package gpuexec holds the small pieces of hal.Device/hal.Queue plumbing
// shared by every primitive in this module: buffer creation with a size
// floor, zero-fill, and fence-based submit-and-wait for the synchronous
// convenience wrappers. It is adapted from the fully-wired compute
// dispatch pattern used elsewhere in the gogpu ecosystem (shader module
// creation, bind group layout creation, pipeline creation, then a
// CreateCommandEncoder/BeginEncoding/.../EndEncoding/Submit/Wait cycle).
package gpuexec

import (
	"fmt"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// MinBufferSize is the smallest buffer any primitive allocates. Some HAL
// backends reject zero-sized buffers; a tiny floor avoids that edge case
// without affecting correctness since these buffers are always indexed
// within their logical (possibly zero) element count.
const MinBufferSize = 4

// DefaultFenceTimeout bounds how long a *Sync helper waits for GPU work
// to complete before reporting a timeout rather than hanging forever.
const DefaultFenceTimeout = 5 * time.Second

// CreateBuffer creates a GPU buffer, raising size to MinBufferSize if
// the caller asked for something smaller.
func CreateBuffer(device hal.Device, label string, size uint64, usage gputypes.BufferUsage) (hal.Buffer, error) {
	if size < MinBufferSize {
		size = MinBufferSize
	}
	buf, err := device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: usage,
	})
	if err != nil {
		return nil, fmt.Errorf("gpuexec: create buffer %q: %w", label, err)
	}
	return buf, nil
}

// ZeroFill writes size zero bytes to the start of buf. Used to reset the
// decoupled look-back status words and atomic counters before every
// Encode call, since those internal buffers are not safe to reuse across
// submissions without clearing.
func ZeroFill(queue hal.Queue, buf hal.Buffer, size uint64) {
	if size == 0 {
		return
	}
	queue.WriteBuffer(buf, 0, make([]byte, size))
}

// CeilDiv returns ceil(n / d) for positive d, the workgroup-count
// computation every primitive in this module uses to turn an element
// count into a dispatch size.
func CeilDiv(n, d uint32) uint32 {
	if d == 0 {
		return 0
	}
	return (n + d - 1) / d
}

// SubmitAndWait wraps a single command buffer in a fence, submits it on
// queue, and blocks until the fence signals or timeout elapses. It is the
// backbone of every package's *Sync convenience wrapper; Encode itself
// never submits on its own, matching the composable encoder-in/encoder-out
// shape of the primitive APIs.
func SubmitAndWait(device hal.Device, queue hal.Queue, cmdBuf hal.CommandBuffer, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultFenceTimeout
	}

	fence, err := device.CreateFence()
	if err != nil {
		return fmt.Errorf("gpuexec: create fence: %w", err)
	}
	defer device.DestroyFence(fence)

	if err := queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return fmt.Errorf("gpuexec: submit: %w", err)
	}

	ok, err := device.Wait(fence, 1, timeout)
	if err != nil {
		return fmt.Errorf("gpuexec: wait for GPU: %w", err)
	}
	if !ok {
		return fmt.Errorf("gpuexec: GPU timeout after %v", timeout)
	}
	return nil
}

// EncodeComputePass records a single SetPipeline/SetBindGroup/Dispatch
// sequence within one compute pass and ends it. workgroups of zero is a
// legal no-op dispatch and is skipped entirely.
func EncodeComputePass(encoder hal.CommandEncoder, label string, pipeline hal.ComputePipeline, bindGroup hal.BindGroup, x, y, z uint32) error {
	if x == 0 || y == 0 || z == 0 {
		return nil
	}
	pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: label})
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	pass.Dispatch(x, y, z)
	return pass.End()
}

// EncodeComputePassIndirect is EncodeComputePass's counterpart for a
// dispatch whose workgroup count was written by a prior kernel (the
// dispatch-generator) into indirectBuf at indirectOffset, rather than
// known on the host at encode time.
func EncodeComputePassIndirect(encoder hal.CommandEncoder, label string, pipeline hal.ComputePipeline, bindGroup hal.BindGroup, indirectBuf hal.Buffer, indirectOffset uint64) error {
	pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: label})
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	pass.DispatchIndirect(indirectBuf, indirectOffset)
	return pass.End()
}

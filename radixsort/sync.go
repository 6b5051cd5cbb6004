package radixsort

import (
	"context"
	"fmt"
	"time"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuscan/internal/gpuexec"
)

// runSync opens a command encoder, runs record to fill it, submits, and
// blocks until the GPU finishes or ctx is done. Shared by RadixSort.Sync
// and RadixSortBy.Sync, which differ only in which Encode method record
// closes over.
func runSync(ctx context.Context, device hal.Device, queue hal.Queue, label string, record func(hal.CommandEncoder) (hal.CommandEncoder, error)) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("radixsort: %w", err)
	}

	encoder, err := device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return fmt.Errorf("radixsort: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding(label); err != nil {
		return fmt.Errorf("radixsort: begin encoding: %w", err)
	}

	encoder, err = record(encoder)
	if err != nil {
		encoder.DiscardEncoding()
		return err
	}

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("radixsort: end encoding: %w", err)
	}

	timeout := gpuexec.DefaultFenceTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 {
			timeout = d
		}
	}

	return gpuexec.SubmitAndWait(device, queue, cmdBuf, timeout)
}

// Sync records, submits and waits for a full radix sort, for callers
// that don't need to chain the encoded pass onto a larger command
// buffer.
func (s *RadixSort) Sync(ctx context.Context, input RadixSortInput) error {
	return runSync(ctx, s.device, s.queue, "gpuscan_radixsort_sync", func(encoder hal.CommandEncoder) (hal.CommandEncoder, error) {
		return s.Encode(encoder, input)
	})
}

// SyncHalfPrecision is the half-precision equivalent of Sync.
func (s *RadixSort) SyncHalfPrecision(ctx context.Context, input RadixSortInput) error {
	return runSync(ctx, s.device, s.queue, "gpuscan_radixsort_sync", func(encoder hal.CommandEncoder) (hal.CommandEncoder, error) {
		return s.EncodeHalfPrecision(encoder, input)
	})
}

// Sync records, submits and waits for a full key/value radix sort.
func (s *RadixSortBy) Sync(ctx context.Context, input RadixSortByInput) error {
	return runSync(ctx, s.device, s.queue, "gpuscan_radixsortby_sync", func(encoder hal.CommandEncoder) (hal.CommandEncoder, error) {
		return s.Encode(encoder, input)
	})
}

// SyncHalfPrecision is the half-precision equivalent of Sync.
func (s *RadixSortBy) SyncHalfPrecision(ctx context.Context, input RadixSortByInput) error {
	return runSync(ctx, s.device, s.queue, "gpuscan_radixsortby_sync", func(encoder hal.CommandEncoder) (hal.CommandEncoder, error) {
		return s.EncodeHalfPrecision(encoder, input)
	})
}

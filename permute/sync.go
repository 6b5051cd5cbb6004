package permute

import (
	"context"
	"fmt"
	"time"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuscan/internal/gpuexec"
)

func runSync(ctx context.Context, device hal.Device, queue hal.Queue, label string, record func(hal.CommandEncoder) (hal.CommandEncoder, error)) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("permute: %w", err)
	}

	encoder, err := device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return fmt.Errorf("permute: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding(label); err != nil {
		return fmt.Errorf("permute: begin encoding: %w", err)
	}

	encoder, err = record(encoder)
	if err != nil {
		encoder.DiscardEncoding()
		return err
	}

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("permute: end encoding: %w", err)
	}

	timeout := gpuexec.DefaultFenceTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 {
			timeout = d
		}
	}

	return gpuexec.SubmitAndWait(device, queue, cmdBuf, timeout)
}

// Sync records, submits and waits for a gather-by pass.
func (g *GatherBy) Sync(ctx context.Context, in PermuteInput) error {
	return runSync(ctx, g.state.device, g.state.queue, "gpuscan_gather_by_sync", func(encoder hal.CommandEncoder) (hal.CommandEncoder, error) {
		return g.Encode(encoder, in)
	})
}

// Sync records, submits and waits for a scatter-by pass.
func (s *ScatterBy) Sync(ctx context.Context, in PermuteInput) error {
	return runSync(ctx, s.state.device, s.state.queue, "gpuscan_scatter_by_sync", func(encoder hal.CommandEncoder) (hal.CommandEncoder, error) {
		return s.Encode(encoder, in)
	})
}

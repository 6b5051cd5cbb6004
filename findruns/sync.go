package findruns

import (
	"context"
	"fmt"
	"time"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuscan/internal/gpuexec"
)

// Sync is a convenience wrapper around Encode for callers who don't need
// to batch several primitives into one submission: it opens its own
// command encoder, encodes the pipeline, submits, and blocks until the
// GPU finishes or ctx is done.
func (f *FindRuns) Sync(ctx context.Context, in FindRunsInput, out FindRunsOutput) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("findruns: %w", err)
	}

	encoder, err := f.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "gpuscan_findruns_sync"})
	if err != nil {
		return fmt.Errorf("findruns: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("gpuscan_findruns_sync"); err != nil {
		return fmt.Errorf("findruns: begin encoding: %w", err)
	}

	encoder, err = f.Encode(encoder, in, out)
	if err != nil {
		encoder.DiscardEncoding()
		return err
	}

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("findruns: end encoding: %w", err)
	}

	timeout := gpuexec.DefaultFenceTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 {
			timeout = d
		}
	}

	return gpuexec.SubmitAndWait(f.device, f.queue, cmdBuf, timeout)
}

package scan

import (
	"context"
	"fmt"
	"time"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuscan/internal/gpuexec"
)

// ScanSync is a convenience wrapper around Encode for callers who don't
// need to batch several primitives into one submission: it opens its own
// command encoder, encodes the scan, submits, and blocks until the GPU
// finishes or ctx is done.
func (s *Scan) ScanSync(ctx context.Context, input ScanInput) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	encoder, err := s.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "gpuscan_scan_sync"})
	if err != nil {
		return fmt.Errorf("scan: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("gpuscan_scan_sync"); err != nil {
		return fmt.Errorf("scan: begin encoding: %w", err)
	}

	encoder, err = s.Encode(encoder, input)
	if err != nil {
		encoder.DiscardEncoding()
		return err
	}

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("scan: end encoding: %w", err)
	}

	timeout := gpuexec.DefaultFenceTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 {
			timeout = d
		}
	}

	return gpuexec.SubmitAndWait(s.device, s.queue, cmdBuf, timeout)
}

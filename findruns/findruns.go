package findruns

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuscan/countbuf"
	"github.com/gogpu/gpuscan/dispatch"
	"github.com/gogpu/gpuscan/gpuprim"
	"github.com/gogpu/gpuscan/internal/gpuexec"
	"github.com/gogpu/gpuscan/scan"
)

// FindRunsInput describes one Encode call's operands.
type FindRunsInput struct {
	Data hal.Buffer
	Len  uint32
	// Count, if non-nil, is a GPU-computed element count bound directly
	// to the kernels; Encode then generates its dispatch record instead
	// of computing the workgroup count on the host.
	Count hal.Buffer
}

// FindRunsOutput describes where Encode writes its results. RunStarts and
// RunMapping must be sized for Len elements; RunCount for one u32.
type FindRunsOutput struct {
	RunCount   hal.Buffer
	RunStarts  hal.Buffer
	RunMapping hal.Buffer
}

// FindRuns is a compiled run-length discovery pipeline for one element
// kind: mark the start of every maximal run of bitwise-equal elements,
// turn the marks into 1-based run numbers with an inclusive scan (the
// scan package's own kernel, reused directly), then scatter each run's
// starting index and resolve the total run count.
type FindRuns struct {
	mu sync.Mutex

	device hal.Device
	queue  hal.Queue
	kind   gpuprim.ElementKind

	mark    *elementKernel
	collect *elementKernel
	resolve *elementKernel
	scan    *scan.Scan

	generator       *dispatch.GenerateDispatch
	elementSegment  hal.Buffer
	dispatchRecord  hal.Buffer
	ownedCount      countbuf.Count
}

// Init compiles a find-runs pipeline for the given element kind.
func Init(device hal.Device, queue hal.Queue, kind gpuprim.ElementKind) (*FindRuns, error) {
	if device == nil {
		return nil, gpuprim.ErrDeviceNil
	}

	f := &FindRuns{device: device, queue: queue, kind: kind}

	var err error
	f.mark, err = initElementKernel(device, "gpuscan_findruns_mark", markSource(kind))
	if err != nil {
		f.Destroy()
		return nil, err
	}
	f.collect, err = initElementKernel(device, "gpuscan_findruns_collect", collectSource)
	if err != nil {
		f.Destroy()
		return nil, err
	}
	f.resolve, err = initElementKernel(device, "gpuscan_findruns_resolve", resolveSource)
	if err != nil {
		f.Destroy()
		return nil, err
	}

	f.scan, err = scan.Init(device, queue, scan.Inclusive, gpuprim.KindU32)
	if err != nil {
		f.Destroy()
		return nil, fmt.Errorf("findruns: init scan stage: %w", err)
	}

	f.generator, err = dispatch.Init(device)
	if err != nil {
		f.Destroy()
		return nil, fmt.Errorf("findruns: %w", err)
	}

	f.elementSegment, err = gpuexec.CreateBuffer(device, "gpuscan_findruns_segment", 4, gputypes.BufferUsageUniform|gputypes.BufferUsageCopyDst)
	if err != nil {
		f.Destroy()
		return nil, fmt.Errorf("findruns: create segment uniform: %w", err)
	}
	queue.WriteBuffer(f.elementSegment, 0, uint32ToBytes(groupSize))

	f.dispatchRecord, err = gpuexec.CreateBuffer(device, "gpuscan_findruns_dispatch", 12, gputypes.BufferUsageStorage|gputypes.BufferUsageIndirect|gputypes.BufferUsageCopyDst)
	if err != nil {
		f.Destroy()
		return nil, fmt.Errorf("findruns: create dispatch record: %w", err)
	}
	queue.WriteBuffer(f.dispatchRecord, 0, []byte{1, 0, 0, 0, 1, 0, 0, 0, 1, 0, 0, 0})

	f.ownedCount, err = countbuf.Owned(device, queue, 0)
	if err != nil {
		f.Destroy()
		return nil, fmt.Errorf("findruns: create owned count: %w", err)
	}

	gpuprim.Logger().Info("findruns: pipeline initialized", "kind", kind.String())

	return f, nil
}

func uint32ToBytes(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

// Encode appends the mark/scan/collect/resolve sequence to encoder.
func (f *FindRuns) Encode(encoder hal.CommandEncoder, in FindRunsInput, out FindRunsOutput) (hal.CommandEncoder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	dispatchIndirect := in.Count != nil
	count := in.Count
	if !dispatchIndirect {
		f.ownedCount.Update(f.queue, in.Len)
		count = f.ownedCount.Uniform()
	}

	workgroups := gpuexec.CeilDiv(in.Len, groupSize)
	if workgroups == 0 {
		workgroups = 1
	}

	var indirect hal.Buffer
	if dispatchIndirect {
		var err error
		encoder, err = f.generator.Encode(encoder, count, f.elementSegment, f.dispatchRecord)
		if err != nil {
			return encoder, fmt.Errorf("findruns: encode dispatch generator: %w", err)
		}
		indirect = f.dispatchRecord
	}

	var err error
	encoder, err = f.mark.encode(encoder, "gpuscan_findruns_mark", count, in.Data, out.RunMapping, workgroups, indirect)
	if err != nil {
		return encoder, err
	}

	encoder, err = f.scan.Encode(encoder, scan.ScanInput{Data: out.RunMapping, Len: in.Len, Count: in.Count})
	if err != nil {
		return encoder, fmt.Errorf("findruns: encode scan stage: %w", err)
	}

	encoder, err = f.collect.encode(encoder, "gpuscan_findruns_collect", count, out.RunMapping, out.RunStarts, workgroups, indirect)
	if err != nil {
		return encoder, err
	}

	encoder, err = f.resolve.encode(encoder, "gpuscan_findruns_resolve", count, out.RunMapping, out.RunCount, 1, nil)
	if err != nil {
		return encoder, err
	}

	return encoder, nil
}

// Destroy releases all GPU resources held by f.
func (f *FindRuns) Destroy() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.mark != nil {
		f.mark.destroy()
	}
	if f.collect != nil {
		f.collect.destroy()
	}
	if f.resolve != nil {
		f.resolve.destroy()
	}
	if f.scan != nil {
		f.scan.Destroy()
	}
	if f.generator != nil {
		f.generator.Destroy()
	}
	f.ownedCount.Destroy()
	if f.elementSegment != nil {
		f.device.DestroyBuffer(f.elementSegment)
	}
	if f.dispatchRecord != nil {
		f.device.DestroyBuffer(f.dispatchRecord)
	}
}

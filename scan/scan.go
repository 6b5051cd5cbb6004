// Package scan implements a single-pass GPU prefix scan using decoupled
// look-back: one dispatch computes the scan of the whole array, with
// workgroups communicating partial sums through a small status-word
// buffer instead of a second pass over the data.
package scan

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuscan/countbuf"
	"github.com/gogpu/gpuscan/dispatch"
	"github.com/gogpu/gpuscan/gpuprim"
	"github.com/gogpu/gpuscan/internal/gpuexec"
)

//go:embed shaders/scan.wgsl
var shaderTemplate string

// Variant selects whether Encode writes an inclusive or exclusive scan.
type Variant int

const (
	Exclusive Variant = iota
	Inclusive
)

const (
	groupSize   = 256
	valuesPerThread = 8
	segmentSize = groupSize * valuesPerThread
)

// groupState mirrors the WGSL GroupState struct: a tag word followed by
// the bit pattern of the published aggregate or prefix.
type groupState struct {
	state0 uint32
	state1 uint32
}

const groupStateSize = 8 // bytes, two u32 fields

// Scan is a compiled prefix-scan kernel for one (variant, element kind)
// pair. A single instance can be reused across many Encode calls; its
// internal status-word buffer grows to fit the largest array encoded so
// far and is cleared before every dispatch.
type Scan struct {
	mu sync.Mutex

	device hal.Device
	queue  hal.Queue
	kind   gpuprim.ElementKind
	variant Variant

	shaderModule    hal.ShaderModule
	bindGroupLayout hal.BindGroupLayout
	pipelineLayout  hal.PipelineLayout
	pipeline        hal.ComputePipeline

	generator *dispatch.GenerateDispatch

	groupState     hal.Buffer
	groupStateLen  uint32 // in workgroups
	groupCounter   hal.Buffer
	segmentUniform hal.Buffer // holds segmentSize as a u32, for the generator
	dispatchRecord hal.Buffer
	ownedCount     countbuf.Count // reused across Encode calls that don't bind a Count
}

// ScanInput describes one Encode call's operands.
type ScanInput struct {
	// Data is scanned in place.
	Data hal.Buffer
	// Len is the number of ELEMENT_TYPE elements in Data (used to size
	// the group_state buffer and as the fallback count).
	Len uint32
	// Count, if non-nil, is a GPU-computed element count bound directly
	// to the kernel; Encode then generates its dispatch record instead
	// of computing the workgroup count on the host.
	Count hal.Buffer
}

func buildSource(variant Variant, kind gpuprim.ElementKind) string {
	src := strings.ReplaceAll(shaderTemplate, "__ELEMENT_TYPE__", kind.String())
	write := "        data[idx] = combine(block_base, within_inclusive);"
	if variant == Exclusive {
		write = "        data[idx] = combine(block_base, within_exclusive);"
	}
	return strings.ReplaceAll(src, "__SCAN_WRITE__", write)
}

// Init compiles a scan kernel for the given variant and element kind.
func Init(device hal.Device, queue hal.Queue, variant Variant, kind gpuprim.ElementKind) (*Scan, error) {
	if device == nil {
		return nil, gpuprim.ErrDeviceNil
	}

	source := buildSource(variant, kind)

	module, err := device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  fmt.Sprintf("gpuscan_scan_%s", kind),
		Source: hal.ShaderSource{WGSL: source},
	})
	if err != nil {
		return nil, fmt.Errorf("scan: create shader module: %w", err)
	}

	bgLayout, err := device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "gpuscan_scan_bgl",
		Entries: []gputypes.BindGroupLayoutEntry{
			{Binding: 0, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
			{Binding: 1, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
			{Binding: 2, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
			{Binding: 3, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
		},
	})
	if err != nil {
		device.DestroyShaderModule(module)
		return nil, fmt.Errorf("scan: create bind group layout: %w", err)
	}

	pipelineLayout, err := device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "gpuscan_scan_pl",
		BindGroupLayouts: []hal.BindGroupLayout{bgLayout},
	})
	if err != nil {
		device.DestroyBindGroupLayout(bgLayout)
		device.DestroyShaderModule(module)
		return nil, fmt.Errorf("scan: create pipeline layout: %w", err)
	}

	pipeline, err := device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  fmt.Sprintf("gpuscan_scan_%s", kind),
		Layout: pipelineLayout,
		Compute: hal.ComputeState{
			Module:     module,
			EntryPoint: "main",
		},
	})
	if err != nil {
		device.DestroyPipelineLayout(pipelineLayout)
		device.DestroyBindGroupLayout(bgLayout)
		device.DestroyShaderModule(module)
		return nil, fmt.Errorf("scan: create compute pipeline: %w", err)
	}

	generator, err := dispatch.Init(device)
	if err != nil {
		device.DestroyComputePipeline(pipeline)
		device.DestroyPipelineLayout(pipelineLayout)
		device.DestroyBindGroupLayout(bgLayout)
		device.DestroyShaderModule(module)
		return nil, fmt.Errorf("scan: init dispatch generator: %w", err)
	}

	groupCounter, err := gpuexec.CreateBuffer(device, "gpuscan_scan_group_counter", 4, gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst)
	if err != nil {
		generator.Destroy()
		device.DestroyComputePipeline(pipeline)
		device.DestroyPipelineLayout(pipelineLayout)
		device.DestroyBindGroupLayout(bgLayout)
		device.DestroyShaderModule(module)
		return nil, fmt.Errorf("scan: create group counter: %w", err)
	}

	segmentUniform, err := gpuexec.CreateBuffer(device, "gpuscan_scan_segment_size", 4, gputypes.BufferUsageUniform|gputypes.BufferUsageCopyDst)
	if err != nil {
		return nil, fmt.Errorf("scan: create segment-size uniform: %w", err)
	}
	queue.WriteBuffer(segmentUniform, 0, uint32ToBytes(segmentSize))

	dispatchRecord, err := gpuexec.CreateBuffer(device, "gpuscan_scan_dispatch", 12, gputypes.BufferUsageStorage|gputypes.BufferUsageIndirect|gputypes.BufferUsageCopyDst)
	if err != nil {
		return nil, fmt.Errorf("scan: create dispatch record: %w", err)
	}
	queue.WriteBuffer(dispatchRecord, 0, []byte{1, 0, 0, 0, 1, 0, 0, 0, 1, 0, 0, 0})

	ownedCount, err := countbuf.Owned(device, queue, 0)
	if err != nil {
		generator.Destroy()
		device.DestroyBuffer(groupCounter)
		device.DestroyBuffer(segmentUniform)
		device.DestroyBuffer(dispatchRecord)
		device.DestroyComputePipeline(pipeline)
		device.DestroyPipelineLayout(pipelineLayout)
		device.DestroyBindGroupLayout(bgLayout)
		device.DestroyShaderModule(module)
		return nil, fmt.Errorf("scan: create owned count: %w", err)
	}

	gpuprim.Logger().Info("scan: pipeline initialized", "kind", kind.String(), "variant", variantName(variant))

	return &Scan{
		device:          device,
		queue:           queue,
		kind:            kind,
		variant:         variant,
		shaderModule:    module,
		bindGroupLayout: bgLayout,
		pipelineLayout:  pipelineLayout,
		pipeline:        pipeline,
		generator:       generator,
		groupCounter:    groupCounter,
		segmentUniform:  segmentUniform,
		dispatchRecord:  dispatchRecord,
		ownedCount:      ownedCount,
	}, nil
}

func variantName(v Variant) string {
	if v == Inclusive {
		return "inclusive"
	}
	return "exclusive"
}

func uint32ToBytes(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

// ensureGroupState grows the group-state buffer to hold at least
// `workgroups` entries. Shrinking never happens: spec requires internal
// buffers to grow monotonically.
func (s *Scan) ensureGroupState(workgroups uint32) error {
	if s.groupState != nil && s.groupStateLen >= workgroups {
		return nil
	}
	if s.groupState != nil {
		s.device.DestroyBuffer(s.groupState)
	}
	buf, err := gpuexec.CreateBuffer(s.device, "gpuscan_scan_group_state", uint64(workgroups)*groupStateSize, gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst)
	if err != nil {
		return fmt.Errorf("scan: grow group state: %w", err)
	}
	s.groupState = buf
	s.groupStateLen = workgroups
	gpuprim.Logger().Debug("scan: group state buffer grown", "workgroups", workgroups)
	return nil
}

// Encode appends the scan kernel (and, if input.Count is bound, the
// dispatch-record generator ahead of it) to encoder. encoder is expected
// to already be mid-recording (BeginEncoding already called); Encode
// returns the same encoder so callers can chain further primitives onto
// the same command buffer.
func (s *Scan) Encode(encoder hal.CommandEncoder, input ScanInput) (hal.CommandEncoder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dispatchIndirect := input.Count != nil
	count := input.Count
	if !dispatchIndirect {
		s.ownedCount.Update(s.queue, input.Len)
		count = s.ownedCount.Uniform()
	}

	workgroups := gpuexec.CeilDiv(input.Len, segmentSize)
	if workgroups == 0 {
		workgroups = 1
	}
	if err := s.ensureGroupState(workgroups); err != nil {
		return encoder, err
	}

	if dispatchIndirect {
		var err error
		encoder, err = s.generator.Encode(encoder, count, s.segmentUniform, s.dispatchRecord)
		if err != nil {
			return encoder, fmt.Errorf("scan: encode dispatch generator: %w", err)
		}
	}

	gpuexec.ZeroFill(s.queue, s.groupCounter, 4)
	gpuexec.ZeroFill(s.queue, s.groupState, uint64(s.groupStateLen)*groupStateSize)

	bindGroup, err := s.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  "gpuscan_scan_bg",
		Layout: s.bindGroupLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: count.NativeHandle()}},
			{Binding: 1, Resource: gputypes.BufferBinding{Buffer: input.Data.NativeHandle()}},
			{Binding: 2, Resource: gputypes.BufferBinding{Buffer: s.groupState.NativeHandle()}},
			{Binding: 3, Resource: gputypes.BufferBinding{Buffer: s.groupCounter.NativeHandle()}},
		},
	})
	if err != nil {
		return encoder, fmt.Errorf("scan: create bind group: %w", err)
	}

	if dispatchIndirect {
		err = gpuexec.EncodeComputePassIndirect(encoder, "gpuscan_scan", s.pipeline, bindGroup, s.dispatchRecord, 0)
	} else {
		err = gpuexec.EncodeComputePass(encoder, "gpuscan_scan", s.pipeline, bindGroup, workgroups, 1, 1)
	}
	if err != nil {
		return encoder, fmt.Errorf("scan: encode compute pass: %w", err)
	}

	return encoder, nil
}

// Destroy releases all GPU resources held by s.
func (s *Scan) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generator.Destroy()
	s.ownedCount.Destroy()
	if s.groupState != nil {
		s.device.DestroyBuffer(s.groupState)
	}
	s.device.DestroyBuffer(s.groupCounter)
	s.device.DestroyBuffer(s.segmentUniform)
	s.device.DestroyBuffer(s.dispatchRecord)
	s.device.DestroyComputePipeline(s.pipeline)
	s.device.DestroyPipelineLayout(s.pipelineLayout)
	s.device.DestroyBindGroupLayout(s.bindGroupLayout)
	s.device.DestroyShaderModule(s.shaderModule)
}

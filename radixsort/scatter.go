package radixsort

import (
	_ "embed"
	"fmt"
	"strconv"
	"strings"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuscan/gpuprim"
	"github.com/gogpu/gpuscan/internal/gpuexec"
)

//go:embed shaders/bucket_scatter.wgsl
var scatterTemplate string

func scatterSource(kind gpuprim.ElementKind, shift int, value gpuprim.ValueLayout, moveValues bool) string {
	src := strings.ReplaceAll(scatterTemplate, "KEY_TYPE", kind.String())
	src = strings.ReplaceAll(src, "PASS_SHIFT", strconv.Itoa(shift)+"u")

	if !moveValues {
		src = strings.ReplaceAll(src, "__VALUE_BINDINGS__", "")
		src = strings.ReplaceAll(src, "__VALUE_SCATTER__", "")
		return canonicalizeSource(kind) + "\n" + src
	}

	bindings := "@group(0) @binding(6) var<storage, read> src_values: array<" + value.WGSLName() + ">;\n" +
		"@group(0) @binding(7) var<storage, read_write> dst_values: array<" + value.WGSLName() + ">;\n" +
		"var<workgroup> wg_values: array<" + value.WGSLName() + ", SEGMENT_SIZE>;"
	src = strings.ReplaceAll(src, "__VALUE_BINDINGS__", bindings)

	scatterLine := "        wg_values[i] = src_values[idx];\n        dst_values[dest] = wg_values[i];"
	src = strings.ReplaceAll(src, "__VALUE_SCATTER__", scatterLine)

	return value.StructDef() + "\n" + canonicalizeSource(kind) + "\n" + src
}

// bucketScatter performs the stable scatter for one radix pass, resolving
// per-workgroup digit counts into a single global offset per digit via
// decoupled look-back.
type bucketScatter struct {
	device          hal.Device
	queue           hal.Queue
	shaderModule    hal.ShaderModule
	bindGroupLayout hal.BindGroupLayout
	pipelineLayout  hal.PipelineLayout
	pipeline        hal.ComputePipeline

	moveValues bool

	digitState    hal.Buffer
	digitStateLen uint32 // in workgroups
	groupCounter  hal.Buffer
}

func initBucketScatter(device hal.Device, queue hal.Queue, kind gpuprim.ElementKind, shift int, value gpuprim.ValueLayout, moveValues bool) (*bucketScatter, error) {
	source := scatterSource(kind, shift, value, moveValues)

	module, err := device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  fmt.Sprintf("gpuscan_radixsort_scatter_%s_shift%d", kind, shift),
		Source: hal.ShaderSource{WGSL: source},
	})
	if err != nil {
		return nil, fmt.Errorf("radixsort: create scatter shader: %w", err)
	}

	entries := []gputypes.BindGroupLayoutEntry{
		{Binding: 0, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
		{Binding: 1, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}},
		{Binding: 2, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
		{Binding: 3, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}},
		{Binding: 4, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
		{Binding: 5, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
	}
	if moveValues {
		entries = append(entries,
			gputypes.BindGroupLayoutEntry{Binding: 6, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}},
			gputypes.BindGroupLayoutEntry{Binding: 7, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
		)
	}

	bgLayout, err := device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   "gpuscan_radixsort_scatter_bgl",
		Entries: entries,
	})
	if err != nil {
		device.DestroyShaderModule(module)
		return nil, fmt.Errorf("radixsort: create scatter bind group layout: %w", err)
	}

	pipelineLayout, err := device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "gpuscan_radixsort_scatter_pl",
		BindGroupLayouts: []hal.BindGroupLayout{bgLayout},
	})
	if err != nil {
		device.DestroyBindGroupLayout(bgLayout)
		device.DestroyShaderModule(module)
		return nil, fmt.Errorf("radixsort: create scatter pipeline layout: %w", err)
	}

	pipeline, err := device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  fmt.Sprintf("gpuscan_radixsort_scatter_%s_shift%d", kind, shift),
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
		return nil, fmt.Errorf("radixsort: create scatter pipeline: %w", err)
	}

	groupCounter, err := gpuexec.CreateBuffer(device, "gpuscan_radixsort_scatter_group_counter", 4, gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst)
	if err != nil {
		device.DestroyComputePipeline(pipeline)
		device.DestroyPipelineLayout(pipelineLayout)
		device.DestroyBindGroupLayout(bgLayout)
		device.DestroyShaderModule(module)
		return nil, fmt.Errorf("radixsort: create scatter group counter: %w", err)
	}

	return &bucketScatter{
		device:          device,
		queue:           queue,
		shaderModule:    module,
		bindGroupLayout: bgLayout,
		pipelineLayout:  pipelineLayout,
		pipeline:        pipeline,
		moveValues:      moveValues,
		groupCounter:    groupCounter,
	}, nil
}

// ensureDigitState grows the [workgroups][radixDigits] packed status-word
// buffer. Never shrinks, matching the monotonic-growth convention used
// throughout this module's internal buffers.
func (b *bucketScatter) ensureDigitState(workgroups uint32) error {
	if b.digitState != nil && b.digitStateLen >= workgroups {
		return nil
	}
	if b.digitState != nil {
		b.device.DestroyBuffer(b.digitState)
	}
	size := uint64(workgroups) * radixDigits * 4
	buf, err := gpuexec.CreateBuffer(b.device, "gpuscan_radixsort_digit_state", size, gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst)
	if err != nil {
		return fmt.Errorf("radixsort: grow digit state: %w", err)
	}
	b.digitState = buf
	b.digitStateLen = workgroups
	return nil
}

type scatterArgs struct {
	count        hal.Buffer
	srcKeys      hal.Buffer
	dstKeys      hal.Buffer
	histograms   hal.Buffer
	histogramRow uint64 // byte offset of this pass's row within histograms
	srcValues    hal.Buffer
	dstValues    hal.Buffer
	workgroups   uint32
	// indirect, when non-nil, is the dispatch record to read the workgroup
	// count from instead of dispatching workgroups directly.
	indirect hal.Buffer
}

func (b *bucketScatter) encode(encoder hal.CommandEncoder, a scatterArgs) (hal.CommandEncoder, error) {
	if err := b.ensureDigitState(a.workgroups); err != nil {
		return encoder, err
	}
	gpuexec.ZeroFill(b.queue, b.groupCounter, 4)
	gpuexec.ZeroFill(b.queue, b.digitState, uint64(b.digitStateLen)*radixDigits*4)

	entries := []gputypes.BindGroupEntry{
		{Binding: 0, Resource: gputypes.BufferBinding{Buffer: a.count.NativeHandle()}},
		{Binding: 1, Resource: gputypes.BufferBinding{Buffer: a.srcKeys.NativeHandle()}},
		{Binding: 2, Resource: gputypes.BufferBinding{Buffer: a.dstKeys.NativeHandle()}},
		{Binding: 3, Resource: gputypes.BufferBinding{Buffer: a.histograms.NativeHandle(), Offset: a.histogramRow, Size: radixDigits * 4}},
		{Binding: 4, Resource: gputypes.BufferBinding{Buffer: b.digitState.NativeHandle()}},
		{Binding: 5, Resource: gputypes.BufferBinding{Buffer: b.groupCounter.NativeHandle()}},
	}
	if b.moveValues {
		entries = append(entries,
			gputypes.BindGroupEntry{Binding: 6, Resource: gputypes.BufferBinding{Buffer: a.srcValues.NativeHandle()}},
			gputypes.BindGroupEntry{Binding: 7, Resource: gputypes.BufferBinding{Buffer: a.dstValues.NativeHandle()}},
		)
	}

	bindGroup, err := b.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   "gpuscan_radixsort_scatter_bg",
		Layout:  b.bindGroupLayout,
		Entries: entries,
	})
	if err != nil {
		return encoder, fmt.Errorf("radixsort: create scatter bind group: %w", err)
	}

	var encErr error
	if a.indirect != nil {
		encErr = gpuexec.EncodeComputePassIndirect(encoder, "gpuscan_radixsort_scatter", b.pipeline, bindGroup, a.indirect, 0)
	} else {
		encErr = gpuexec.EncodeComputePass(encoder, "gpuscan_radixsort_scatter", b.pipeline, bindGroup, a.workgroups, 1, 1)
	}
	if encErr != nil {
		return encoder, fmt.Errorf("radixsort: encode scatter: %w", encErr)
	}
	return encoder, nil
}

func (b *bucketScatter) destroy() {
	if b.digitState != nil {
		b.device.DestroyBuffer(b.digitState)
	}
	b.device.DestroyBuffer(b.groupCounter)
	b.device.DestroyComputePipeline(b.pipeline)
	b.device.DestroyPipelineLayout(b.pipelineLayout)
	b.device.DestroyBindGroupLayout(b.bindGroupLayout)
	b.device.DestroyShaderModule(b.shaderModule)
}

// Package permute implements gather-by and scatter-by: single-pass index
// permutations driven by an index buffer, monomorphized over both an
// index element kind (u32 or i32) and an arbitrary fixed-size value
// layout via WGSL struct substitution.
package permute

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuscan/countbuf"
	"github.com/gogpu/gpuscan/dispatch"
	"github.com/gogpu/gpuscan/gpuprim"
	"github.com/gogpu/gpuscan/internal/gpuexec"
)

//go:embed shaders/gather_by.wgsl
var gatherTemplate string

//go:embed shaders/scatter_by.wgsl
var scatterTemplate string

const groupSize = 256

func validateIndexKind(kind gpuprim.ElementKind) error {
	if kind != gpuprim.KindU32 && kind != gpuprim.KindI32 {
		return fmt.Errorf("permute: index kind must be u32 or i32, got %s", kind)
	}
	return nil
}

func buildSource(template string, indexKind gpuprim.ElementKind, value gpuprim.ValueLayout) string {
	src := strings.ReplaceAll(template, "__INDEX_TYPE__", indexKind.String())
	src = strings.ReplaceAll(src, "VALUE_TYPE", value.WGSLName())
	return value.StructDef() + "\n" + src
}

// kernel is the pipeline shared by GatherBy and ScatterBy: both have the
// identical (count, idx, src, dst) binding shape, differing only in the
// shader body and which side of the pair is indexed.
type kernel struct {
	device          hal.Device
	shaderModule    hal.ShaderModule
	bindGroupLayout hal.BindGroupLayout
	pipelineLayout  hal.PipelineLayout
	pipeline        hal.ComputePipeline
}

func initKernel(device hal.Device, label, source string) (*kernel, error) {
	module, err := device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  label,
		Source: hal.ShaderSource{WGSL: source},
	})
	if err != nil {
		return nil, fmt.Errorf("permute: create %s shader: %w", label, err)
	}

	bgLayout, err := device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: label + "_bgl",
		Entries: []gputypes.BindGroupLayoutEntry{
			{Binding: 0, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
			{Binding: 1, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}},
			{Binding: 2, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}},
			{Binding: 3, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
		},
	})
	if err != nil {
		device.DestroyShaderModule(module)
		return nil, fmt.Errorf("permute: create %s bind group layout: %w", label, err)
	}

	pipelineLayout, err := device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            label + "_pl",
		BindGroupLayouts: []hal.BindGroupLayout{bgLayout},
	})
	if err != nil {
		device.DestroyBindGroupLayout(bgLayout)
		device.DestroyShaderModule(module)
		return nil, fmt.Errorf("permute: create %s pipeline layout: %w", label, err)
	}

	pipeline, err := device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  label,
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
		return nil, fmt.Errorf("permute: create %s pipeline: %w", label, err)
	}

	return &kernel{
		device:          device,
		shaderModule:    module,
		bindGroupLayout: bgLayout,
		pipelineLayout:  pipelineLayout,
		pipeline:        pipeline,
	}, nil
}

func (k *kernel) encode(encoder hal.CommandEncoder, label string, count, by, src, dst hal.Buffer, workgroups uint32, indirect hal.Buffer) (hal.CommandEncoder, error) {
	bindGroup, err := k.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  label + "_bg",
		Layout: k.bindGroupLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: count.NativeHandle()}},
			{Binding: 1, Resource: gputypes.BufferBinding{Buffer: by.NativeHandle()}},
			{Binding: 2, Resource: gputypes.BufferBinding{Buffer: src.NativeHandle()}},
			{Binding: 3, Resource: gputypes.BufferBinding{Buffer: dst.NativeHandle()}},
		},
	})
	if err != nil {
		return encoder, fmt.Errorf("permute: create %s bind group: %w", label, err)
	}

	var encErr error
	if indirect != nil {
		encErr = gpuexec.EncodeComputePassIndirect(encoder, label, k.pipeline, bindGroup, indirect, 0)
	} else {
		encErr = gpuexec.EncodeComputePass(encoder, label, k.pipeline, bindGroup, workgroups, 1, 1)
	}
	if encErr != nil {
		return encoder, fmt.Errorf("permute: encode %s: %w", label, encErr)
	}
	return encoder, nil
}

func (k *kernel) destroy() {
	k.device.DestroyComputePipeline(k.pipeline)
	k.device.DestroyPipelineLayout(k.pipelineLayout)
	k.device.DestroyBindGroupLayout(k.bindGroupLayout)
	k.device.DestroyShaderModule(k.shaderModule)
}

func uint32ToBytes(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

type permuteState struct {
	device     hal.Device
	queue      hal.Queue
	kernel     *kernel
	ownedCount countbuf.Count
}

func initPermuteState(device hal.Device, queue hal.Queue, label, source string) (*permuteState, error) {
	k, err := initKernel(device, label, source)
	if err != nil {
		return nil, err
	}
	ownedCount, err := countbuf.Owned(device, queue, 0)
	if err != nil {
		k.destroy()
		return nil, fmt.Errorf("permute: create owned count: %w", err)
	}
	return &permuteState{device: device, queue: queue, kernel: k, ownedCount: ownedCount}, nil
}

// PermuteInput describes one Encode call's operands, shared by GatherBy
// and ScatterBy.
type PermuteInput struct {
	By   hal.Buffer // the index buffer
	Data hal.Buffer // gather: the source array; scatter: the source array
	Out  hal.Buffer // gather: the destination array; scatter: the destination array
	Len  uint32
	// Count, if non-nil, is a GPU-computed element count bound directly
	// to the kernel; Encode then generates its dispatch record instead
	// of computing the workgroup count on the host.
	Count hal.Buffer
}

func (p *permuteState) encode(encoder hal.CommandEncoder, label string, generator *generator, in PermuteInput) (hal.CommandEncoder, error) {
	dispatchIndirect := in.Count != nil
	count := in.Count
	if !dispatchIndirect {
		p.ownedCount.Update(p.queue, in.Len)
		count = p.ownedCount.Uniform()
	}

	workgroups := gpuexec.CeilDiv(in.Len, groupSize)
	if workgroups == 0 {
		workgroups = 1
	}

	var indirect hal.Buffer
	if dispatchIndirect {
		var err error
		encoder, err = generator.encode(encoder, count)
		if err != nil {
			return encoder, err
		}
		indirect = generator.dispatchRecord
	}

	return p.kernel.encode(encoder, label, count, in.By, in.Data, in.Out, workgroups, indirect)
}

func (p *permuteState) destroy() {
	p.kernel.destroy()
	p.ownedCount.Destroy()
}

// generator wraps the shared dispatch-record generator kernel with the
// fixed 256-element segment size gather-by/scatter-by dispatch at.
type generator struct {
	device         hal.Device
	inner          *dispatch.GenerateDispatch
	segment        hal.Buffer
	dispatchRecord hal.Buffer
}

func (g *generator) encode(encoder hal.CommandEncoder, count hal.Buffer) (hal.CommandEncoder, error) {
	return g.inner.Encode(encoder, count, g.segment, g.dispatchRecord)
}

func (g *generator) destroy() {
	g.inner.Destroy()
	g.device.DestroyBuffer(g.segment)
	g.device.DestroyBuffer(g.dispatchRecord)
}

func initGenerator(device hal.Device, queue hal.Queue) (*generator, error) {
	inner, err := dispatch.Init(device)
	if err != nil {
		return nil, fmt.Errorf("permute: %w", err)
	}
	segment, err := gpuexec.CreateBuffer(device, "gpuscan_permute_segment", 4, gputypes.BufferUsageUniform|gputypes.BufferUsageCopyDst)
	if err != nil {
		inner.Destroy()
		return nil, fmt.Errorf("permute: create segment uniform: %w", err)
	}
	queue.WriteBuffer(segment, 0, uint32ToBytes(groupSize))

	dispatchRecord, err := gpuexec.CreateBuffer(device, "gpuscan_permute_dispatch", 12, gputypes.BufferUsageStorage|gputypes.BufferUsageIndirect|gputypes.BufferUsageCopyDst)
	if err != nil {
		inner.Destroy()
		device.DestroyBuffer(segment)
		return nil, fmt.Errorf("permute: create dispatch record: %w", err)
	}
	queue.WriteBuffer(dispatchRecord, 0, []byte{1, 0, 0, 0, 1, 0, 0, 0, 1, 0, 0, 0})

	return &generator{device: device, inner: inner, segment: segment, dispatchRecord: dispatchRecord}, nil
}

// Package findruns implements run-length discovery: mark the start of
// every maximal run of bitwise-equal elements, turn the marks into
// 1-based run numbers with an inclusive scan, then scatter each run's
// starting index and resolve the total run count.
package findruns

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuscan/gpuprim"
	"github.com/gogpu/gpuscan/internal/gpuexec"
)

//go:embed shaders/mark_run_starts.wgsl
var markTemplate string

//go:embed shaders/collect_run_starts.wgsl
var collectSource string

//go:embed shaders/resolve_run_count.wgsl
var resolveSource string

const groupSize = 256

// elementKernel is the shape shared by mark_run_starts, collect_run_starts
// and resolve_run_count: a compute pipeline over three storage/uniform
// bindings (count, an input array, an output array).
type elementKernel struct {
	device          hal.Device
	shaderModule    hal.ShaderModule
	bindGroupLayout hal.BindGroupLayout
	pipelineLayout  hal.PipelineLayout
	pipeline        hal.ComputePipeline
}

func initElementKernel(device hal.Device, label, source string) (*elementKernel, error) {
	module, err := device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  label,
		Source: hal.ShaderSource{WGSL: source},
	})
	if err != nil {
		return nil, fmt.Errorf("findruns: create %s shader: %w", label, err)
	}

	bgLayout, err := device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: label + "_bgl",
		Entries: []gputypes.BindGroupLayoutEntry{
			{Binding: 0, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
			{Binding: 1, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}},
			{Binding: 2, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
		},
	})
	if err != nil {
		device.DestroyShaderModule(module)
		return nil, fmt.Errorf("findruns: create %s bind group layout: %w", label, err)
	}

	pipelineLayout, err := device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            label + "_pl",
		BindGroupLayouts: []hal.BindGroupLayout{bgLayout},
	})
	if err != nil {
		device.DestroyBindGroupLayout(bgLayout)
		device.DestroyShaderModule(module)
		return nil, fmt.Errorf("findruns: create %s pipeline layout: %w", label, err)
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
		return nil, fmt.Errorf("findruns: create %s pipeline: %w", label, err)
	}

	return &elementKernel{
		device:          device,
		shaderModule:    module,
		bindGroupLayout: bgLayout,
		pipelineLayout:  pipelineLayout,
		pipeline:        pipeline,
	}, nil
}

func (k *elementKernel) encode(encoder hal.CommandEncoder, label string, count, in, out hal.Buffer, workgroups uint32, indirect hal.Buffer) (hal.CommandEncoder, error) {
	bindGroup, err := k.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  label + "_bg",
		Layout: k.bindGroupLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: count.NativeHandle()}},
			{Binding: 1, Resource: gputypes.BufferBinding{Buffer: in.NativeHandle()}},
			{Binding: 2, Resource: gputypes.BufferBinding{Buffer: out.NativeHandle()}},
		},
	})
	if err != nil {
		return encoder, fmt.Errorf("findruns: create %s bind group: %w", label, err)
	}

	var encErr error
	if indirect != nil {
		encErr = gpuexec.EncodeComputePassIndirect(encoder, label, k.pipeline, bindGroup, indirect, 0)
	} else {
		encErr = gpuexec.EncodeComputePass(encoder, label, k.pipeline, bindGroup, workgroups, 1, 1)
	}
	if encErr != nil {
		return encoder, fmt.Errorf("findruns: encode %s: %w", label, encErr)
	}
	return encoder, nil
}

func (k *elementKernel) destroy() {
	k.device.DestroyComputePipeline(k.pipeline)
	k.device.DestroyPipelineLayout(k.pipelineLayout)
	k.device.DestroyBindGroupLayout(k.bindGroupLayout)
	k.device.DestroyShaderModule(k.shaderModule)
}

func markSource(kind gpuprim.ElementKind) string {
	return strings.ReplaceAll(markTemplate, "__ELEMENT_TYPE__", kind.String())
}

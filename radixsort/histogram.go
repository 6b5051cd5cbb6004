package radixsort

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuscan/gpuprim"
	"github.com/gogpu/gpuscan/internal/gpuexec"
)

//go:embed shaders/bucket_histogram.wgsl
var histogramTemplate string

//go:embed shaders/canonicalize.wgsl
var canonicalizeTemplate string

func canonicalizeSource(kind gpuprim.ElementKind) string {
	src := strings.ReplaceAll(canonicalizeTemplate, "KEY_TYPE", kind.String())
	return strings.ReplaceAll(src, "__CANONICALIZE_BODY__", canonicalizeBody(kind))
}

func histogramSource(kind gpuprim.ElementKind, groups int) string {
	src := strings.ReplaceAll(histogramTemplate, "KEY_TYPE", kind.String())
	src = strings.ReplaceAll(src, "RADIX_GROUPS", fmt.Sprintf("%du", groups))
	return canonicalizeSource(kind) + "\n" + src
}

// bucketHistogram computes H[pass][digit] for every radix pass of one
// sort in a single dispatch over the input.
type bucketHistogram struct {
	device          hal.Device
	shaderModule    hal.ShaderModule
	bindGroupLayout hal.BindGroupLayout
	pipelineLayout  hal.PipelineLayout
	pipeline        hal.ComputePipeline
	groups          int
}

func initBucketHistogram(device hal.Device, kind gpuprim.ElementKind, groups int) (*bucketHistogram, error) {
	if kind != gpuprim.KindU32 && kind != gpuprim.KindI32 && kind != gpuprim.KindF32 {
		return nil, fmt.Errorf("radixsort: unsupported element kind %v", kind)
	}
	module, err := device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  fmt.Sprintf("gpuscan_radixsort_histogram_%s", kind),
		Source: hal.ShaderSource{WGSL: histogramSource(kind, groups)},
	})
	if err != nil {
		return nil, fmt.Errorf("radixsort: create histogram shader: %w", err)
	}

	bgLayout, err := device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "gpuscan_radixsort_histogram_bgl",
		Entries: []gputypes.BindGroupLayoutEntry{
			{Binding: 0, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
			{Binding: 1, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}},
			{Binding: 2, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
		},
	})
	if err != nil {
		device.DestroyShaderModule(module)
		return nil, fmt.Errorf("radixsort: create histogram bind group layout: %w", err)
	}

	pipelineLayout, err := device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "gpuscan_radixsort_histogram_pl",
		BindGroupLayouts: []hal.BindGroupLayout{bgLayout},
	})
	if err != nil {
		device.DestroyBindGroupLayout(bgLayout)
		device.DestroyShaderModule(module)
		return nil, fmt.Errorf("radixsort: create histogram pipeline layout: %w", err)
	}

	pipeline, err := device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  fmt.Sprintf("gpuscan_radixsort_histogram_%s", kind),
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
		return nil, fmt.Errorf("radixsort: create histogram pipeline: %w", err)
	}

	return &bucketHistogram{
		device:          device,
		shaderModule:    module,
		bindGroupLayout: bgLayout,
		pipelineLayout:  pipelineLayout,
		pipeline:        pipeline,
		groups:          groups,
	}, nil
}

// encode dispatches the histogram pass. workgroups sizes the dispatch when
// indirect is nil; when indirect is non-nil the dispatch instead reads its
// workgroup count from that buffer (offset 0), and workgroups is ignored.
func (h *bucketHistogram) encode(encoder hal.CommandEncoder, count, keys, histograms hal.Buffer, workgroups uint32, indirect hal.Buffer) (hal.CommandEncoder, error) {
	bindGroup, err := h.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  "gpuscan_radixsort_histogram_bg",
		Layout: h.bindGroupLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: count.NativeHandle()}},
			{Binding: 1, Resource: gputypes.BufferBinding{Buffer: keys.NativeHandle()}},
			{Binding: 2, Resource: gputypes.BufferBinding{Buffer: histograms.NativeHandle()}},
		},
	})
	if err != nil {
		return encoder, fmt.Errorf("radixsort: create histogram bind group: %w", err)
	}

	var encErr error
	if indirect != nil {
		encErr = gpuexec.EncodeComputePassIndirect(encoder, "gpuscan_radixsort_histogram", h.pipeline, bindGroup, indirect, 0)
	} else {
		encErr = gpuexec.EncodeComputePass(encoder, "gpuscan_radixsort_histogram", h.pipeline, bindGroup, workgroups, 1, 1)
	}
	if encErr != nil {
		return encoder, fmt.Errorf("radixsort: encode histogram: %w", encErr)
	}
	return encoder, nil
}

func (h *bucketHistogram) destroy() {
	h.device.DestroyComputePipeline(h.pipeline)
	h.device.DestroyPipelineLayout(h.pipelineLayout)
	h.device.DestroyBindGroupLayout(h.bindGroupLayout)
	h.device.DestroyShaderModule(h.shaderModule)
}

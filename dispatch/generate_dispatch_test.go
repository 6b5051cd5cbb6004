package dispatch

import (
	"strings"
	"testing"

	"github.com/gogpu/naga"

	"github.com/gogpu/gpuscan/internal/gpuexec"
)

func TestGenerateDispatchShaderValidates(t *testing.T) {
	_, err := naga.Compile(shaderSource)
	if err != nil {
		msg := err.Error()
		if strings.Contains(msg, "not yet implemented") || strings.Contains(msg, "not supported") {
			t.Skipf("skipping: naga limitation: %v", err)
		}
		t.Fatalf("shader failed to validate: %v", err)
	}
}

// referenceDispatch mirrors generate_dispatch.wgsl's single-thread body:
// workgroups = max(ceil(count/segment), 1).
func referenceDispatch(count, segment uint32) uint32 {
	wg := gpuexec.CeilDiv(count, segment)
	if wg < 1 {
		wg = 1
	}
	return wg
}

func TestReferenceDispatchMatchesCeilDiv(t *testing.T) {
	cases := []struct {
		count, segment, want uint32
	}{
		{0, 2048, 1},
		{1, 2048, 1},
		{2048, 2048, 1},
		{2049, 2048, 2},
		{4096, 2048, 2},
		{1 << 20, 1024, 1024},
	}
	for _, c := range cases {
		if got := referenceDispatch(c.count, c.segment); got != c.want {
			t.Errorf("referenceDispatch(%d, %d) = %d, want %d", c.count, c.segment, got, c.want)
		}
	}
}

package scan

import (
	"strings"
	"testing"

	"github.com/gogpu/naga"

	"github.com/gogpu/gpuscan/gpuprim"
)

// requireValidWGSL compiles src through naga, the same shader validator
// the GPU backends use at runtime, skipping known naga limitations rather
// than failing the whole suite on them.
func requireValidWGSL(t *testing.T, src string) {
	t.Helper()
	_, err := naga.Compile(src)
	if err == nil {
		return
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "not yet implemented"),
		strings.Contains(msg, "not supported"),
		strings.Contains(msg, "lowering error"),
		strings.Contains(msg, "atomic"):
		t.Skipf("skipping: naga limitation: %v", err)
	default:
		t.Fatalf("shader failed to validate: %v", err)
	}
}

func TestBuildSourceSubstitutesElementType(t *testing.T) {
	src := buildSource(Inclusive, gpuprim.KindI32)
	if !strings.Contains(src, "alias ELEMENT_TYPE = i32;") {
		t.Errorf("expected ELEMENT_TYPE substituted with i32, got:\n%s", src)
	}
	if strings.Contains(src, "__ELEMENT_TYPE__") {
		t.Error("template placeholder __ELEMENT_TYPE__ left unsubstituted")
	}
}

func TestBuildSourceInclusiveVsExclusiveDiffer(t *testing.T) {
	inc := buildSource(Inclusive, gpuprim.KindU32)
	exc := buildSource(Exclusive, gpuprim.KindU32)
	if inc == exc {
		t.Error("inclusive and exclusive shader sources must differ")
	}
	if strings.Contains(inc, "__SCAN_WRITE__") || strings.Contains(exc, "__SCAN_WRITE__") {
		t.Error("template placeholder __SCAN_WRITE__ left unsubstituted")
	}
	if !strings.Contains(exc, "within_exclusive") {
		t.Error("exclusive variant should reference within_exclusive in its write")
	}
}

// referenceScan computes the same scan on the CPU for differential
// testing of the WGSL algorithm's structure (tile reduction + Hillis-Steele
// + decoupled look-back should be equivalent to this sequential pass).
func referenceScan(data []uint32, inclusive bool) []uint32 {
	out := make([]uint32, len(data))
	var running uint32
	for i, v := range data {
		if inclusive {
			running += v
			out[i] = running
		} else {
			out[i] = running
			running += v
		}
	}
	return out
}

func TestReferenceScanIdentity(t *testing.T) {
	ones := make([]uint32, 1<<20)
	for i := range ones {
		ones[i] = 1
	}

	excl := referenceScan(ones, false)
	incl := referenceScan(ones, true)

	if excl[0] != 0 {
		t.Errorf("exclusive scan of ones must start at 0, got %d", excl[0])
	}
	if got, want := incl[len(incl)-1], uint32(len(ones)); got != want {
		t.Errorf("inclusive scan of %d ones must end at %d, got %d", len(ones), want, got)
	}
	for i := 1; i < len(incl); i++ {
		if incl[i] != incl[i-1]+1 {
			t.Fatalf("inclusive scan of ones not monotonically +1 at index %d", i)
			break
		}
	}
}

// simulateTileScan mirrors scan.wgsl's algorithm on the host: workgroups
// of groupSize threads each own a contiguous valuesPerThread slice, do a
// sequential per-thread reduction, a Hillis-Steele scan across slice
// totals, a sequential cross-workgroup look-back, then a downsweep that
// adds each slice's intra-tile exclusive base and the workgroup's
// cross-workgroup exclusive base to every element of the slice. It exists
// to pin the tile-scan math in a GPU-free test, since a faithful port of
// a broken shader reproduces the same wrong output here.
func simulateTileScan(data []uint32, groupSize, valuesPerThread uint32, inclusive bool) []uint32 {
	segment := groupSize * valuesPerThread
	n := uint32(len(data))
	out := make([]uint32, n)
	if n == 0 {
		return out
	}

	workgroupExclusive := uint32(0)
	for base := uint32(0); base < n; base += segment {
		tile := make([]uint32, segment)
		for i := uint32(0); i < segment; i++ {
			if idx := base + i; idx < n {
				tile[i] = data[idx]
			}
		}

		firstElement := make([]uint32, groupSize)
		for tid := uint32(0); tid < groupSize; tid++ {
			start := tid * valuesPerThread
			firstElement[tid] = tile[start]
			acc := firstElement[tid]
			for i := uint32(1); i < valuesPerThread; i++ {
				acc += tile[start+i]
				tile[start+i] = acc
			}
			tile[start] = acc
		}

		for offset := valuesPerThread; offset < segment; offset *= 2 {
			next := append([]uint32(nil), tile...)
			for tid := uint32(0); tid < groupSize; tid++ {
				start := tid * valuesPerThread
				if start >= offset {
					next[start] = tile[start-offset] + tile[start]
				}
			}
			tile = next
		}

		localAggregate := tile[segment-valuesPerThread]

		for tid := uint32(0); tid < groupSize; tid++ {
			start := tid * valuesPerThread
			var sliceExclusive uint32
			if start > 0 {
				sliceExclusive = tile[start-valuesPerThread]
			}
			blockBase := workgroupExclusive + sliceExclusive

			for k := uint32(0); k < valuesPerThread; k++ {
				i := start + k
				idx := base + i
				if idx >= n {
					continue
				}
				withinInclusive := firstElement[tid]
				if k >= 1 {
					withinInclusive = tile[i]
				}
				var withinExclusive uint32
				switch {
				case k == 1:
					withinExclusive = firstElement[tid]
				case k >= 2:
					withinExclusive = tile[i-1]
				}
				if inclusive {
					out[idx] = blockBase + withinInclusive
				} else {
					out[idx] = blockBase + withinExclusive
				}
			}
		}

		workgroupExclusive += localAggregate
	}

	return out
}

// TestSimulateTileScanTinyRegression reproduces, at the smallest scale
// that exhibits it, the bug where the downsweep never added a slice's
// exclusive base to its interior elements: groupSize=2, valuesPerThread=2
// scanning four ones produced [2,2,4,2] instead of [1,2,3,4].
func TestSimulateTileScanTinyRegression(t *testing.T) {
	data := []uint32{1, 1, 1, 1}

	incl := simulateTileScan(data, 2, 2, true)
	wantIncl := []uint32{1, 2, 3, 4}
	for i := range wantIncl {
		if incl[i] != wantIncl[i] {
			t.Fatalf("inclusive simulateTileScan(%v) = %v, want %v", data, incl, wantIncl)
		}
	}

	excl := simulateTileScan(data, 2, 2, false)
	wantExcl := []uint32{0, 1, 2, 3}
	for i := range wantExcl {
		if excl[i] != wantExcl[i] {
			t.Fatalf("exclusive simulateTileScan(%v) = %v, want %v", data, excl, wantExcl)
		}
	}
}

// TestSimulateTileScanMatchesReference differentially checks
// simulateTileScan against the sequential referenceScan across sizes that
// span a partial slice, a partial tile, exactly one tile, and several
// tiles requiring workgroup-to-workgroup look-back chaining, at both the
// real kernel constants (256, 8) and a small size that exercises more
// workgroup boundaries per element scanned.
func TestSimulateTileScanMatchesReference(t *testing.T) {
	sizes := []int{0, 1, 3, 7, 8, 9, 15, 16, 17, 31, 32, 33, 2047, 2048, 2049, 4096, 5000, 9000}

	for _, groupSize := range []uint32{2, 4, 256} {
		for _, valuesPerThread := range []uint32{2, 8} {
			for _, size := range sizes {
				data := make([]uint32, size)
				for i := range data {
					data[i] = uint32(i%7) + 1
				}

				for _, inclusive := range []bool{true, false} {
					got := simulateTileScan(data, groupSize, valuesPerThread, inclusive)
					want := referenceScan(data, inclusive)
					for i := range want {
						if got[i] != want[i] {
							t.Fatalf("groupSize=%d valuesPerThread=%d size=%d inclusive=%v: simulateTileScan[%d] = %d, want %d",
								groupSize, valuesPerThread, size, inclusive, i, got[i], want[i])
						}
					}
				}
			}
		}
	}
}

func TestScanShadersValidate(t *testing.T) {
	for _, kind := range []gpuprim.ElementKind{gpuprim.KindU32, gpuprim.KindI32, gpuprim.KindF32} {
		for _, variant := range []Variant{Inclusive, Exclusive} {
			requireValidWGSL(t, buildSource(variant, kind))
		}
	}
}

func TestGroupSizeConstants(t *testing.T) {
	if segmentSize != groupSize*valuesPerThread {
		t.Errorf("segmentSize must equal groupSize*valuesPerThread, got %d != %d*%d", segmentSize, groupSize, valuesPerThread)
	}
	if segmentSize != 2048 {
		t.Errorf("expected segment size 2048, got %d", segmentSize)
	}
}

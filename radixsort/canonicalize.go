package radixsort

import (
	"fmt"

	"github.com/gogpu/gpuscan/gpuprim"
)

// canonicalizeBody returns the WGSL statements that implement the
// bijective bit transform for kind, substituted into canonicalize.wgsl's
// __CANONICALIZE_BODY__ slot. The transform makes unsigned comparison on
// the result agree with kind's natural ordering:
//
//   - u32: identity.
//   - i32: flip the sign bit.
//   - f32: if the sign bit is set, flip every bit; otherwise flip only the
//     sign bit.
//
// Every pass re-derives the digit from the original key via this
// transform rather than storing a canonicalized copy, so there is no
// corresponding decanonicalize step: the keys moved between src/dst
// buffers are always the caller's original bits.
func canonicalizeBody(kind gpuprim.ElementKind) string {
	switch kind {
	case gpuprim.KindU32:
		return "    return bits;"
	case gpuprim.KindI32:
		return "    return bits ^ 0x80000000u;"
	case gpuprim.KindF32:
		return "    let mask = select(0x80000000u, 0xffffffffu, (bits & 0x80000000u) != 0u);\n" +
			"    return bits ^ mask;"
	default:
		panic(fmt.Sprintf("radixsort: unsupported element kind %v", kind))
	}
}

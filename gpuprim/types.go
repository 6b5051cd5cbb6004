package gpuprim

import "fmt"

// ElementKind identifies the scalar type a primitive operates on. Every
// primitive that is parameterized over an element type restricts it to
// one of these three, matching the key/element types the WGSL shader
// variants are written against.
type ElementKind int

const (
	KindU32 ElementKind = iota
	KindI32
	KindF32
)

// String returns the WGSL scalar type name for the kind.
func (k ElementKind) String() string {
	switch k {
	case KindU32:
		return "u32"
	case KindI32:
		return "i32"
	case KindF32:
		return "f32"
	default:
		return fmt.Sprintf("ElementKind(%d)", int(k))
	}
}

// ValueLayout is the runtime-checked descriptor used wherever a primitive
// binds a caller-chosen, non-scalar value type (gather-by, scatter-by,
// radix-sort-by's value array) rather than a compile-time generic. It
// replaces type-level binding-compatibility checks with a single
// validation at construction time: a byte size, and the WGSL struct name
// substituted into the shared shader template in its place.
type ValueLayout struct {
	// Size is the value type's size in bytes. Must be a non-zero
	// multiple of 4, matching the WGSL struct's word alignment.
	Size uint64

	// Name is the WGSL alias substituted for the template's value-type
	// placeholder, e.g. "VALUE_TYPE". Defaults to "VALUE_TYPE" if empty.
	Name string
}

// validate checks the layout is usable as a WGSL binding element.
func (v ValueLayout) validate() error {
	if v.Size == 0 || v.Size%4 != 0 {
		return fmt.Errorf("%w: got %d bytes", ErrInvalidValueLayout, v.Size)
	}
	return nil
}

// ValidateValueLayout validates a caller-supplied ValueLayout, returning
// ErrInvalidValueLayout wrapped with the offending size if it cannot be
// used as a shader binding element. Sub-packages call this once, in
// Init, rather than on every Encode.
func ValidateValueLayout(v ValueLayout) error {
	return v.validate()
}

// WGSLName returns the name to substitute into a shader template,
// defaulting to "VALUE_TYPE" when the caller left Name empty.
func (v ValueLayout) WGSLName() string {
	if v.Name == "" {
		return "VALUE_TYPE"
	}
	return v.Name
}

// WordCount returns the number of 4-byte words the value type occupies.
func (v ValueLayout) WordCount() uint64 {
	return v.Size / 4
}

// StructDef emits a WGSL struct literal with WordCount() unnamed u32
// fields, the same textual-monomorphization strategy the original source
// used to synthesize a binding-compatible struct for an opaque value
// type whose only known property is its size.
func (v ValueLayout) StructDef() string {
	out := fmt.Sprintf("struct %s {\n", v.WGSLName())
	for i := uint64(0); i < v.WordCount(); i++ {
		out += fmt.Sprintf("    field_%d: u32,\n", i)
	}
	out += "}\n"
	return out
}

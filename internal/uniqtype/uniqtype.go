package uniqtype

import "fmt"

// Kind enumerates the structural categories a descriptor can describe.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindVoid
	KindPrimitive
	KindPointer
	KindArray
	KindComposite
	KindUnion
	KindSubprogram
	KindAddressSpace
	KindOpaque
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindVoid:
		return "void"
	case KindPrimitive:
		return "primitive"
	case KindPointer:
		return "pointer"
	case KindArray:
		return "array"
	case KindComposite:
		return "composite"
	case KindUnion:
		return "union"
	case KindSubprogram:
		return "subprogram"
	case KindAddressSpace:
		return "address-space"
	case KindOpaque:
		return "opaque"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// SizeUnbounded marks incomplete or variable-length types.
const SizeUnbounded int64 = -1

// CountUnbounded marks arrays with no compile-time element count.
const CountUnbounded int64 = -1

// Contained is one member of a composite or array: a sub-descriptor at a
// byte offset from the start of the containing object.
type Contained struct {
	Offset int64
	Type   *Descriptor
}

// Descriptor is an immutable structural description of one type. Instances
// are built once (by the instrumentation emitter or by test fixtures) and
// never mutated afterwards; consumers compare them by pointer only after
// canonicalization, never by name or field contents.
type Descriptor struct {
	Name string
	Kind Kind
	Size int64

	// Primitive-only:
	Signed bool
	Bits   uint16

	// Pointer/array element; nil otherwise.
	Elem  *Descriptor
	Count int64 // arrays only; CountUnbounded for flexible arrays

	// Ordered by offset; empty for scalars and pointers.
	Contained []Contained
}

// Incomplete reports whether the descriptor has no definite extent.
func (d *Descriptor) Incomplete() bool {
	return d == nil || d.Size == SizeUnbounded
}

func (d *Descriptor) String() string {
	if d == nil {
		return "<nil>"
	}
	return d.Name
}

// Descriptor constructors -----------------------------------------------------

// MakeVoid describes the void/unit type.
func MakeVoid() *Descriptor {
	return &Descriptor{Name: "void", Kind: KindVoid, Size: 0}
}

// MakeSigned describes a signed integer with the given significant bits.
func MakeSigned(bits uint16) *Descriptor {
	return &Descriptor{
		Name:   fmt.Sprintf("int$%d", bits),
		Kind:   KindPrimitive,
		Size:   int64(bits) / 8,
		Signed: true,
		Bits:   bits,
	}
}

// MakeUnsigned describes an unsigned integer with the given significant bits.
func MakeUnsigned(bits uint16) *Descriptor {
	return &Descriptor{
		Name: fmt.Sprintf("uint$%d", bits),
		Kind: KindPrimitive,
		Size: int64(bits) / 8,
		Bits: bits,
	}
}

// MakeFloat describes an IEEE floating-point number of the given width.
func MakeFloat(bits uint16) *Descriptor {
	return &Descriptor{
		Name:   fmt.Sprintf("float$%d", bits),
		Kind:   KindPrimitive,
		Size:   int64(bits) / 8,
		Signed: true,
		Bits:   bits,
	}
}

// MakePointer describes a pointer to elem on the given target.
func MakePointer(elem *Descriptor, t Target) *Descriptor {
	return &Descriptor{
		Name: manglePointer(elem),
		Kind: KindPointer,
		Size: int64(t.PtrSize),
		Elem: elem,
	}
}

// MakeArray describes an array of count elements, laid out contiguously.
// Use CountUnbounded for flexible/incomplete arrays; their Size is
// SizeUnbounded.
func MakeArray(elem *Descriptor, count int64) *Descriptor {
	d := &Descriptor{
		Name:  mangleArray(elem, count),
		Kind:  KindArray,
		Elem:  elem,
		Count: count,
	}
	if count == CountUnbounded || elem.Incomplete() {
		d.Size = SizeUnbounded
		return d
	}
	d.Size = elem.Size * count
	for i := int64(0); i < count; i++ {
		d.Contained = append(d.Contained, Contained{Offset: i * elem.Size, Type: elem})
	}
	return d
}

// MakeComposite describes a struct with the given source tag and members.
// Members must be ordered by offset.
func MakeComposite(tag string, size int64, members []Contained) *Descriptor {
	return &Descriptor{
		Name:      tag,
		Kind:      KindComposite,
		Size:      size,
		Contained: append([]Contained(nil), members...),
	}
}

// MakeUnion describes a union: all members at offset 0, size of the widest.
func MakeUnion(tag string, size int64, members []Contained) *Descriptor {
	return &Descriptor{
		Name:      tag,
		Kind:      KindUnion,
		Size:      size,
		Contained: append([]Contained(nil), members...),
	}
}

// MakeSubprogram describes a function signature. Contained holds the return
// type at offset 0 followed by the argument types in order; offsets carry the
// argument position, not bytes.
func MakeSubprogram(ret *Descriptor, args ...*Descriptor) *Descriptor {
	contained := make([]Contained, 0, len(args)+1)
	contained = append(contained, Contained{Offset: 0, Type: ret})
	for i, a := range args {
		contained = append(contained, Contained{Offset: int64(i + 1), Type: a})
	}
	return &Descriptor{
		Name:      mangleSubprogram(ret, args),
		Kind:      KindSubprogram,
		Size:      SizeUnbounded,
		Contained: contained,
	}
}

// MakeOpaque describes a type known only by name, with no structure and no
// definite extent. Allocations made without instrumentation carry it.
func MakeOpaque(name string) *Descriptor {
	return &Descriptor{Name: name, Kind: KindOpaque, Size: SizeUnbounded}
}

// MakeAddressSpace describes an address-space indicator wrapping elem.
func MakeAddressSpace(name string, elem *Descriptor) *Descriptor {
	return &Descriptor{Name: name, Kind: KindAddressSpace, Size: SizeUnbounded, Elem: elem}
}

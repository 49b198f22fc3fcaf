package uniqtype

import "fmt"

// CheckCompatible verifies that two descriptors describe the same structural
// shape: same kind, same size, and pairwise-compatible contained members.
// Same-named descriptors from different modules must pass this check before
// the canonicalizer may treat them as one type; a non-nil error means the
// modules were built against conflicting definitions.
func CheckCompatible(a, b *Descriptor) error {
	return checkCompatible(a, b, make(map[[2]*Descriptor]struct{}, 8))
}

func checkCompatible(a, b *Descriptor, seen map[[2]*Descriptor]struct{}) error {
	if a == b {
		return nil
	}
	if a == nil || b == nil {
		return fmt.Errorf("one side is nil")
	}
	if _, ok := seen[[2]*Descriptor{a, b}]; ok {
		return nil // already comparing this pair further up the stack
	}
	seen[[2]*Descriptor{a, b}] = struct{}{}

	if a.Kind != b.Kind {
		return fmt.Errorf("kind mismatch: %s vs %s", a.Kind, b.Kind)
	}
	if a.Size != b.Size {
		return fmt.Errorf("size mismatch: %d vs %d", a.Size, b.Size)
	}
	if a.Kind == KindPrimitive {
		if a.Signed != b.Signed || a.Bits != b.Bits {
			return fmt.Errorf("primitive encoding mismatch: signed=%v bits=%d vs signed=%v bits=%d",
				a.Signed, a.Bits, b.Signed, b.Bits)
		}
	}
	if (a.Elem == nil) != (b.Elem == nil) {
		return fmt.Errorf("element presence mismatch")
	}
	if a.Elem != nil {
		if err := checkCompatible(a.Elem, b.Elem, seen); err != nil {
			return fmt.Errorf("element: %w", err)
		}
	}
	if a.Count != b.Count {
		return fmt.Errorf("element count mismatch: %d vs %d", a.Count, b.Count)
	}
	if len(a.Contained) != len(b.Contained) {
		return fmt.Errorf("member count mismatch: %d vs %d", len(a.Contained), len(b.Contained))
	}
	for i := range a.Contained {
		ca, cb := a.Contained[i], b.Contained[i]
		if ca.Offset != cb.Offset {
			return fmt.Errorf("member %d offset mismatch: %d vs %d", i, ca.Offset, cb.Offset)
		}
		if err := checkCompatible(ca.Type, cb.Type, seen); err != nil {
			return fmt.Errorf("member %d: %w", i, err)
		}
	}
	return nil
}

// CheckContainment runs the structural invariants of a composite or array
// descriptor:
// 1) every member has a non-nil sub-descriptor
// 2) member offsets are non-decreasing
// 3) offset + member size stays within the container's size, when both
//    sizes are definite
// Subprogram descriptors are exempt: their Contained offsets carry argument
// positions, not bytes.
func CheckContainment(d *Descriptor) error {
	if d == nil {
		return fmt.Errorf("nil descriptor")
	}
	if d.Kind == KindSubprogram {
		return nil
	}
	var prev int64
	for i, c := range d.Contained {
		if c.Type == nil {
			return fmt.Errorf("%s: member %d has nil type", d.Name, i)
		}
		if c.Offset < 0 {
			return fmt.Errorf("%s: member %d has negative offset %d", d.Name, i, c.Offset)
		}
		if i > 0 && c.Offset < prev {
			return fmt.Errorf("%s: member %d offset %d precedes member %d offset %d",
				d.Name, i, c.Offset, i-1, prev)
		}
		prev = c.Offset
		if d.Size == SizeUnbounded || c.Type.Size == SizeUnbounded {
			continue
		}
		if end := c.Offset + c.Type.Size; end > d.Size {
			return fmt.Errorf("%s: member %d (%s) ends at %d, beyond container size %d",
				d.Name, i, c.Type.Name, end, d.Size)
		}
	}
	return nil
}

// Package typetable reads and writes the serialized typetable images the
// build-time instrumentation emits alongside each binary module: one
// schema-versioned msgpack payload holding the module's descriptor pool and
// its symbol table, optionally gzip-compressed.
package typetable

import (
	"errors"
	"fmt"

	"fortio.org/safecast"

	"memscope/internal/module"
	"memscope/internal/uniqtype"
)

// Current schema version - increment when the Image format changes.
const schemaVersion uint16 = 1

// ErrSchema reports an image written under a different schema version.
var ErrSchema = errors.New("typetable schema version mismatch")

// noRecord marks an absent descriptor reference inside a Record.
const noRecord int32 = -1

// Image is the on-disk form of one module's typetable. Descriptors are
// flattened into an index-addressed pool so that shared and recursive
// references survive serialization.
type Image struct {
	Schema uint16

	// Module identity as the loader sees it.
	Module string
	Base   uint64
	Extent uint64
	Triple string

	Records []Record
	Symbols map[string]uint32 // full symbol name -> pool index
}

// Record is one flattened descriptor. Elem and member types are pool
// indices; noRecord means absent.
type Record struct {
	Name   string
	Kind   uint8
	Size   int64
	Signed bool
	Bits   uint16
	Elem   int32
	Count  int64

	MemberOffsets []int64
	MemberTypes   []int32
}

// Build flattens the given descriptors (and everything they reach) into an
// image for the named module. Symbol names get the __uniqtype__ prefix.
func Build(name string, base, extent uint64, tgt uniqtype.Target, descs []*uniqtype.Descriptor) (*Image, error) {
	img := &Image{
		Schema:  schemaVersion,
		Module:  name,
		Base:    base,
		Extent:  extent,
		Triple:  tgt.Triple,
		Symbols: make(map[string]uint32, len(descs)),
	}
	index := make(map[*uniqtype.Descriptor]int32, len(descs)*2)
	for _, d := range descs {
		idx, err := img.flatten(d, index)
		if err != nil {
			return nil, err
		}
		if idx == noRecord {
			return nil, fmt.Errorf("nil descriptor in table for %s", name)
		}
		u32, err := safecast.Conv[uint32](idx)
		if err != nil {
			return nil, fmt.Errorf("record index overflow: %w", err)
		}
		img.Symbols[uniqtype.Symbol(d)] = u32
	}
	return img, nil
}

func (img *Image) flatten(d *uniqtype.Descriptor, index map[*uniqtype.Descriptor]int32) (int32, error) {
	if d == nil {
		return noRecord, nil
	}
	if idx, ok := index[d]; ok {
		return idx, nil
	}
	idx, err := safecast.Conv[int32](len(img.Records))
	if err != nil {
		return noRecord, fmt.Errorf("record count overflow: %w", err)
	}
	// Reserve the slot before recursing so cycles resolve to it.
	index[d] = idx
	img.Records = append(img.Records, Record{})

	rec := Record{
		Name:   d.Name,
		Kind:   uint8(d.Kind),
		Size:   d.Size,
		Signed: d.Signed,
		Bits:   d.Bits,
		Elem:   noRecord,
		Count:  d.Count,
	}
	if rec.Elem, err = img.flatten(d.Elem, index); err != nil {
		return noRecord, err
	}
	for _, c := range d.Contained {
		sub, err := img.flatten(c.Type, index)
		if err != nil {
			return noRecord, err
		}
		rec.MemberOffsets = append(rec.MemberOffsets, c.Offset)
		rec.MemberTypes = append(rec.MemberTypes, sub)
	}
	img.Records[idx] = rec
	return idx, nil
}

// Materialize rebuilds the descriptor graph and wraps it in a module handle.
// Every rebuilt descriptor passes the containment invariants before the
// module is returned.
func (img *Image) Materialize() (*module.Module, error) {
	if img == nil {
		return nil, fmt.Errorf("nil image")
	}
	if img.Schema != schemaVersion {
		return nil, fmt.Errorf("image %s has schema %d, want %d: %w",
			img.Module, img.Schema, schemaVersion, ErrSchema)
	}

	descs := make([]*uniqtype.Descriptor, len(img.Records))
	for i := range descs {
		descs[i] = &uniqtype.Descriptor{}
	}
	ref := func(idx int32) (*uniqtype.Descriptor, error) {
		if idx == noRecord {
			return nil, nil
		}
		if idx < 0 || int(idx) >= len(descs) {
			return nil, fmt.Errorf("image %s: record reference %d out of range", img.Module, idx)
		}
		return descs[idx], nil
	}
	for i, rec := range img.Records {
		d := descs[i]
		d.Name = rec.Name
		d.Kind = uniqtype.Kind(rec.Kind)
		d.Size = rec.Size
		d.Signed = rec.Signed
		d.Bits = rec.Bits
		d.Count = rec.Count
		elem, err := ref(rec.Elem)
		if err != nil {
			return nil, err
		}
		d.Elem = elem
		if len(rec.MemberOffsets) != len(rec.MemberTypes) {
			return nil, fmt.Errorf("image %s: record %d member arity mismatch", img.Module, i)
		}
		for j := range rec.MemberOffsets {
			sub, err := ref(rec.MemberTypes[j])
			if err != nil {
				return nil, err
			}
			d.Contained = append(d.Contained, uniqtype.Contained{
				Offset: rec.MemberOffsets[j],
				Type:   sub,
			})
		}
	}
	for i, d := range descs {
		if err := uniqtype.CheckContainment(d); err != nil {
			return nil, fmt.Errorf("image %s: record %d: %w", img.Module, i, err)
		}
	}

	table := make(map[string]*uniqtype.Descriptor, len(img.Symbols))
	for sym, idx := range img.Symbols {
		if int(idx) >= len(descs) {
			return nil, fmt.Errorf("image %s: symbol %s references record %d out of range",
				img.Module, sym, idx)
		}
		table[sym] = descs[idx]
	}
	return module.New(img.Module, img.Base, img.Extent, table), nil
}

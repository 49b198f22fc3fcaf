package uniqtype

import (
	"fmt"
	"strings"
)

// SymbolPrefix is prepended to every mangled name when the descriptor is
// placed in a module's symbol table. Identical shapes in different modules
// mangle to identical symbols, which is what lets the canonicalizer match
// them up without structural search.
const SymbolPrefix = "__uniqtype__"

// Symbol returns the symbol-table name for a descriptor.
func Symbol(d *Descriptor) string {
	if d == nil {
		return ""
	}
	return SymbolPrefix + d.Name
}

// TrimSymbol strips the symbol prefix, returning the bare mangled name and
// whether the prefix was present.
func TrimSymbol(sym string) (string, bool) {
	name, ok := strings.CutPrefix(sym, SymbolPrefix)
	return name, ok
}

func manglePointer(elem *Descriptor) string {
	return "__PTR_" + elemName(elem)
}

func mangleArray(elem *Descriptor, count int64) string {
	if count == CountUnbounded {
		return "__ARR_" + elemName(elem)
	}
	return fmt.Sprintf("__ARR%d_%s", count, elemName(elem))
}

func mangleSubprogram(ret *Descriptor, args []*Descriptor) string {
	var sb strings.Builder
	sb.WriteString("__FUN_FROM_")
	for i, a := range args {
		fmt.Fprintf(&sb, "__ARG%d_%s", i, elemName(a))
	}
	sb.WriteString("__FUN_TO_")
	sb.WriteString(elemName(ret))
	return sb.String()
}

func elemName(d *Descriptor) string {
	if d == nil {
		return "void"
	}
	return d.Name
}

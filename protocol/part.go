package protocol

import (
	"strings"
)

// Part is a named, typed unit of data: a numeric or string leaf, or a
// Record of child parts. The set of variants is closed.
type Part interface {
	Name() string
	Type() Type

	// Fetch pulls the current value from the bound source
	Fetch()
	// Response pushes the in-memory value out to the bound sink
	Response()

	WriteSchema(w *PacketWriter)
	WriteMessage(w *PacketWriter)
	ReadDataFromMessage(r *PacketReader)

	// Clone deep copies the part, keeping source and sink bindings
	Clone() Part

	// PrettyPrint renders the schema, PrettyPrintData the values
	PrettyPrint() string
	PrettyPrintData() string

	pprint(b *strings.Builder, indent int, data bool)
}

func addIndents(b *strings.Builder, indent int) {
	for i := 0; i < indent; i++ {
		b.WriteByte('\t')
	}
}

func prettyPrint(p Part, data bool) string {
	var b strings.Builder
	p.pprint(&b, 0, data)
	return b.String()
}

// Walk visits p and every descendant depth first. The path joins record
// names with '.'; returning false from fn skips a record's children.
func Walk(p Part, fn func(path string, p Part) bool) {
	walk(p, p.Name(), fn)
}

func walk(p Part, path string, fn func(string, Part) bool) {
	if !fn(path, p) {
		return
	}
	if r, ok := p.(*Record); ok {
		for _, child := range r.fields {
			walk(child, path+"."+child.Name(), fn)
		}
	}
}

// SameSchema reports whether a and b have identical names, tags and nesting
func SameSchema(a, b Part) bool {
	if a.Name() != b.Name() || a.Type() != b.Type() {
		return false
	}
	ra, ok := a.(*Record)
	if !ok {
		return true
	}
	rb := b.(*Record)
	if len(ra.fields) != len(rb.fields) {
		return false
	}
	for i := range ra.fields {
		if !SameSchema(ra.fields[i], rb.fields[i]) {
			return false
		}
	}
	return true
}

// SchemaBytes returns the serialized schema of p
func SchemaBytes(p Part) []byte {
	w := NewPacketWriter(64)
	p.WriteSchema(w)
	return w.Bytes()
}

// MessageBytes returns the serialized value of p
func MessageBytes(p Part) []byte {
	w := NewPacketWriter(64)
	p.WriteMessage(w)
	return w.Bytes()
}

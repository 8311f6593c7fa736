package protocol

import (
	"fmt"
	"strings"
)

// Record is an ordered group of parts. Its child count and order are
// fixed once the schema has been broadcast.
type Record struct {
	name   string
	fields []Part
	sink   func(*Record)
}

// NewRecord creates a record holding fields in order
func NewRecord(name string, fields ...Part) *Record {
	return &Record{name: name, fields: fields}
}

// OnResponse binds a hook run by Response after every child has responded
func (r *Record) OnResponse(sink func(*Record)) *Record {
	r.sink = sink
	return r
}

func (r *Record) Name() string { return r.name }
func (r *Record) Type() Type   { return TypeRecord }

// Fields returns the children in wire order
func (r *Record) Fields() []Part { return r.fields }

// Field returns the direct child called name
func (r *Record) Field(name string) (Part, bool) {
	for _, f := range r.fields {
		if f.Name() == name {
			return f, true
		}
	}
	return nil, false
}

func (r *Record) Fetch() {
	for _, f := range r.fields {
		f.Fetch()
	}
}

func (r *Record) Response() {
	for _, f := range r.fields {
		f.Response()
	}
	if r.sink != nil {
		r.sink(r)
	}
}

func (r *Record) WriteSchema(w *PacketWriter) {
	w.WriteType(TypeRecord)
	w.WriteString(r.name)
	WriteNumber(w, uint32(len(r.fields)))
	for _, f := range r.fields {
		f.WriteSchema(w)
	}
}

func (r *Record) WriteMessage(w *PacketWriter) {
	for _, f := range r.fields {
		f.WriteMessage(w)
	}
}

func (r *Record) ReadDataFromMessage(rd *PacketReader) {
	for _, f := range r.fields {
		f.ReadDataFromMessage(rd)
	}
}

func (r *Record) Clone() Part {
	c := &Record{name: r.name, sink: r.sink, fields: make([]Part, len(r.fields))}
	for i, f := range r.fields {
		c.fields[i] = f.Clone()
	}
	return c
}

func (r *Record) PrettyPrint() string     { return prettyPrint(r, false) }
func (r *Record) PrettyPrintData() string { return prettyPrint(r, true) }

func (r *Record) pprint(b *strings.Builder, indent int, data bool) {
	addIndents(b, indent)
	fmt.Fprintf(b, "%s: record[%d]{\n", r.name, len(r.fields))
	for _, f := range r.fields {
		f.pprint(b, indent+1, data)
		b.WriteByte('\n')
	}
	addIndents(b, indent)
	b.WriteString("}")
}

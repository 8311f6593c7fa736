package protocol

import (
	"fmt"
	"strings"
)

// NoUpdateString is the string sentinel for "field not present"
const NoUpdateString = "N/A"

// String is a null-terminated text leaf
type String struct {
	name    string
	value   string
	fetcher func() string
	sink    func(string)
}

// NewString creates a string leaf bound to fetcher (which may be nil)
func NewString(name string, fetcher func() string) *String {
	return &String{name: name, fetcher: fetcher}
}

// OnResponse binds a sink invoked by Response with the current value
func (s *String) OnResponse(sink func(string)) *String {
	s.sink = sink
	return s
}

func (s *String) Name() string { return s.name }
func (s *String) Type() Type   { return TypeString }

func (s *String) Value() string { return s.value }

// SetValue replaces the value. Embedded null bytes would truncate the
// string on the wire, so everything from the first one is dropped.
func (s *String) SetValue(v string) {
	if i := strings.IndexByte(v, 0); i >= 0 {
		v = v[:i]
	}
	s.value = v
}

func (s *String) SetAbsent() { s.value = NoUpdateString }

func (s *String) Fetch() {
	if s.fetcher != nil {
		s.SetValue(s.fetcher())
	}
}

func (s *String) Response() {
	if s.sink != nil {
		s.sink(s.value)
	}
}

func (s *String) WriteSchema(w *PacketWriter) {
	w.WriteType(TypeString)
	w.WriteString(s.name)
}

func (s *String) WriteMessage(w *PacketWriter) {
	w.WriteString(s.value)
}

func (s *String) ReadDataFromMessage(r *PacketReader) {
	s.value = r.GetString()
}

func (s *String) Clone() Part {
	c := *s
	return &c
}

func (s *String) PrettyPrint() string     { return prettyPrint(s, false) }
func (s *String) PrettyPrintData() string { return prettyPrint(s, true) }

func (s *String) pprint(b *strings.Builder, indent int, data bool) {
	addIndents(b, indent)
	if data {
		fmt.Fprintf(b, "%s:\t%s", s.name, s.value)
		return
	}
	fmt.Fprintf(b, "%s: string", s.name)
}

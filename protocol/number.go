package protocol

import (
	"fmt"
	"math"
	"strings"
)

// Number is a fixed-width numeric leaf
type Number[T Numeric] struct {
	name    string
	value   T
	fetcher func() T
	sink    func(T)
}

// NewNumber creates a numeric leaf. fetcher may be nil, in which case
// Fetch leaves the value unchanged.
func NewNumber[T Numeric](name string, fetcher func() T) *Number[T] {
	return &Number[T]{name: name, fetcher: fetcher}
}

func NewUint8(name string, fetcher func() uint8) *Number[uint8]      { return NewNumber(name, fetcher) }
func NewUint16(name string, fetcher func() uint16) *Number[uint16]   { return NewNumber(name, fetcher) }
func NewUint32(name string, fetcher func() uint32) *Number[uint32]   { return NewNumber(name, fetcher) }
func NewUint64(name string, fetcher func() uint64) *Number[uint64]   { return NewNumber(name, fetcher) }
func NewInt8(name string, fetcher func() int8) *Number[int8]         { return NewNumber(name, fetcher) }
func NewInt16(name string, fetcher func() int16) *Number[int16]      { return NewNumber(name, fetcher) }
func NewInt32(name string, fetcher func() int32) *Number[int32]      { return NewNumber(name, fetcher) }
func NewInt64(name string, fetcher func() int64) *Number[int64]      { return NewNumber(name, fetcher) }
func NewFloat(name string, fetcher func() float32) *Number[float32]  { return NewNumber(name, fetcher) }
func NewDouble(name string, fetcher func() float64) *Number[float64] { return NewNumber(name, fetcher) }

// OnResponse binds a sink invoked by Response with the current value
func (n *Number[T]) OnResponse(sink func(T)) *Number[T] {
	n.sink = sink
	return n
}

func (n *Number[T]) Name() string { return n.name }
func (n *Number[T]) Type() Type   { return typeOf[T]() }

// Value returns the in-memory value
func (n *Number[T]) Value() T { return n.value }

// SetValue replaces the in-memory value
func (n *Number[T]) SetValue(v T) { n.value = v }

// SetAbsent marks the value as "no update" for merge-if-changed receivers
func (n *Number[T]) SetAbsent() { n.value = NoUpdate[T]() }

// Absent reports whether the value is the "no update" sentinel
func (n *Number[T]) Absent() bool { return n.value == NoUpdate[T]() }

func (n *Number[T]) Fetch() {
	if n.fetcher != nil {
		n.value = n.fetcher()
	}
}

func (n *Number[T]) Response() {
	if n.sink != nil {
		n.sink(n.value)
	}
}

func (n *Number[T]) WriteSchema(w *PacketWriter) {
	w.WriteType(n.Type())
	w.WriteString(n.name)
}

func (n *Number[T]) WriteMessage(w *PacketWriter) {
	WriteNumber(w, n.value)
}

func (n *Number[T]) ReadDataFromMessage(r *PacketReader) {
	n.value = GetNumber[T](r)
}

func (n *Number[T]) Clone() Part {
	c := *n
	return &c
}

func (n *Number[T]) PrettyPrint() string     { return prettyPrint(n, false) }
func (n *Number[T]) PrettyPrintData() string { return prettyPrint(n, true) }

func (n *Number[T]) pprint(b *strings.Builder, indent int, data bool) {
	addIndents(b, indent)
	if data {
		fmt.Fprintf(b, "%s:\t%v", n.name, n.value)
		return
	}
	fmt.Fprintf(b, "%s: %s", n.name, n.Type())
}

// NoUpdate returns the sentinel meaning "field not present in this
// response": the minimum representable value of T.
func NoUpdate[T Numeric]() T {
	var v T
	switch p := any(&v).(type) {
	case *int8:
		*p = math.MinInt8
	case *int16:
		*p = math.MinInt16
	case *int32:
		*p = math.MinInt32
	case *int64:
		*p = math.MinInt64
	case *float32:
		*p = -math.MaxFloat32
	case *float64:
		*p = -math.MaxFloat64
	}
	// unsigned minimum is zero
	return v
}

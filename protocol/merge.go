package protocol

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MergeChanged copies every leaf of src into the matching leaf of dst
// unless src carries the "no update" sentinel. Trees are matched
// positionally; a leaf whose type differs is left alone. It reports
// whether any leaf of dst was assigned.
func MergeChanged(dst, src Part) bool {
	switch d := dst.(type) {
	case *Record:
		s, ok := src.(*Record)
		if !ok {
			return false
		}
		changed := false
		for i := 0; i < len(d.fields) && i < len(s.fields); i++ {
			if MergeChanged(d.fields[i], s.fields[i]) {
				changed = true
			}
		}
		return changed
	case *String:
		s, ok := src.(*String)
		if !ok || s.value == NoUpdateString {
			return false
		}
		d.value = s.value
		return true
	case *Number[uint8]:
		return mergeNumber(d, src)
	case *Number[uint16]:
		return mergeNumber(d, src)
	case *Number[uint32]:
		return mergeNumber(d, src)
	case *Number[uint64]:
		return mergeNumber(d, src)
	case *Number[int8]:
		return mergeNumber(d, src)
	case *Number[int16]:
		return mergeNumber(d, src)
	case *Number[int32]:
		return mergeNumber(d, src)
	case *Number[int64]:
		return mergeNumber(d, src)
	case *Number[float32]:
		return mergeNumber(d, src)
	case *Number[float64]:
		return mergeNumber(d, src)
	}
	return false
}

func mergeNumber[T Numeric](dst *Number[T], src Part) bool {
	s, ok := src.(*Number[T])
	if !ok || s.value == NoUpdate[T]() {
		return false
	}
	dst.value = s.value
	return true
}

// Snapshot converts p into plain Go values suitable for JSON encoding:
// records become ordered key/value lists, leaves their native value.
func Snapshot(p Part) any {
	switch v := p.(type) {
	case *Record:
		out := make([]SnapshotField, len(v.fields))
		for i, f := range v.fields {
			out[i] = SnapshotField{Name: f.Name(), Type: f.Type().String(), Value: Snapshot(f)}
		}
		return out
	case *String:
		return v.value
	case *Number[uint8]:
		return v.value
	case *Number[uint16]:
		return v.value
	case *Number[uint32]:
		return v.value
	case *Number[uint64]:
		return v.value
	case *Number[int8]:
		return v.value
	case *Number[int16]:
		return v.value
	case *Number[int32]:
		return v.value
	case *Number[int64]:
		return v.value
	case *Number[float32]:
		return jsonFloat(float64(v.value))
	case *Number[float64]:
		return jsonFloat(v.value)
	}
	return nil
}

// JSON has no NaN or infinities; those are rendered as text
func jsonFloat(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return f
}

// MarkAbsent sets every leaf under p to the "no update" sentinel
func MarkAbsent(p Part) {
	Walk(p, func(_ string, leaf Part) bool {
		if a, ok := leaf.(interface{ SetAbsent() }); ok {
			a.SetAbsent()
		}
		return true
	})
}

// Lookup finds the part at a dotted path such as "pid.P". The root name
// may be omitted.
func Lookup(p Part, path string) (Part, bool) {
	var found Part
	Walk(p, func(full string, leaf Part) bool {
		if found != nil {
			return false
		}
		if full == path || full == p.Name()+"."+path {
			found = leaf
			return false
		}
		return true
	})
	return found, found != nil
}

// SetLeaf parses raw according to the leaf's type and stores it
func SetLeaf(p Part, raw string) error {
	raw = strings.TrimSpace(raw)
	switch v := p.(type) {
	case *String:
		v.SetValue(raw)
		return nil
	case *Number[uint8]:
		return parseUnsigned(v, raw, 8)
	case *Number[uint16]:
		return parseUnsigned(v, raw, 16)
	case *Number[uint32]:
		return parseUnsigned(v, raw, 32)
	case *Number[uint64]:
		return parseUnsigned(v, raw, 64)
	case *Number[int8]:
		return parseSigned(v, raw, 8)
	case *Number[int16]:
		return parseSigned(v, raw, 16)
	case *Number[int32]:
		return parseSigned(v, raw, 32)
	case *Number[int64]:
		return parseSigned(v, raw, 64)
	case *Number[float32]:
		return parseFloat(v, raw, 32)
	case *Number[float64]:
		return parseFloat(v, raw, 64)
	}
	return fmt.Errorf("cannot assign %q to %s %q", raw, p.Type(), p.Name())
}

func parseUnsigned[T uint8 | uint16 | uint32 | uint64](n *Number[T], raw string, bits int) error {
	u, err := strconv.ParseUint(raw, 0, bits)
	if err != nil {
		return fmt.Errorf("parse %s %q: %w", n.Type(), n.name, err)
	}
	n.value = T(u)
	return nil
}

func parseSigned[T int8 | int16 | int32 | int64](n *Number[T], raw string, bits int) error {
	i, err := strconv.ParseInt(raw, 0, bits)
	if err != nil {
		return fmt.Errorf("parse %s %q: %w", n.Type(), n.name, err)
	}
	n.value = T(i)
	return nil
}

func parseFloat[T float32 | float64](n *Number[T], raw string, bits int) error {
	f, err := strconv.ParseFloat(raw, bits)
	if err != nil {
		return fmt.Errorf("parse %s %q: %w", n.Type(), n.name, err)
	}
	n.value = T(f)
	return nil
}

// SnapshotField is one named entry of a record snapshot
type SnapshotField struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value any    `json:"value"`
}

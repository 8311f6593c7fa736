package protocol

import "fmt"

// MakeDecoder reconstructs a part tree from a serialized schema. The
// returned parts have no source or sink bindings.
func MakeDecoder(r *PacketReader) (Part, error) {
	return makeDecoder(r, 0)
}

func makeDecoder(r *PacketReader, depth int) (Part, error) {
	if depth > MaxRecordDepth {
		return nil, fmt.Errorf("%w: records nested deeper than %d", ErrMalformed, MaxRecordDepth)
	}

	t := r.GetType()
	name := r.GetString()
	if err := r.Err(); err != nil {
		return nil, err
	}

	var p Part
	switch t {
	case TypeRecord:
		count := GetNumber[uint32](r)
		if err := r.Err(); err != nil {
			return nil, err
		}
		// every child needs at least a tag and a terminator
		if int64(count)*2 > int64(r.Remaining()) {
			return nil, fmt.Errorf("%w: record %q claims %d children in %d bytes", ErrMalformed, name, count, r.Remaining())
		}
		fields := make([]Part, 0, count)
		for i := uint32(0); i < count; i++ {
			child, err := makeDecoder(r, depth+1)
			if err != nil {
				return nil, err
			}
			fields = append(fields, child)
		}
		p = NewRecord(name, fields...)
	case TypeString:
		p = NewString(name, nil)
	case TypeDouble:
		p = NewDouble(name, nil)
	case TypeFloat:
		p = NewFloat(name, nil)
	case TypeUint8:
		p = NewUint8(name, nil)
	case TypeUint16:
		p = NewUint16(name, nil)
	case TypeUint32:
		p = NewUint32(name, nil)
	case TypeUint64:
		p = NewUint64(name, nil)
	case TypeInt8:
		p = NewInt8(name, nil)
	case TypeInt16:
		p = NewInt16(name, nil)
	case TypeInt32:
		p = NewInt32(name, nil)
	case TypeInt64:
		p = NewInt64(name, nil)
	default:
		return nil, fmt.Errorf("%w: unknown type tag %d for %q", ErrMalformed, uint8(t), name)
	}

	return p, nil
}

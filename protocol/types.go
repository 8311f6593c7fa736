package protocol

import "fmt"

// Type is the wire tag identifying a field variant
type Type uint8

const (
	TypeRecord Type = 0
	TypeString Type = 1
	// 2 is reserved
	TypeDouble Type = 3
	TypeFloat  Type = 4
	TypeUint8  Type = 5
	TypeUint16 Type = 6
	TypeUint32 Type = 7
	TypeUint64 Type = 8
	TypeInt8   Type = 9
	TypeInt16  Type = 10
	TypeInt32  Type = 11
	TypeInt64  Type = 12
)

var typeNames = map[Type]string{
	TypeRecord: "record",
	TypeString: "string",
	TypeDouble: "double",
	TypeFloat:  "float",
	TypeUint8:  "uint8",
	TypeUint16: "uint16",
	TypeUint32: "uint32",
	TypeUint64: "uint64",
	TypeInt8:   "int8",
	TypeInt16:  "int16",
	TypeInt32:  "int32",
	TypeInt64:  "int64",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// Valid reports whether t is a known tag
func (t Type) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

// Size returns the fixed wire width of a numeric tag, or 0 for
// variable length types.
func (t Type) Size() int {
	switch t {
	case TypeUint8, TypeInt8:
		return 1
	case TypeUint16, TypeInt16:
		return 2
	case TypeFloat, TypeUint32, TypeInt32:
		return 4
	case TypeDouble, TypeUint64, TypeInt64:
		return 8
	}
	return 0
}

func typeOf[T Numeric]() Type {
	var zero T
	switch any(zero).(type) {
	case uint8:
		return TypeUint8
	case uint16:
		return TypeUint16
	case uint32:
		return TypeUint32
	case uint64:
		return TypeUint64
	case int8:
		return TypeInt8
	case int16:
		return TypeInt16
	case int32:
		return TypeInt32
	case int64:
		return TypeInt64
	case float32:
		return TypeFloat
	default:
		return TypeDouble
	}
}

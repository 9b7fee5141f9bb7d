package domain

import (
	"fmt"
	"strings"
)

// ValueType is the variant type a link writes to its target tag.
type ValueType uint8

const (
	TypeInvalid ValueType = iota
	TypeBoolean
	TypeSByte
	TypeByte
	TypeInt16
	TypeUInt16
	TypeInt32
	TypeUInt32
	TypeInt64
	TypeUInt64
	TypeFloat
	TypeDouble
	TypeString
	TypeDateTime
	TypeByteString
)

var valueTypeNames = map[ValueType]string{
	TypeBoolean:    "Boolean",
	TypeSByte:      "SByte",
	TypeByte:       "Byte",
	TypeInt16:      "Int16",
	TypeUInt16:     "UInt16",
	TypeInt32:      "Int32",
	TypeUInt32:     "UInt32",
	TypeInt64:      "Int64",
	TypeUInt64:     "UInt64",
	TypeFloat:      "Float",
	TypeDouble:     "Double",
	TypeString:     "String",
	TypeDateTime:   "DateTime",
	TypeByteString: "ByteString",
}

var valueTypesByName = func() map[string]ValueType {
	m := make(map[string]ValueType, len(valueTypeNames))
	for vt, name := range valueTypeNames {
		m[strings.ToLower(name)] = vt
	}
	return m
}()

// ParseValueType resolves a configured type name. Matching is case-insensitive.
func ParseValueType(name string) (ValueType, error) {
	vt, ok := valueTypesByName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return TypeInvalid, fmt.Errorf("unknown value type %q", name)
	}
	return vt, nil
}

func (v ValueType) String() string {
	if name, ok := valueTypeNames[v]; ok {
		return name
	}
	return fmt.Sprintf("ValueType(%d)", uint8(v))
}

// Valid reports whether v is a member of the supported enumeration.
func (v ValueType) Valid() bool {
	_, ok := valueTypeNames[v]
	return ok
}

func (v ValueType) MarshalText() ([]byte, error) {
	if !v.Valid() {
		return nil, fmt.Errorf("invalid value type %d", uint8(v))
	}
	return []byte(v.String()), nil
}

func (v *ValueType) UnmarshalText(text []byte) error {
	vt, err := ParseValueType(string(text))
	if err != nil {
		return err
	}
	*v = vt
	return nil
}

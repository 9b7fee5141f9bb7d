package opcua

import (
	"fmt"
	"math"
	"time"

	"github.com/gopcua/opcua/ua"

	"github.com/ghalamif/AegisBridge/internal/domain"
)

// ToVariant packs value into a variant of the link's declared type.
// Numeric values are converted between widths only when they fit.
func ToVariant(value any, vt domain.ValueType) (*ua.Variant, error) {
	v, err := Coerce(value, vt)
	if err != nil {
		return nil, err
	}
	return ua.NewVariant(v)
}

// Coerce converts value to the Go type gopcua encodes as vt.
func Coerce(value any, vt domain.ValueType) (any, error) {
	if value == nil {
		return nil, fmt.Errorf("cannot write nil value as %s", vt)
	}

	switch vt {
	case domain.TypeBoolean:
		if b, ok := value.(bool); ok {
			return b, nil
		}
		// only 0 and 1 convert without losing information
		if u, err := toUint(value, 1); err == nil {
			return u == 1, nil
		}
	case domain.TypeSByte:
		i, err := toInt(value, math.MinInt8, math.MaxInt8)
		if err != nil {
			return nil, typeErr(value, vt, err)
		}
		return int8(i), nil
	case domain.TypeByte:
		u, err := toUint(value, math.MaxUint8)
		if err != nil {
			return nil, typeErr(value, vt, err)
		}
		return uint8(u), nil
	case domain.TypeInt16:
		i, err := toInt(value, math.MinInt16, math.MaxInt16)
		if err != nil {
			return nil, typeErr(value, vt, err)
		}
		return int16(i), nil
	case domain.TypeUInt16:
		u, err := toUint(value, math.MaxUint16)
		if err != nil {
			return nil, typeErr(value, vt, err)
		}
		return uint16(u), nil
	case domain.TypeInt32:
		i, err := toInt(value, math.MinInt32, math.MaxInt32)
		if err != nil {
			return nil, typeErr(value, vt, err)
		}
		return int32(i), nil
	case domain.TypeUInt32:
		u, err := toUint(value, math.MaxUint32)
		if err != nil {
			return nil, typeErr(value, vt, err)
		}
		return uint32(u), nil
	case domain.TypeInt64:
		i, err := toInt(value, math.MinInt64, math.MaxInt64)
		if err != nil {
			return nil, typeErr(value, vt, err)
		}
		return i, nil
	case domain.TypeUInt64:
		u, err := toUint(value, math.MaxUint64)
		if err != nil {
			return nil, typeErr(value, vt, err)
		}
		return u, nil
	case domain.TypeFloat:
		if f, ok := toFloat(value); ok {
			if !math.IsInf(f, 0) && !math.IsNaN(f) && math.Abs(f) > math.MaxFloat32 {
				return nil, typeErr(value, vt, fmt.Errorf("%v overflows float32", f))
			}
			return float32(f), nil
		}
	case domain.TypeDouble:
		if f, ok := toFloat(value); ok {
			return f, nil
		}
	case domain.TypeString:
		switch s := value.(type) {
		case string:
			return s, nil
		case []byte:
			return string(s), nil
		}
	case domain.TypeDateTime:
		if t, ok := value.(time.Time); ok {
			return t, nil
		}
	case domain.TypeByteString:
		switch b := value.(type) {
		case []byte:
			return b, nil
		case string:
			return []byte(b), nil
		}
	default:
		return nil, fmt.Errorf("unsupported value type %s", vt)
	}
	return nil, typeErr(value, vt, nil)
}

func typeErr(value any, vt domain.ValueType, cause error) error {
	if cause != nil {
		return fmt.Errorf("cannot convert %T(%v) to %s: %w", value, value, vt, cause)
	}
	return fmt.Errorf("cannot convert %T(%v) to %s", value, value, vt)
}

func toInt(value any, lo, hi int64) (int64, error) {
	var i int64
	switch v := value.(type) {
	case bool:
		if v {
			i = 1
		}
	case int8:
		i = int64(v)
	case int16:
		i = int64(v)
	case int32:
		i = int64(v)
	case int64:
		i = v
	case int:
		i = int64(v)
	case uint8:
		i = int64(v)
	case uint16:
		i = int64(v)
	case uint32:
		i = int64(v)
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("%d out of range", v)
		}
		i = int64(v)
	case uint:
		if uint64(v) > math.MaxInt64 {
			return 0, fmt.Errorf("%d out of range", v)
		}
		i = int64(v)
	case float32, float64:
		f, _ := toFloat(v)
		if f != math.Trunc(f) || math.IsNaN(f) {
			return 0, fmt.Errorf("%v is not integral", f)
		}
		if f < float64(lo) || f >= -float64(math.MinInt64) {
			return 0, fmt.Errorf("%v out of range", f)
		}
		i = int64(f)
	default:
		return 0, fmt.Errorf("not numeric")
	}
	if i < lo || i > hi {
		return 0, fmt.Errorf("%d out of range [%d, %d]", i, lo, hi)
	}
	return i, nil
}

func toUint(value any, hi uint64) (uint64, error) {
	var u uint64
	switch v := value.(type) {
	case bool:
		if v {
			u = 1
		}
	case uint8:
		u = uint64(v)
	case uint16:
		u = uint64(v)
	case uint32:
		u = uint64(v)
	case uint64:
		u = v
	case uint:
		u = uint64(v)
	case int8, int16, int32, int64, int:
		i, err := toInt(v, math.MinInt64, math.MaxInt64)
		if err != nil {
			return 0, err
		}
		if i < 0 {
			return 0, fmt.Errorf("%d is negative", i)
		}
		u = uint64(i)
	case float32, float64:
		f, _ := toFloat(v)
		if f != math.Trunc(f) || math.IsNaN(f) {
			return 0, fmt.Errorf("%v is not integral", f)
		}
		if f < 0 || f >= 18446744073709551616.0 {
			return 0, fmt.Errorf("%v out of range", f)
		}
		u = uint64(f)
	default:
		return 0, fmt.Errorf("not numeric")
	}
	if u > hi {
		return 0, fmt.Errorf("%d out of range [0, %d]", u, hi)
	}
	return u, nil
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case int8:
		return float64(v), true
	case uint8:
		return float64(v), true
	case int16:
		return float64(v), true
	case uint16:
		return float64(v), true
	case int32:
		return float64(v), true
	case uint32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case int:
		return float64(v), true
	case uint:
		return float64(v), true
	default:
		return 0, false
	}
}

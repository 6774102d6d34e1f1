package model

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/careychow/libIEC61850-sub000/osi/mms/variant"
)

// InitialValue преобразует Value атрибута в MMS значение его типа.
// Для массива Value задаётся списком элементов.
func (da *DataAttribute) InitialValue() (*variant.Variant, error) {
	spec := da.TypeSpecification()
	value := spec.Default()
	if da.Value == nil {
		return value, nil
	}

	if da.Count > 0 {
		list, ok := da.Value.([]any)
		if !ok || len(list) > da.Count {
			return nil, fmt.Errorf("%w: %s expects list of up to %d elements", ErrInvalidModel, da.Name, da.Count)
		}
		for i, raw := range list {
			if err := setValue(value.Element(i), raw); err != nil {
				return nil, fmt.Errorf("%s(%d): %w", da.Name, i, err)
			}
		}
	} else if err := setValue(value, da.Value); err != nil {
		return nil, fmt.Errorf("%s: %w", da.Name, err)
	}

	if !spec.Matches(value) {
		return nil, fmt.Errorf("%w: %s value %v does not fit %s", ErrInvalidModel, da.Name, da.Value, spec)
	}
	return value, nil
}

// setValue записывает значение из файла модели в v на месте
func setValue(v *variant.Variant, raw any) error {
	switch v.Type() {
	case variant.Boolean:
		b, ok := raw.(bool)
		if !ok {
			return fmt.Errorf("%w: expected boolean, got %T", ErrInvalidModel, raw)
		}
		v.SetBool(b)

	case variant.Integer, variant.Unsigned:
		n, err := toInt64(raw)
		if err != nil {
			return err
		}
		if v.Type() == variant.Unsigned && n < 0 {
			return fmt.Errorf("%w: negative unsigned %d", ErrInvalidModel, n)
		}
		v.SetInt(n)

	case variant.Float32, variant.Float64:
		f, err := toFloat64(raw)
		if err != nil {
			return err
		}
		v.SetFloat(f)

	case variant.VisibleString, variant.MMSString:
		s, ok := raw.(string)
		if !ok {
			return fmt.Errorf("%w: expected string, got %T", ErrInvalidModel, raw)
		}
		v.SetText(s)

	case variant.OctetString:
		s, ok := raw.(string)
		if !ok {
			return fmt.Errorf("%w: expected string, got %T", ErrInvalidModel, raw)
		}
		return v.Update(variant.NewOctetStringVariant([]byte(s)))

	case variant.BitString:
		n, err := toInt64(raw)
		if err != nil {
			return err
		}
		if n < 0 || n > math.MaxUint32 {
			return fmt.Errorf("%w: bit string value %d", ErrInvalidModel, n)
		}
		v.SetBitStringUint(uint32(n))

	case variant.UTCTime, variant.BinaryTime:
		t, err := toTime(raw)
		if err != nil {
			return err
		}
		v.SetTime(t)

	default:
		return fmt.Errorf("%w: no initial value for %s", ErrInvalidModel, v.Type())
	}
	return nil
}

func toInt64(raw any) (int64, error) {
	switch n := raw.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("%w: integer %d out of range", ErrInvalidModel, n)
		}
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%w: expected integer, got %v", ErrInvalidModel, n)
		}
		return int64(n), nil
	case string:
		i, err := strconv.ParseInt(n, 0, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidModel, err)
		}
		return i, nil
	}
	return 0, fmt.Errorf("%w: expected integer, got %T", ErrInvalidModel, raw)
}

func toFloat64(raw any) (float64, error) {
	switch n := raw.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidModel, err)
		}
		return f, nil
	}
	return 0, fmt.Errorf("%w: expected number, got %T", ErrInvalidModel, raw)
}

func toTime(raw any) (time.Time, error) {
	switch t := raw.(type) {
	case time.Time:
		return t, nil
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidModel, err)
		}
		return parsed, nil
	}
	return time.Time{}, fmt.Errorf("%w: expected time, got %T", ErrInvalidModel, raw)
}

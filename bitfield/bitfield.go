// Package bitfield provides functionality to pack and unpack struct fields
// into and out of integers using a "bitfield" struct tag. It underlies the
// register-layout helpers used throughout this module: the PCI command
// register and BAR low-bits are expressed as tagged structs instead of
// ad-hoc shift/mask expressions. The bridge base/limit window helpers in
// registers.go pack their values with plain shifts and masks.
package bitfield

import (
	"fmt"
	"reflect"
)

// Config determines settings for packing and unpacking.
type Config struct {
	// NumBits caps the total number of tagged bits: Pack and Unpack fail
	// when the tagged fields add up to more. Zero means no cap. The packed
	// value is always carried in a uint64, whatever NumBits is.
	NumBits uint
}

// Pack packs annotated bit ranges of struct x into an integer.
// Only fields that have a "bitfield" tag are compacted.
// Returns the packed value as uint64 and any error encountered.
func Pack(x interface{}, c *Config) (packed uint64, err error) {
	if c == nil {
		c = &Config{NumBits: 64}
	}

	v := reflect.ValueOf(x)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	if v.Kind() != reflect.Struct {
		return 0, fmt.Errorf("Pack: expected struct, got %v", v.Kind())
	}

	t := v.Type()
	var bitOffset uint

	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		bits, ok, err := fieldBits(field)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}

		fieldValue := v.Field(i)
		fieldBits, err := valueBits(fieldValue, field.Name)
		if err != nil {
			return 0, err
		}

		maxValue := uint64(1)<<bits - 1
		if fieldBits > maxValue {
			return 0, fmt.Errorf("Pack: value %d exceeds %d bits for field %s", fieldBits, bits, field.Name)
		}

		packed |= fieldBits << bitOffset
		bitOffset += bits
	}

	if c.NumBits > 0 && bitOffset > c.NumBits {
		return 0, fmt.Errorf("Pack: total bits %d exceeds NumBits %d", bitOffset, c.NumBits)
	}

	return packed, nil
}

// Unpack is Pack's inverse: it spreads the bits of packed across the
// "bitfield"-tagged fields of x, which must be a pointer to a struct.
func Unpack(packed uint64, x interface{}, c *Config) error {
	if c == nil {
		c = &Config{NumBits: 64}
	}

	v := reflect.ValueOf(x)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("Unpack: expected pointer to struct, got %v", v.Kind())
	}
	v = v.Elem()
	t := v.Type()

	var bitOffset uint
	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		bits, ok, err := fieldBits(field)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		mask := uint64(1)<<bits - 1
		raw := (packed >> bitOffset) & mask
		bitOffset += bits

		fv := v.Field(i)
		if !fv.CanSet() {
			return fmt.Errorf("Unpack: field %s is not settable", field.Name)
		}
		switch fv.Kind() {
		case reflect.Bool:
			fv.SetBool(raw != 0)
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			fv.SetUint(raw)
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			fv.SetInt(int64(raw))
		default:
			return fmt.Errorf("Unpack: unsupported field type %v for field %s", fv.Kind(), field.Name)
		}
	}

	if c.NumBits > 0 && bitOffset > c.NumBits {
		return fmt.Errorf("Unpack: total bits %d exceeds NumBits %d", bitOffset, c.NumBits)
	}
	return nil
}

func fieldBits(field reflect.StructField) (bits uint, ok bool, err error) {
	tag := field.Tag.Get("bitfield")
	if tag == "" {
		return 0, false, nil
	}

	if _, err := fmt.Sscanf(tag, ",%d", &bits); err == nil {
		return bits, bits > 0, nil
	}
	var methodName string
	if _, err := fmt.Sscanf(tag, "%s,%d", &methodName, &bits); err == nil {
		return bits, bits > 0, nil
	}
	return 0, false, fmt.Errorf("bitfield: invalid tag %q on field %s", tag, field.Name)
}

func valueBits(fieldValue reflect.Value, name string) (uint64, error) {
	switch fieldValue.Kind() {
	case reflect.Bool:
		if fieldValue.Bool() {
			return 1, nil
		}
		return 0, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return fieldValue.Uint(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		val := fieldValue.Int()
		if val < 0 {
			return 0, fmt.Errorf("Pack: negative value %d for field %s", val, name)
		}
		return uint64(val), nil
	default:
		return 0, fmt.Errorf("Pack: unsupported field type %v for field %s", fieldValue.Kind(), name)
	}
}

// Package codec serializes wallet and protocol objects to their compact
// binary form.
//
// The wire form is borsh: fixed-width little-endian integers, fixed arrays
// inline, and u32 length prefixes for slices and strings. Only structs with
// exported fixed-width fields are supported.
//
// Decoding is strict. A buffer decodes only if re-encoding the decoded value
// reproduces the buffer exactly, which rejects truncated input, trailing
// bytes and non-canonical bools. Length prefixes are checked against the
// input before anything is allocated for them.
package codec

import (
	"encoding/base64"
	"fmt"
	"os"
	"reflect"

	"github.com/near/borsh-go"

	"github.com/anchorageoss/coldsign/errs"
)

// Validator is implemented by types with structural invariants that the
// binary form cannot express.
type Validator interface {
	Validate() error
}

// Serialize encodes v. Pointers are encoded as the value they point to.
func Serialize(v any) (out []byte, err error) {
	v, err = deref(v)
	if err != nil {
		return nil, err
	}
	if val, ok := v.(Validator); ok {
		if err := val.Validate(); err != nil {
			return nil, errs.Encoding("refusing to serialize %T: %v", v, err)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			out, err = nil, errs.Encoding("failed to serialize %T: %v", v, r)
		}
	}()

	out, err = borsh.Serialize(v)
	if err != nil {
		return nil, errs.Encoding("failed to serialize %T: %v", v, err)
	}
	return out, nil
}

// Deserialize decodes data into the value pointed to by v.
func Deserialize(data []byte, v any) (err error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return errs.Encoding("deserialize target must be a non-nil pointer, got %T", v)
	}

	defer func() {
		if r := recover(); r != nil {
			err = errs.Encoding("failed to deserialize %T: %v", v, r)
		}
	}()

	if err := checkBounds(rv.Elem().Type(), data); err != nil {
		return fmt.Errorf("failed to deserialize %T: %w", v, err)
	}
	if err := borsh.Deserialize(v, data); err != nil {
		return errs.Encoding("failed to deserialize %T: %v", v, err)
	}

	// Re-encode to reject trailing or padded input
	again, err := borsh.Serialize(rv.Elem().Interface())
	if err != nil {
		return errs.Encoding("failed to re-serialize %T: %v", v, err)
	}
	if len(again) != len(data) {
		return errs.Encoding("%T: %d trailing bytes", v, len(data)-len(again))
	}
	for i := range again {
		if again[i] != data[i] {
			return errs.Encoding("%T: non-canonical encoding at byte %d", v, i)
		}
	}

	if val, ok := v.(Validator); ok {
		if err := val.Validate(); err != nil {
			return errs.Encoding("invalid %T: %v", v, err)
		}
	}
	return nil
}

// DeserializeFile reads a file and decodes it into v.
func DeserializeFile(path string, v any) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if err := Deserialize(data, v); err != nil {
		return nil, err
	}
	return data, nil
}

// DeserializeBase64 decodes standard base64 and then the binary form.
func DeserializeBase64(b64 string, v any) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, errs.Encoding("failed to decode base64: %v", err)
	}
	if err := Deserialize(data, v); err != nil {
		return nil, err
	}
	return data, nil
}

func deref(v any) (any, error) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil, errs.Encoding("cannot serialize nil")
	}
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, errs.Encoding("cannot serialize nil %T", v)
		}
		rv = rv.Elem()
	}
	return rv.Interface(), nil
}

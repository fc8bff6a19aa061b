package codec

import (
	"encoding/binary"
	"math/big"
	"reflect"

	"github.com/anchorageoss/coldsign/errs"
)

var bigIntType = reflect.TypeOf(big.Int{})

// checkBounds walks the encoding of type t in data and fails if any length
// prefix claims more bytes than remain. The decoder allocates a string from
// its prefix before reading it, so this runs first.
func checkBounds(t reflect.Type, data []byte) error {
	w := boundsWalker{data: data}
	return w.walk(t)
}

type boundsWalker struct {
	data []byte
	off  int
}

func (w *boundsWalker) remaining() int { return len(w.data) - w.off }

func (w *boundsWalker) skip(n int) error {
	if n < 0 || n > w.remaining() {
		return errs.Encoding("need %d bytes at offset %d, have %d", n, w.off, w.remaining())
	}
	w.off += n
	return nil
}

// length reads a u32 prefix and checks it against the bytes left, given
// that each element takes at least min bytes.
func (w *boundsWalker) length(min int) (int, error) {
	if w.remaining() < 4 {
		return 0, errs.Encoding("truncated length prefix at offset %d", w.off)
	}
	n := binary.LittleEndian.Uint32(w.data[w.off:])
	w.off += 4
	if min < 1 {
		min = 1
	}
	if uint64(n) > uint64(w.remaining()/min) {
		return 0, errs.Encoding("length prefix %d at offset %d exceeds the %d bytes left", n, w.off-4, w.remaining())
	}
	return int(n), nil
}

func (w *boundsWalker) walk(t reflect.Type) error {
	switch t.Kind() {
	case reflect.Bool, reflect.Int8, reflect.Uint8:
		return w.skip(1)
	case reflect.Int16, reflect.Uint16:
		return w.skip(2)
	case reflect.Int32, reflect.Uint32, reflect.Float32:
		return w.skip(4)
	case reflect.Int, reflect.Int64, reflect.Uint, reflect.Uint64, reflect.Float64:
		return w.skip(8)
	case reflect.String:
		n, err := w.length(1)
		if err != nil {
			return err
		}
		return w.skip(n)
	case reflect.Array:
		if size, ok := fixedSize(t.Elem()); ok {
			return w.skip(size * t.Len())
		}
		for i := 0; i < t.Len(); i++ {
			if err := w.walk(t.Elem()); err != nil {
				return err
			}
		}
		return nil
	case reflect.Slice:
		size, fixed := fixedSize(t.Elem())
		n, err := w.length(size)
		if err != nil {
			return err
		}
		if fixed {
			return w.skip(size * n)
		}
		for i := 0; i < n; i++ {
			if err := w.walk(t.Elem()); err != nil {
				return err
			}
		}
		return nil
	case reflect.Map:
		n, err := w.length(2)
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			if err := w.walk(t.Key()); err != nil {
				return err
			}
			if err := w.walk(t.Elem()); err != nil {
				return err
			}
		}
		return nil
	case reflect.Pointer:
		if w.remaining() < 1 {
			return errs.Encoding("truncated option at offset %d", w.off)
		}
		present := w.data[w.off] != 0
		w.off++
		if !present {
			return nil
		}
		return w.walk(t.Elem())
	case reflect.Struct:
		return w.walkStruct(t)
	}
	return errs.Encoding("unsupported kind %s", t.Kind())
}

func (w *boundsWalker) walkStruct(t reflect.Type) error {
	if t == bigIntType {
		return w.skip(16)
	}
	if t.NumField() > 0 {
		first := t.Field(0)
		if first.Type.Kind() == reflect.Uint8 && first.Tag.Get("borsh_enum") == "true" {
			if w.remaining() < 1 {
				return errs.Encoding("truncated enum at offset %d", w.off)
			}
			variant := int(w.data[w.off]) + 1
			w.off++
			if variant >= t.NumField() {
				return errs.Encoding("enum variant %d out of range", variant-1)
			}
			return w.walk(t.Field(variant).Type)
		}
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Tag.Get("borsh_skip") == "true" {
			continue
		}
		if err := w.walk(f.Type); err != nil {
			return err
		}
	}
	return nil
}

// fixedSize reports the encoded size of types without length prefixes.
func fixedSize(t reflect.Type) (int, bool) {
	switch t.Kind() {
	case reflect.Bool, reflect.Int8, reflect.Uint8:
		return 1, true
	case reflect.Int16, reflect.Uint16:
		return 2, true
	case reflect.Int32, reflect.Uint32, reflect.Float32:
		return 4, true
	case reflect.Int, reflect.Int64, reflect.Uint, reflect.Uint64, reflect.Float64:
		return 8, true
	case reflect.Array:
		size, ok := fixedSize(t.Elem())
		return size * t.Len(), ok
	}
	return 0, false
}

package recipe

import (
	"encoding/binary"
	"fmt"
	"io"
	"reflect"

	"golang.org/x/crypto/blake2b"
)

// Hash computes a stable blake2b digest of v. Struct fields and map
// entries are treated as sets, so two values differing only in field
// order or map iteration order hash the same. Zero-valued struct
// fields are skipped, which lets types grow new fields without
// changing the digest of old values.
func Hash(v interface{}) ([]byte, error) {
	h, _ := blake2b.New256(nil)

	err := hashVal(reflect.ValueOf(v), h)
	if err != nil {
		return nil, err
	}

	return h.Sum(nil), nil
}

// HashInto writes the digest material of v into h.
func HashInto(v interface{}, h io.Writer) error {
	return hashVal(reflect.ValueOf(v), h)
}

// fold XORs sum into agg, keeping aggregation order-independent.
func fold(agg, sum []byte) []byte {
	if agg == nil {
		agg = make([]byte, len(sum))
	}

	for i, x := range sum {
		agg[i] ^= x
	}

	return agg
}

func hashVal(v reflect.Value, h io.Writer) error {
	// Unwrap any layering of pointers and interfaces. An interface
	// may hold a nil, which the validity check below has to see.
	for {
		if v.Kind() == reflect.Interface {
			v = v.Elem()
			continue
		}

		if v.Kind() == reflect.Ptr {
			v = reflect.Indirect(v)
			continue
		}

		break
	}

	// A nil hashes like a zero int.
	if !v.IsValid() {
		v = reflect.Zero(reflect.TypeOf(0))
	}

	// binary.Write needs sized values, so widen the machine-sized
	// kinds and normalize bools.
	switch v.Kind() {
	case reflect.Int, reflect.Int16, reflect.Int32:
		v = reflect.ValueOf(int64(v.Int()))
	case reflect.Uint, reflect.Uint16, reflect.Uint32:
		v = reflect.ValueOf(uint64(v.Uint()))
	case reflect.Bool:
		var tmp int8
		if v.Bool() {
			tmp = 1
		}
		v = reflect.ValueOf(tmp)
	}

	k := v.Kind()

	if k >= reflect.Int && k <= reflect.Complex64 {
		return binary.Write(h, binary.LittleEndian, v.Interface())
	}

	switch k {
	case reflect.String:
		_, err := h.Write([]byte(v.String()))
		return err

	case reflect.Array, reflect.Slice:
		l := v.Len()
		for i := 0; i < l; i++ {
			err := hashVal(v.Index(i), h)
			if err != nil {
				return err
			}
		}

	case reflect.Map:
		var agg []byte

		for _, key := range v.MapKeys() {
			eh, _ := blake2b.New256(nil)

			err := hashVal(key, eh)
			if err != nil {
				return err
			}

			err = hashVal(v.MapIndex(key), eh)
			if err != nil {
				return err
			}

			agg = fold(agg, eh.Sum(nil))
		}

		h.Write(agg)

	case reflect.Struct:
		t := v.Type()

		// A blank field's hash tag renames the struct for hashing
		// purposes, decoupling the digest from the Go type name.
		name := t.Name()

		l := v.NumField()

		for i := 0; i < l; i++ {
			field := t.Field(i)
			if field.Name != "_" {
				continue
			}

			tag := field.Tag.Get("hash")
			if tag == "ignore" || tag == "-" {
				continue
			}

			name = tag
		}

		err := hashVal(reflect.ValueOf(name), h)
		if err != nil {
			return err
		}

		var agg []byte

		for i := 0; i < l; i++ {
			field := t.Field(i)
			if field.Name == "_" || field.PkgPath != "" {
				continue
			}

			tag := field.Tag.Get("hash")
			if tag == "ignore" || tag == "-" {
				continue
			}

			inner := v.Field(i)

			// Skip zero value fields entirely.
			if inner.IsZero() {
				continue
			}

			eh, _ := blake2b.New256(nil)

			err := hashVal(reflect.ValueOf(field.Name), eh)
			if err != nil {
				return err
			}

			err = hashVal(inner, eh)
			if err != nil {
				return err
			}

			agg = fold(agg, eh.Sum(nil))
		}

		h.Write(agg)

	default:
		return fmt.Errorf("unknown kind to hash: %s", k)
	}

	return nil
}

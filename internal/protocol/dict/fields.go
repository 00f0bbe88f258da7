package dict

import (
	"bytes"
	"encoding/binary"
)

// NewUint8 creates an unsigned 8-bit tuple.
func NewUint8(key uint32, v uint8) Tuple {
	return Tuple{Key: key, Type: TypeUint, Value: []byte{v}}
}

// NewUint16 creates an unsigned 16-bit tuple.
func NewUint16(key uint32, v uint16) Tuple {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, v)
	return Tuple{Key: key, Type: TypeUint, Value: buf}
}

// NewUint32 creates an unsigned 32-bit tuple.
func NewUint32(key uint32, v uint32) Tuple {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	return Tuple{Key: key, Type: TypeUint, Value: buf}
}

// NewCString creates a NUL-terminated string tuple.
func NewCString(key uint32, v string) Tuple {
	buf := make([]byte, len(v)+1)
	copy(buf, v)
	return Tuple{Key: key, Type: TypeCString, Value: buf}
}

// NewByteArray creates a byte array tuple holding a copy of v.
func NewByteArray(key uint32, v []byte) Tuple {
	buf := make([]byte, len(v))
	copy(buf, v)
	return Tuple{Key: key, Type: TypeByteArray, Value: buf}
}

// Uint32 widens a 1, 2 or 4 byte integer tuple. Signed tuples are accepted
// when non-negative.
func (t Tuple) Uint32() (uint32, error) {
	if t.Type != TypeUint && t.Type != TypeInt {
		return 0, ErrTypeMismatch
	}
	var v uint32
	switch len(t.Value) {
	case 1:
		v = uint32(t.Value[0])
		if t.Type == TypeInt && v&0x80 != 0 {
			return 0, ErrInvalidLength
		}
	case 2:
		v = uint32(binary.LittleEndian.Uint16(t.Value))
		if t.Type == TypeInt && v&0x8000 != 0 {
			return 0, ErrInvalidLength
		}
	case 4:
		v = binary.LittleEndian.Uint32(t.Value)
		if t.Type == TypeInt && v&0x80000000 != 0 {
			return 0, ErrInvalidLength
		}
	default:
		return 0, ErrInvalidLength
	}
	return v, nil
}

// Uint16 narrows an integer tuple to 16 bits.
func (t Tuple) Uint16() (uint16, error) {
	v, err := t.Uint32()
	if err != nil {
		return 0, err
	}
	if v > 0xFFFF {
		return 0, ErrInvalidLength
	}
	return uint16(v), nil
}

// CString returns the text up to the first NUL. A missing terminator is
// tolerated.
func (t Tuple) CString() (string, error) {
	if t.Type != TypeCString {
		return "", ErrTypeMismatch
	}
	if i := bytes.IndexByte(t.Value, 0); i >= 0 {
		return string(t.Value[:i]), nil
	}
	return string(t.Value), nil
}

// Bytes returns the raw value of a byte array tuple without copying.
func (t Tuple) Bytes() ([]byte, error) {
	if t.Type != TypeByteArray {
		return nil, ErrTypeMismatch
	}
	return t.Value, nil
}

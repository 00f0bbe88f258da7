package dict

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// HeaderLen is the leading tuple count byte.
	HeaderLen = 1
	// TupleHeaderLen is key(4) + type(1) + length(2).
	TupleHeaderLen = 7

	MaxTuples     = 0xFF
	MaxValueBytes = 0xFFFF
)

var (
	ErrShortHeader      = errors.New("dict: short header")
	ErrShortTupleHeader = errors.New("dict: short tuple header")
	ErrShortTupleValue  = errors.New("dict: short tuple value")
	ErrTrailingBytes    = errors.New("dict: trailing bytes after last tuple")
	ErrTooManyTuples    = errors.New("dict: too many tuples")
	ErrValueTooLarge    = errors.New("dict: tuple value too large")
	ErrTypeMismatch     = errors.New("dict: tuple type mismatch")
	ErrInvalidLength    = errors.New("dict: invalid value length")
)

// Type is the tuple value type tag.
type Type uint8

const (
	TypeByteArray Type = 0
	TypeCString   Type = 1
	TypeUint      Type = 2
	TypeInt       Type = 3
)

func (t Type) String() string {
	switch t {
	case TypeByteArray:
		return "bytes"
	case TypeCString:
		return "cstring"
	case TypeUint:
		return "uint"
	case TypeInt:
		return "int"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Tuple is one keyed value of a dictionary.
type Tuple struct {
	Key   uint32
	Type  Type
	Value []byte
}

// Dictionary is an ordered list of tuples. Order is preserved on the wire.
type Dictionary []Tuple

// CalcBufferSize returns the encoded size of a dictionary holding the given
// number of tuples and total value bytes.
func CalcBufferSize(tuples int, valueBytes int) uint32 {
	return uint32(HeaderLen + tuples*TupleHeaderLen + valueBytes)
}

// Size returns the encoded size of d.
func (d Dictionary) Size() uint32 {
	n := 0
	for _, t := range d {
		n += len(t.Value)
	}
	return CalcBufferSize(len(d), n)
}

// Get returns the first tuple with key.
func (d Dictionary) Get(key uint32) (Tuple, bool) {
	for _, t := range d {
		if t.Key == key {
			return t, true
		}
	}
	return Tuple{}, false
}

func Encode(d Dictionary) ([]byte, error) {
	if len(d) > MaxTuples {
		return nil, ErrTooManyTuples
	}
	buf := make([]byte, 0, d.Size())
	buf = append(buf, byte(len(d)))
	for _, t := range d {
		if len(t.Value) > MaxValueBytes {
			return nil, fmt.Errorf("%w: key=%d len=%d", ErrValueTooLarge, t.Key, len(t.Value))
		}
		var head [TupleHeaderLen]byte
		binary.LittleEndian.PutUint32(head[0:4], t.Key)
		head[4] = byte(t.Type)
		binary.LittleEndian.PutUint16(head[5:7], uint16(len(t.Value)))
		buf = append(buf, head[:]...)
		buf = append(buf, t.Value...)
	}
	return buf, nil
}

func Decode(payload []byte) (Dictionary, error) {
	if len(payload) < HeaderLen {
		return nil, ErrShortHeader
	}
	count := int(payload[0])
	out := make(Dictionary, 0, count)
	i := HeaderLen
	for n := 0; n < count; n++ {
		if len(payload)-i < TupleHeaderLen {
			return nil, ErrShortTupleHeader
		}
		key := binary.LittleEndian.Uint32(payload[i : i+4])
		typ := Type(payload[i+4])
		l := int(binary.LittleEndian.Uint16(payload[i+5 : i+7]))
		i += TupleHeaderLen
		if len(payload)-i < l {
			return nil, ErrShortTupleValue
		}
		val := make([]byte, l)
		copy(val, payload[i:i+l])
		i += l
		out = append(out, Tuple{Key: key, Type: typ, Value: val})
	}
	if i != len(payload) {
		return nil, ErrTrailingBytes
	}
	return out, nil
}

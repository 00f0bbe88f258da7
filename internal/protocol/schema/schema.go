package schema

import (
	"fmt"

	"github.com/danmuck/imgdl/internal/protocol/dict"
	"github.com/rs/zerolog/log"
)

// Message keys shared by the device and the companion.
const (
	KeyReady     uint32 = 0
	KeyChunkSize uint32 = 1
	KeyWidth     uint32 = 2
	KeyHeight    uint32 = 3
	KeyBegin     uint32 = 4
	KeyData      uint32 = 5
	KeyEnd       uint32 = 6
	KeyError     uint32 = 7
)

var keyNames = map[uint32]string{
	KeyReady:     "READY",
	KeyChunkSize: "CHUNK_SIZE",
	KeyWidth:     "WIDTH",
	KeyHeight:    "HEIGHT",
	KeyBegin:     "BEGIN",
	KeyData:      "DATA",
	KeyEnd:       "END",
	KeyError:     "ERROR",
}

func KeyName(key uint32) string {
	if name, ok := keyNames[key]; ok {
		return name
	}
	return fmt.Sprintf("KEY_%d", key)
}

// Known reports whether key is part of the message contract.
func Known(key uint32) bool {
	_, ok := keyNames[key]
	return ok
}

type ValidationError struct {
	Key    uint32
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("schema: key=%s: %s", KeyName(e.Key), e.Reason)
}

// Accepted value types per key. Signal-only keys (READY, END) carry any value.
var requirements = map[uint32][]dict.Type{
	KeyChunkSize: {dict.TypeUint, dict.TypeInt},
	KeyWidth:     {dict.TypeUint, dict.TypeInt},
	KeyHeight:    {dict.TypeUint, dict.TypeInt},
	KeyBegin:     {dict.TypeUint, dict.TypeInt},
	KeyData:      {dict.TypeByteArray},
	KeyError:     {dict.TypeCString},
}

// Validate checks a single tuple against the key's type requirement.
// Unknown keys are accepted; callers decide whether to skip them.
func Validate(t dict.Tuple) error {
	reqs, ok := requirements[t.Key]
	if !ok {
		return nil
	}
	for _, typ := range reqs {
		if t.Type == typ {
			return nil
		}
	}
	log.Debug().
		Str("key", KeyName(t.Key)).
		Stringer("type", t.Type).
		Msg("schema.Validate type mismatch")
	return ValidationError{Key: t.Key, Reason: fmt.Sprintf("unexpected type %s", t.Type)}
}

// Handshake is the device's reply to READY.
type Handshake struct {
	ChunkSize uint32
	Width     uint16
	Height    uint16
}

func (h Handshake) Dictionary() dict.Dictionary {
	return dict.Dictionary{
		dict.NewUint32(KeyChunkSize, h.ChunkSize),
		dict.NewUint16(KeyWidth, h.Width),
		dict.NewUint16(KeyHeight, h.Height),
	}
}

// ParseHandshake reads whichever handshake keys are present in d. ok is false
// when none of them are.
func ParseHandshake(d dict.Dictionary) (h Handshake, ok bool, err error) {
	if t, found := d.Get(KeyChunkSize); found {
		if h.ChunkSize, err = t.Uint32(); err != nil {
			return Handshake{}, false, ValidationError{Key: KeyChunkSize, Reason: err.Error()}
		}
		ok = true
	}
	if t, found := d.Get(KeyWidth); found {
		if h.Width, err = t.Uint16(); err != nil {
			return Handshake{}, false, ValidationError{Key: KeyWidth, Reason: err.Error()}
		}
		ok = true
	}
	if t, found := d.Get(KeyHeight); found {
		if h.Height, err = t.Uint16(); err != nil {
			return Handshake{}, false, ValidationError{Key: KeyHeight, Reason: err.Error()}
		}
		ok = true
	}
	return h, ok, nil
}

package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	HeaderLen = 16

	Magic   uint32 = 0x494D4744 // "IMGD"
	Version uint16 = 1

	// FlagAck marks a transport acknowledgement of Txn. No payload.
	FlagAck uint16 = 0x01
	// FlagNack marks a rejection of Txn. Payload is a u16 result code.
	FlagNack uint16 = 0x02
)

var (
	ErrShortHeader        = errors.New("frame: short fixed header")
	ErrInvalidMagic       = errors.New("frame: invalid magic")
	ErrUnsupportedVersion = errors.New("frame: unsupported version")
	ErrPayloadTooLarge    = errors.New("frame: payload too large")
	ErrTruncated          = errors.New("frame: truncated payload")
)

// Header is the fixed wire header.
type Header struct {
	Magic      uint32
	Version    uint16
	Flags      uint16
	Txn        uint32
	PayloadLen uint32
}

// Frame is one complete wire message: a dictionary payload or an ack/nack.
type Frame struct {
	Header  Header
	Payload []byte
}

func (f Frame) IsAck() bool  { return f.Header.Flags&FlagAck != 0 }
func (f Frame) IsNack() bool { return f.Header.Flags&FlagNack != 0 }

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint32
}

func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: 8200}
}

// ReadFrame reads one frame. A payload above limits is consumed and discarded
// so the stream stays aligned; the header is returned with ErrPayloadTooLarge.
func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var fixed [HeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}

	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Frame{}, err
	}
	if h.Magic != Magic {
		return Frame{}, ErrInvalidMagic
	}
	if h.Version != Version {
		return Frame{}, ErrUnsupportedVersion
	}

	if h.PayloadLen > limits.MaxPayloadBytes {
		if _, err := io.CopyN(io.Discard, r, int64(h.PayloadLen)); err != nil {
			return Frame{}, ErrTruncated
		}
		return Frame{Header: h}, ErrPayloadTooLarge
	}

	payload := make([]byte, h.PayloadLen)
	if h.PayloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, ErrTruncated
		}
	}
	return Frame{Header: h, Payload: payload}, nil
}

func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	if uint64(len(f.Payload)) > uint64(limits.MaxPayloadBytes) {
		return ErrPayloadTooLarge
	}
	h := f.Header
	h.Magic = Magic
	h.Version = Version
	h.PayloadLen = uint32(len(f.Payload))

	buf := make([]byte, 0, HeaderLen+len(f.Payload))
	buf = append(buf, EncodeHeader(h)...)
	buf = append(buf, f.Payload...)
	_, err := w.Write(buf)
	return err
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], h.Flags)
	binary.BigEndian.PutUint32(buf[8:12], h.Txn)
	binary.BigEndian.PutUint32(buf[12:16], h.PayloadLen)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != HeaderLen {
		return Header{}, fmt.Errorf("frame: invalid fixed header length: %d", len(b))
	}
	return Header{
		Magic:      binary.BigEndian.Uint32(b[0:4]),
		Version:    binary.BigEndian.Uint16(b[4:6]),
		Flags:      binary.BigEndian.Uint16(b[6:8]),
		Txn:        binary.BigEndian.Uint32(b[8:12]),
		PayloadLen: binary.BigEndian.Uint32(b[12:16]),
	}, nil
}

// Ack builds the acknowledgement for txn.
func Ack(txn uint32) Frame {
	return Frame{Header: Header{Flags: FlagAck, Txn: txn}}
}

// Nack builds a rejection of txn carrying a transport result code.
func Nack(txn uint32, result uint16) Frame {
	payload := make([]byte, 2)
	binary.BigEndian.PutUint16(payload, result)
	return Frame{Header: Header{Flags: FlagNack, Txn: txn}, Payload: payload}
}

// NackResult returns the result code carried by a nack frame.
func (f Frame) NackResult() (uint16, bool) {
	if !f.IsNack() || len(f.Payload) != 2 {
		return 0, false
	}
	return binary.BigEndian.Uint16(f.Payload), true
}

package pixel

import (
	"bytes"
	"errors"
	"image/color"
	"testing"
)

func TestUnpackSingleGroupBitSlicing(t *testing.T) {
	buf := []byte{0b10110010, 0b01101101, 0b11001010, 0x00}
	n, err := Unpack(buf, 3)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if n != 4 {
		t.Fatalf("expected extent 4, got %d", n)
	}
	want := []byte{0xEC, 0xE6, 0xF7, 0xCA}
	if !bytes.Equal(buf, want) {
		t.Fatalf("got % x want % x", buf, want)
	}
	for i, b := range buf {
		if b&0xC0 != 0xC0 {
			t.Fatalf("byte %d missing tag bits: %08b", i, b)
		}
	}
}

func TestUnpackInPlaceMatchesIndependentGroups(t *testing.T) {
	packed := []byte{0x12, 0x34, 0x56, 0xFE, 0xDC, 0xBA, 0x00, 0xFF, 0x81}
	buf := make([]byte, 12)
	copy(buf, packed)
	n, err := Unpack(buf, len(packed))
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if n != 12 {
		t.Fatalf("expected extent 12, got %d", n)
	}

	var want []byte
	for g := 0; g < len(packed); g += 3 {
		one := make([]byte, 4)
		copy(one, packed[g:g+3])
		if _, err := Unpack(one, 3); err != nil {
			t.Fatalf("unpack group %d: %v", g/3, err)
		}
		want = append(want, one...)
	}
	if !bytes.Equal(buf, want) {
		t.Fatalf("in-place result differs:\n got % x\nwant % x", buf, want)
	}
}

func TestUnpackSixIntoEight(t *testing.T) {
	packed := []byte{0b10110010, 0b01101101, 0b11001010, 0x00, 0x00, 0x00}
	buf := make([]byte, 8)
	copy(buf, packed)
	if _, err := Unpack(buf, 6); err != nil {
		t.Fatalf("unpack: %v", err)
	}
	want := []byte{0xEC, 0xE6, 0xF7, 0xCA, 0xC0, 0xC0, 0xC0, 0xC0}
	if !bytes.Equal(buf, want) {
		t.Fatalf("got % x want % x", buf, want)
	}
}

func TestUnpackLeavesTailUntouched(t *testing.T) {
	buf := []byte{0xFF, 0xFF, 0xFF, 0x00, 0x77, 0x77}
	n, err := Unpack(buf, 3)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if buf[n] != 0x77 || buf[n+1] != 0x77 {
		t.Fatalf("tail modified: % x", buf)
	}
}

func TestUnpackRejectsBadLengths(t *testing.T) {
	if _, err := Unpack(make([]byte, 8), 4); !errors.Is(err, ErrPackedLength) {
		t.Fatalf("expected ErrPackedLength, got %v", err)
	}
	if _, err := Unpack(make([]byte, 7), 6); !errors.Is(err, ErrShortBuffer) {
		t.Fatalf("expected ErrShortBuffer, got %v", err)
	}
	if n, err := Unpack(nil, 0); err != nil || n != 0 {
		t.Fatalf("empty unpack: n=%d err=%v", n, err)
	}
}

func TestPackInvertsUnpack(t *testing.T) {
	pixels := []byte{0xC0, 0xFF, 0xE4, 0xDB, 0xC1, 0xF0, 0xCF, 0xFC}
	packed := make([]byte, PackedLen(len(pixels)))
	n, err := Pack(packed, pixels)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	if n != 6 {
		t.Fatalf("expected 6 packed bytes, got %d", n)
	}
	buf := make([]byte, len(pixels))
	copy(buf, packed)
	if _, err := Unpack(buf, n); err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if !bytes.Equal(buf, pixels) {
		t.Fatalf("got % x want % x", buf, pixels)
	}
}

func TestPackAliased(t *testing.T) {
	pixels := []byte{0xC0, 0xFF, 0xE4, 0xDB, 0xC1, 0xF0, 0xCF, 0xFC}
	want := make([]byte, 6)
	if _, err := Pack(want, pixels); err != nil {
		t.Fatalf("pack: %v", err)
	}
	buf := append([]byte(nil), pixels...)
	n, err := Pack(buf, buf)
	if err != nil {
		t.Fatalf("pack aliased: %v", err)
	}
	if !bytes.Equal(buf[:n], want) {
		t.Fatalf("aliased pack differs: % x vs % x", buf[:n], want)
	}
}

func TestBitmapColors(t *testing.T) {
	bm := NewBitmap([]byte{0xFF, 0xC0, 0xF0, 0xC3}, 2, 2)
	if got := bm.At(0, 0); got != (color.NRGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}) {
		t.Fatalf("white: %+v", got)
	}
	if got := bm.At(1, 0); got != (color.NRGBA{A: 0xFF}) {
		t.Fatalf("black: %+v", got)
	}
	if got := bm.At(0, 1); got != (color.NRGBA{R: 0xFF, A: 0xFF}) {
		t.Fatalf("red: %+v", got)
	}
	if got := bm.At(5, 5); got != (color.NRGBA{}) {
		t.Fatalf("out of bounds: %+v", got)
	}
	bm.Set(1, 1, color.NRGBA{G: 0xFF, A: 0xFF})
	if bm.Pix[3] != 0xCC {
		t.Fatalf("set green: %08b", bm.Pix[3])
	}
}

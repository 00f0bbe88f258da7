// Package pixel converts between the 3:4 packed transfer encoding and 8-bit
// ARGB2222 bitmap bytes.
//
//	unpacked: 11AAAAAA 11BBBBBB 11CCCCCC 11DDDDDD
//	  packed: AAAAAABB BBBBCCCC CCDDDDDD
package pixel

import "errors"

// Tag is forced onto the top two bits of every unpacked byte. In ARGB2222 it
// is the fully opaque alpha.
const Tag byte = 0xC0

var (
	ErrPackedLength = errors.New("pixel: packed length is not a multiple of 3")
	ErrShortBuffer  = errors.New("pixel: buffer too small")
)

// UnpackedLen is the extent produced by unpacking n packed bytes.
func UnpackedLen(n int) int {
	return n / 3 * 4
}

// PackedLen is the packed size of n unpacked bytes.
func PackedLen(n int) int {
	return n / 4 * 3
}

// Unpack expands buf[:packedLen] in place into buf[:UnpackedLen(packedLen)]
// and returns the unpacked extent. Bytes past the extent are left untouched.
//
// Groups are processed from the last to the first. Group k is written to
// buf[4k:4k+4], which only overlaps source bytes of groups >= k, so no
// unread source byte is ever clobbered.
func Unpack(buf []byte, packedLen int) (int, error) {
	if packedLen < 0 || packedLen%3 != 0 {
		return 0, ErrPackedLength
	}
	n := UnpackedLen(packedLen)
	if len(buf) < n {
		return 0, ErrShortBuffer
	}
	for i, j := packedLen-3, n-4; i >= 0; i, j = i-3, j-4 {
		a, b, c := buf[i], buf[i+1], buf[i+2]
		buf[j+3] = Tag | c&0x3F
		buf[j+2] = Tag | (c&0xC0)>>6 | (b&0x0F)<<2
		buf[j+1] = Tag | (b&0xF0)>>4 | (a&0x03)<<4
		buf[j] = Tag | (a&0xFC)>>2
	}
	return n, nil
}

// Pack is the inverse of Unpack: every 4 bytes of src lose their tag bits and
// become 3 bytes of dst. A trailing partial group of src is ignored. dst may
// alias src since writes never pass the read position.
func Pack(dst, src []byte) (int, error) {
	groups := len(src) / 4
	if len(dst) < groups*3 {
		return 0, ErrShortBuffer
	}
	for g := 0; g < groups; g++ {
		i, j := g*4, g*3
		u0, u1, u2, u3 := src[i], src[i+1], src[i+2], src[i+3]
		dst[j] = (u0&0x3F)<<2 | (u1&0x30)>>4
		dst[j+1] = (u1&0x0F)<<4 | (u2&0x3C)>>2
		dst[j+2] = (u2&0x03)<<6 | u3&0x3F
	}
	return groups * 3, nil
}

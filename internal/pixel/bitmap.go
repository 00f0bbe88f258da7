package pixel

import (
	"image"
	"image/color"
)

// Model converts any colour to the nearest ARGB2222 value.
var Model = color.ModelFunc(func(c color.Color) color.Color {
	return ToColor(FromColor(c))
})

// ToColor expands one 0bAARRGGBB byte.
func ToColor(b byte) color.NRGBA {
	return color.NRGBA{
		R: (b >> 4 & 0x03) * 0x55,
		G: (b >> 2 & 0x03) * 0x55,
		B: (b & 0x03) * 0x55,
		A: (b >> 6) * 0x55,
	}
}

// FromColor keeps the top two bits of each channel.
func FromColor(c color.Color) byte {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	return n.A&0xC0 | (n.R&0xC0)>>2 | (n.G&0xC0)>>4 | (n.B&0xC0)>>6
}

// Bitmap is an image.Image over an 8-bit ARGB2222 pixel buffer. It does not
// copy Pix.
type Bitmap struct {
	Pix    []byte
	Stride int
	Rect   image.Rectangle
}

var _ image.Image = (*Bitmap)(nil)

func NewBitmap(pix []byte, width, height int) *Bitmap {
	return &Bitmap{Pix: pix, Stride: width, Rect: image.Rect(0, 0, width, height)}
}

func (b *Bitmap) ColorModel() color.Model { return Model }

func (b *Bitmap) Bounds() image.Rectangle { return b.Rect }

func (b *Bitmap) At(x, y int) color.Color {
	if !(image.Point{X: x, Y: y}.In(b.Rect)) {
		return color.NRGBA{}
	}
	i := (y-b.Rect.Min.Y)*b.Stride + (x - b.Rect.Min.X)
	if i >= len(b.Pix) {
		return color.NRGBA{}
	}
	return ToColor(b.Pix[i])
}

func (b *Bitmap) Set(x, y int, c color.Color) {
	if !(image.Point{X: x, Y: y}.In(b.Rect)) {
		return
	}
	i := (y-b.Rect.Min.Y)*b.Stride + (x - b.Rect.Min.X)
	if i < len(b.Pix) {
		b.Pix[i] = FromColor(c)
	}
}

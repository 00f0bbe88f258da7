package companion

import (
	"errors"
	"image"

	"github.com/danmuck/imgdl/internal/pixel"
	"github.com/disintegration/gift"
)

var ErrInvalidDimensions = errors.New("companion: width and height must be positive")

// levelStep is the 8-bit distance between adjacent 2-bit channel levels.
const levelStep = 0x55

// Resize scales and crops img to exactly width x height.
func Resize(img image.Image, width, height int) *image.NRGBA {
	g := gift.New(gift.ResizeToFill(width, height, gift.LanczosResampling, gift.CenterAnchor))
	dst := image.NewNRGBA(g.Bounds(img.Bounds()))
	g.Draw(dst, img)
	return dst
}

// Downsample maps every pixel to its nearest opaque ARGB2222 byte.
func Downsample(img *image.NRGBA) []byte {
	b := img.Bounds()
	out := make([]byte, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):]
		for x := 0; x < b.Dx(); x++ {
			p := row[x*4 : x*4+4]
			out = append(out, pixel.Tag|
				quantize(int(p[0]))<<4|
				quantize(int(p[1]))<<2|
				quantize(int(p[2])))
		}
	}
	return out
}

// Dither is Downsample with Floyd-Steinberg error diffusion per channel.
func Dither(img *image.NRGBA) []byte {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	// Two rows of accumulated error, 3 channels each.
	cur := make([]int, (w+2)*3)
	next := make([]int, (w+2)*3)
	out := make([]byte, 0, w*h)

	for y := 0; y < h; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):]
		for x := 0; x < w; x++ {
			v := pixel.Tag
			for c := 0; c < 3; c++ {
				i := (x+1)*3 + c
				want := clamp(int(row[x*4+c]) + cur[i]/16)
				level := quantize(want)
				diff := want - int(level)*levelStep

				cur[i+3] += diff * 7
				next[i-3] += diff * 3
				next[i] += diff * 5
				next[i+3] += diff
				v |= level << (4 - 2*c)
			}
			out = append(out, v)
		}
		cur, next = next, cur
		for i := range next {
			next[i] = 0
		}
	}
	return out
}

// Prepare turns an arbitrary image into the packed byte stream for a
// width x height display. A trailing partial group of fewer than 4 pixels is
// not representable and is dropped.
func Prepare(img image.Image, width, height int, dither bool) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, ErrInvalidDimensions
	}
	resized := Resize(img, width, height)
	var px []byte
	if dither {
		px = Dither(resized)
	} else {
		px = Downsample(resized)
	}
	n, err := pixel.Pack(px, px)
	if err != nil {
		return nil, err
	}
	return px[:n:n], nil
}

func quantize(v int) byte {
	return byte((clamp(v) + levelStep/2) / levelStep)
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 0xFF {
		return 0xFF
	}
	return v
}

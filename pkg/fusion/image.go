package fusion

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/mdouchement/hdr/codec/rgbe"
	"github.com/mdouchement/hdr/hdrcolor"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"

	"github.com/abworrall/burstfuse/pkg/emath"
)

// RGBA is one pixel, as floats; colour channels nominally in [0,1].
type RGBA [4]float64

// An Image is a grid of float RGBA pixels. It implements image.Image
// and hdr.Image, so it can be written out as Radiance RGBE.
type Image struct {
	Width, Height int
	Pix           []RGBA // row major
}

func NewImage(w, h int) *Image {
	return &Image{Width: w, Height: h, Pix: make([]RGBA, w*h)}
}

// FromImage converts any image to floats, mapping 16-bit channel
// values onto [0,1]. The result always starts at (0,0).
func FromImage(src image.Image) *Image {
	b := src.Bounds()
	rgba64, ok := src.(*image.RGBA64)
	if !ok {
		rgba64 = image.NewRGBA64(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba64, rgba64.Bounds(), src, b.Min, draw.Src)
		b = rgba64.Bounds()
	}

	im := NewImage(b.Dx(), b.Dy())
	for y := 0; y < im.Height; y++ {
		for x := 0; x < im.Width; x++ {
			c := rgba64.RGBA64At(b.Min.X+x, b.Min.Y+y)
			im.Set(x, y, RGBA{
				float64(c.R) / 0xFFFF,
				float64(c.G) / 0xFFFF,
				float64(c.B) / 0xFFFF,
				float64(c.A) / 0xFFFF,
			})
		}
	}
	return im
}

func (im *Image) Get(x, y int) RGBA    { return im.Pix[y*im.Width+x] }
func (im *Image) Set(x, y int, c RGBA) { im.Pix[y*im.Width+x] = c }

func (im *Image) Copy() *Image {
	im2 := NewImage(im.Width, im.Height)
	copy(im2.Pix, im.Pix)
	return im2
}

func (im *Image) String() string {
	return fmt.Sprintf("image[%dx%d]", im.Width, im.Height)
}

// Implement image.Image
func (im *Image) ColorModel() color.Model { return hdrcolor.RGBModel }
func (im *Image) Bounds() image.Rectangle { return image.Rect(0, 0, im.Width, im.Height) }
func (im *Image) At(x, y int) color.Color { return im.HDRAt(x, y) }

// Implement hdr.Image
func (im *Image) Size() int { return im.Width * im.Height }
func (im *Image) HDRAt(x, y int) hdrcolor.Color {
	c := im.Get(x, y)
	return hdrcolor.RGB{R: c[0], G: c[1], B: c[2]}
}

// Bilinear samples at a fractional position. ok is false when (x,y) is
// outside the area the pixels cover.
func (im *Image) Bilinear(x, y float64) (RGBA, bool) {
	ix, iy := int(math.Floor(x)), int(math.Floor(y))
	if ix < 0 || iy < 0 || ix >= im.Width || iy >= im.Height {
		return RGBA{}, false
	}
	a, b := x-float64(ix), y-float64(iy)
	ix1, iy1 := ix+1, iy+1
	if ix1 >= im.Width {
		if a > 1e-9 {
			return RGBA{}, false
		}
		ix1 = ix
	}
	if iy1 >= im.Height {
		if b > 1e-9 {
			return RGBA{}, false
		}
		iy1 = iy
	}

	p00, p10 := im.Get(ix, iy), im.Get(ix1, iy)
	p01, p11 := im.Get(ix, iy1), im.Get(ix1, iy1)
	var out RGBA
	for c := range out {
		out[c] = p00[c]*(1-a)*(1-b) + p10[c]*a*(1-b) + p01[c]*(1-a)*b + p11[c]*a*b
	}
	return out, true
}

// Lightness is the CIE L* of a pixel, in [0,1].
func Lightness(c RGBA) float64 {
	l, _, _ := colorful.Color{R: clamp01(c[0]), G: clamp01(c[1]), B: clamp01(c[2])}.Lab()
	return l
}

// Luminance renders the grayscale plane the feature detector works on:
// L* scaled to [0,255].
func (im *Image) Luminance() emath.Plane {
	p := emath.NewPlane(im.Width, im.Height)
	for y := 0; y < im.Height; y++ {
		row := p.Row(y)
		for x := range row {
			row[x] = 255 * Lightness(im.Get(x, y))
		}
	}
	return p
}

// ToRGBA64 clamps the pixels into a 16-bit image.
func (im *Image) ToRGBA64() *image.RGBA64 {
	out := image.NewRGBA64(im.Bounds())
	for y := 0; y < im.Height; y++ {
		for x := 0; x < im.Width; x++ {
			c := im.Get(x, y)
			out.SetRGBA64(x, y, color.RGBA64{
				R: uint16(clamp01(c[0]) * 0xFFFF),
				G: uint16(clamp01(c[1]) * 0xFFFF),
				B: uint16(clamp01(c[2]) * 0xFFFF),
				A: uint16(clamp01(c[3]) * 0xFFFF),
			})
		}
	}
	return out
}

// WriteHDR outputs a Radiance RGBE image.
func (im *Image) WriteHDR(filename string) error {
	if writer, err := os.Create(filename); err != nil {
		return fmt.Errorf("WriteHDR, open+w '%s': %v", filename, err)
	} else {
		defer writer.Close()
		if err := rgbe.Encode(writer, im); err != nil {
			return fmt.Errorf("WriteHDR, encoding RGBE '%s': %v", filename, err)
		}
	}
	return nil
}

// WriteTIFF outputs a 16-bit TIFF.
func (im *Image) WriteTIFF(filename string) error {
	if writer, err := os.Create(filename); err != nil {
		return fmt.Errorf("WriteTIFF, open+w '%s': %v", filename, err)
	} else {
		defer writer.Close()
		if err := tiff.Encode(writer, im.ToRGBA64(), &tiff.Options{Compression: tiff.Deflate}); err != nil {
			return fmt.Errorf("WriteTIFF, encoding '%s': %v", filename, err)
		}
	}
	return nil
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

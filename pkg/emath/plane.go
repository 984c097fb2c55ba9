package emath

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/fogleman/gg" // Move to https://pkg.go.dev/golang.org/x/image/font#Drawer sometime
)

// A Plane is a grid of float samples with an explicit row stride. A Plane
// may be a view onto a sub-rectangle of a bigger plane, in which case
// both share the same backing slice; writes through either are visible
// in both.
type Plane struct {
	width  int
	height int
	stride int
	offset int
	values []float64
}

func NewPlane(w, h int) Plane {
	if w < 0 || h < 0 {
		panic(fmt.Sprintf("emath: bad plane size %dx%d", w, h))
	}
	return Plane{
		width:  w,
		height: h,
		stride: w,
		values: make([]float64, w*h),
	}
}

// NewPlaneFrom wraps existing memory. The caller guarantees the slice
// outlives the plane, and that it is big enough for stride*(h-1)+w values.
func NewPlaneFrom(values []float64, w, h, stride int) Plane {
	if stride < w {
		panic(fmt.Sprintf("emath: stride %d < width %d", stride, w))
	}
	if h > 0 && len(values) < stride*(h-1)+w {
		panic(fmt.Sprintf("emath: %d values too few for %dx%d stride %d", len(values), w, h, stride))
	}
	return Plane{width: w, height: h, stride: stride, values: values}
}

func (p *Plane) Set(x, y int, v float64) { p.values[p.offset+p.stride*y+x] = v }
func (p *Plane) Get(x, y int) float64    { return p.values[p.offset+p.stride*y+x] }
func (p *Plane) Dx() int                 { return p.width }
func (p *Plane) Dy() int                 { return p.height }
func (p *Plane) Stride() int             { return p.stride }
func (p *Plane) Bounds() image.Rectangle { return image.Rect(0, 0, p.width, p.height) }

// Row returns the samples of row y, without the stride padding.
func (p *Plane) Row(y int) []float64 {
	start := p.offset + p.stride*y
	return p.values[start : start+p.width]
}

// View returns a non-owning plane over r, which must lie inside p.
func (p *Plane) View(r image.Rectangle) Plane {
	if !r.In(p.Bounds()) {
		panic(fmt.Sprintf("emath: view %s outside plane %s", r, p.Bounds()))
	}
	return Plane{
		width:  r.Dx(),
		height: r.Dy(),
		stride: p.stride,
		offset: p.offset + r.Min.Y*p.stride + r.Min.X,
		values: p.values,
	}
}

// Copy returns a compact, owning copy of p.
func (p *Plane) Copy() *Plane {
	p2 := NewPlane(p.width, p.height)
	for y := 0; y < p.height; y++ {
		copy(p2.Row(y), p.Row(y))
	}
	return &p2
}

// Fill sets every sample to v.
func (p *Plane) Fill(v float64) {
	for y := 0; y < p.height; y++ {
		row := p.Row(y)
		for x := range row {
			row[x] = v
		}
	}
}

// Bilinear samples p at a fractional position. ok is false when (x,y)
// falls outside the area covered by the four-neighbour stencil.
func (p *Plane) Bilinear(x, y float64) (float64, bool) {
	ix, iy := int(math.Floor(x)), int(math.Floor(y))
	if ix < 0 || iy < 0 || ix >= p.width || iy >= p.height {
		return 0, false
	}
	a, b := x-float64(ix), y-float64(iy)
	ix1, iy1 := ix+1, iy+1
	if ix1 >= p.width {
		if a > 1e-9 {
			return 0, false
		}
		ix1 = ix
	}
	if iy1 >= p.height {
		if b > 1e-9 {
			return 0, false
		}
		iy1 = iy
	}
	v := p.Get(ix, iy)*(1-a)*(1-b) +
		p.Get(ix1, iy)*a*(1-b) +
		p.Get(ix, iy1)*(1-a)*b +
		p.Get(ix1, iy1)*a*b
	return v, true
}

// DownSample returns a plane that is 1/4 of the size, averaging the values
// from the original.
func (p *Plane) DownSample() Plane {
	width := p.width / 2
	height := p.height / 2
	p2 := NewPlane(width, height)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := p.Get(2*x, 2*y)
			v += p.Get(2*x+1, 2*y)
			v += p.Get(2*x, 2*y+1)
			v += p.Get(2*x+1, 2*y+1)
			p2.Set(x, y, v/4.0)
		}
	}

	return p2
}

func (p *Plane) MinMax() (float64, float64) {
	min := math.MaxFloat64
	max := -1.0 * min
	for y := 0; y < p.height; y++ {
		for _, v := range p.Row(y) {
			if v > max {
				max = v
			}
			if v < min {
				min = v
			}
		}
	}
	return min, max
}

func (p *Plane) Stats() string {
	min, max := p.MinMax()
	return fmt.Sprintf("plane[%dx%d/%d, vals{%f,%f}]", p.width, p.height, p.stride, min, max)
}

// ToImage renders a grayscale version, based on the range of values in the
// plane, and gamma scaling the gray to look normal for human vision.
func (p *Plane) ToImage() *image.RGBA64 {
	min, max := p.MinMax()
	span := max - min
	if span == 0 {
		span = 1
	}

	img := image.NewRGBA64(image.Rectangle{Max: image.Point{p.width, p.height}})
	for y := 0; y < p.height; y++ {
		for x := 0; x < p.width; x++ {
			gray := GammaExpand_F64((p.Get(x, y) - min) / span)
			g := uint16(gray * 65535.0)
			img.SetRGBA64(x, y, color.RGBA64{g, g, g, 0xFFFF})
		}
	}
	return img
}

// ToImg saves the plane as a PNG, with a caption.
func (p *Plane) ToImg(title, filename string) error {
	dc := gg.NewContextForImage(p.ToImage())
	dc.SetRGB(1, 0, 0)
	dc.DrawString(title, 10, 20)
	return dc.SavePNG(filename)
}

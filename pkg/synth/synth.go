// Package synth renders synthetic scenes, and bursts of shifted frames
// of them, for exercising the registration pipeline.
package synth

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"math/rand"
	"os"
	"path/filepath"

	"golang.org/x/image/tiff"

	"github.com/abworrall/burstfuse/pkg/emath"
)

type blob struct {
	x, y    float64
	sigma   float64
	amp     float64
	stretch float64 // aspect ratio, so blobs aren't all round
}

// A Scene is a fixed random arrangement of Gaussian blobs on a gray
// background. Its values mostly lie in [0,1].
type Scene struct {
	Base  float64
	blobs []blob
}

// NewScene scatters nBlobs over a w x h area (plus a border, so
// shifted frames still have content at their edges).
func NewScene(seed int64, w, h, nBlobs int) Scene {
	r := rand.New(rand.NewSource(seed))
	s := Scene{Base: 0.5}
	for i := 0; i < nBlobs; i++ {
		amp := 0.1 + 0.2*r.Float64()
		if r.Intn(2) == 0 {
			amp = -amp
		}
		s.blobs = append(s.blobs, blob{
			x:       -20 + float64(w+40)*r.Float64(),
			y:       -20 + float64(h+40)*r.Float64(),
			sigma:   2 + 5*r.Float64(),
			amp:     amp,
			stretch: 0.6 + 0.8*r.Float64(),
		})
	}
	return s
}

// Value is the scene brightness at (x,y), clamped to [0,1].
func (s Scene) Value(x, y float64) float64 {
	v := s.Base
	for _, b := range s.blobs {
		dx, dy := (x-b.x)*b.stretch, y-b.y
		v += b.amp * math.Exp(-(dx*dx+dy*dy)/(2*b.sigma*b.sigma))
	}
	return math.Max(0, math.Min(1, v))
}

// Plane renders a w x h view of the scene, with its content moved by
// (dx,dy): the plane's pixel (x,y) shows scene point (x-dx, y-dy).
// Values are scaled to [0,255].
func (s Scene) Plane(w, h int, dx, dy float64) emath.Plane {
	p := emath.NewPlane(w, h)
	for y := 0; y < h; y++ {
		row := p.Row(y)
		for x := range row {
			row[x] = 255 * s.Value(float64(x)-dx, float64(y)-dy)
		}
	}
	return p
}

// Image renders the same view as Plane, as a tinted 16-bit color image.
func (s Scene) Image(w, h int, dx, dy float64) *image.RGBA64 {
	img := image.NewRGBA64(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := s.Value(float64(x)-dx, float64(y)-dy)
			img.SetRGBA64(x, y, color.RGBA64{
				R: uint16(v * 0xFFFF),
				G: uint16((0.1 + 0.8*v) * 0xFFFF),
				B: uint16((0.9 - 0.8*v) * 0xFFFF),
				A: 0xFFFF,
			})
		}
	}
	return img
}

// Shift is how far one frame of a burst has moved.
type Shift struct {
	X, Y float64
}

// DefaultShifts is a reference frame followed by three frames nudged
// by a pixel in x, in y, and in both.
var DefaultShifts = []Shift{{0, 0}, {1, 0}, {0, 1}, {1, 1}}

// Burst renders one image per shift.
func (s Scene) Burst(w, h int, shifts []Shift) []*image.RGBA64 {
	imgs := []*image.RGBA64{}
	for _, sh := range shifts {
		imgs = append(imgs, s.Image(w, h, sh.X, sh.Y))
	}
	return imgs
}

// WriteBurst saves a burst as frame-NN.tif files in dir.
func (s Scene) WriteBurst(dir string, w, h int, shifts []Shift) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("mkdir '%s': %v", dir, err)
	}

	filenames := []string{}
	for i, img := range s.Burst(w, h, shifts) {
		filename := filepath.Join(dir, fmt.Sprintf("frame-%02d.tif", i))
		if err := writeTIFF(img, filename); err != nil {
			return nil, err
		}
		filenames = append(filenames, filename)
	}
	return filenames, nil
}

func writeTIFF(img image.Image, filename string) error {
	if writer, err := os.Create(filename); err != nil {
		return fmt.Errorf("open+w '%s': %v", filename, err)
	} else {
		defer writer.Close()
		if err := tiff.Encode(writer, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
			return fmt.Errorf("tiff encode '%s': %v", filename, err)
		}
	}
	return nil
}

package emath

import (
	"image"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rampPlane(w, h int) Plane {
	p := NewPlane(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p.Set(x, y, float64(y*100+x))
		}
	}
	return p
}

func TestPlaneViewSharesMemory(t *testing.T) {
	p := rampPlane(10, 8)
	v := p.View(image.Rect(2, 3, 7, 6))

	assert.Equal(t, 5, v.Dx())
	assert.Equal(t, 3, v.Dy())
	assert.Equal(t, 10, v.Stride())
	assert.Equal(t, 302.0, v.Get(0, 0))
	assert.Equal(t, 506.0, v.Get(4, 2))

	v.Set(1, 1, -1)
	assert.Equal(t, -1.0, p.Get(3, 4))

	assert.Equal(t, []float64{302, 303, 304, 305, 306}, v.Row(0))
}

func TestPlaneViewOutsidePanics(t *testing.T) {
	p := NewPlane(4, 4)
	assert.Panics(t, func() { p.View(image.Rect(2, 2, 5, 3)) })
}

func TestNewPlaneFromBadStridePanics(t *testing.T) {
	assert.Panics(t, func() { NewPlaneFrom(make([]float64, 100), 10, 5, 8) })
	assert.Panics(t, func() { NewPlaneFrom(make([]float64, 10), 10, 5, 10) })
	assert.NotPanics(t, func() { NewPlaneFrom(make([]float64, 48), 8, 5, 10) })
}

func TestPlaneCopyIsCompact(t *testing.T) {
	p := rampPlane(10, 8)
	v := p.View(image.Rect(1, 1, 4, 4))
	c := v.Copy()

	assert.Equal(t, 3, c.Stride())
	assert.Equal(t, v.Get(2, 2), c.Get(2, 2))
	c.Set(0, 0, 42)
	assert.NotEqual(t, 42.0, p.Get(1, 1))
}

func TestPlaneBilinear(t *testing.T) {
	p := rampPlane(4, 4)

	v, ok := p.Bilinear(1.5, 2.25)
	require.True(t, ok)
	assert.InDelta(t, 225+1.5, v, 1e-9)

	v, ok = p.Bilinear(3, 3)
	require.True(t, ok)
	assert.Equal(t, 303.0, v)

	_, ok = p.Bilinear(3.5, 1)
	assert.False(t, ok)
	_, ok = p.Bilinear(-0.1, 1)
	assert.False(t, ok)
}

func TestPlaneDownSample(t *testing.T) {
	p := NewPlane(4, 2)
	p.Fill(1)
	p.Set(0, 0, 5)
	d := p.DownSample()

	assert.Equal(t, 2, d.Dx())
	assert.Equal(t, 1, d.Dy())
	assert.Equal(t, 2.0, d.Get(0, 0))
	assert.Equal(t, 1.0, d.Get(1, 0))
}

func TestPlaneToImg(t *testing.T) {
	p := rampPlane(32, 16)
	min, max := p.MinMax()
	assert.Equal(t, 0.0, min)
	assert.Equal(t, 1531.0, max)

	img := p.ToImage()
	assert.Equal(t, image.Rect(0, 0, 32, 16), img.Bounds())

	require.NoError(t, p.ToImg("ramp", filepath.Join(t.TempDir(), "ramp.png")))
}

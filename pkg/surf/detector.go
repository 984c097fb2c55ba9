// Package surf finds scale-invariant interest points in a grayscale
// plane, and builds a 64-value gradient descriptor for each of them.
//
// The detector approximates the Hessian of a Gaussian scale space with
// box filters evaluated on an integral image, keeps the 3x3x3 local
// maxima of its determinant, and refines them to sub-pixel accuracy.
// Every stage is split into independent work items and run on a
// parallel.Executor; results don't depend on which one.
package surf

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/abworrall/burstfuse/pkg/emath"
	"github.com/abworrall/burstfuse/pkg/parallel"
)

// Config holds the detector settings. HessianThreshold is in units of
// the input plane squared; planes built by this module hold 8-bit style
// values in [0,255], where 100 is a sensible threshold.
type Config struct {
	MaxFeatures      int // 0 means keep everything
	Octaves          int
	OctaveLayers     int
	HessianThreshold float64
	Upright          bool // skip orientation, and build axis-aligned descriptors
}

func NewConfig() Config {
	return Config{
		MaxFeatures:      2000,
		Octaves:          4,
		OctaveLayers:     3,
		HessianThreshold: 100,
	}
}

func (c Config) Validate() error {
	if c.Octaves < 1 {
		return fmt.Errorf("detector needs at least one octave, not %d", c.Octaves)
	}
	if c.OctaveLayers < 1 {
		return fmt.Errorf("detector needs at least one layer per octave, not %d", c.OctaveLayers)
	}
	if c.MaxFeatures < 0 {
		return fmt.Errorf("detector maxfeatures %d is negative", c.MaxFeatures)
	}
	return nil
}

// A Detector owns the scale-space buffers, which are reused from one
// frame to the next as long as the frame size doesn't change. It is
// not safe for concurrent use.
type Detector struct {
	Config

	exec parallel.Executor
	log  *slog.Logger

	width, height int
	layers        []layer

	degenerate atomic.Int64
}

func NewDetector(cfg Config, exec parallel.Executor, log *slog.Logger) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if exec == nil {
		exec = parallel.Sequential{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Detector{Config: cfg, exec: exec, log: log}, nil
}

// DetectAndCompute finds the keypoints in p, and a descriptor for each.
// The two slices are index-aligned, and sorted strongest first.
func (d *Detector) DetectAndCompute(p emath.Plane) ([]KeyPoint, []Descriptor) {
	return d.run(p, true)
}

// Detect finds the keypoints in p and assigns their orientation, but
// doesn't build descriptors.
func (d *Detector) Detect(p emath.Plane) []KeyPoint {
	kps, _ := d.run(p, false)
	return kps
}

// Degenerate counts the maxima candidates dropped so far because their
// sub-pixel fit was singular.
func (d *Detector) Degenerate() int64 { return d.degenerate.Load() }

func (d *Detector) run(p emath.Plane, withDescriptors bool) ([]KeyPoint, []Descriptor) {
	in := NewIntegral(p)

	d.prepare(p.Dx(), p.Dy())
	d.exec.Run(len(d.layers), func(i int) {
		calcDetAndTrace(in, &d.layers[i])
	})

	kps := d.findMaxima()
	nFound := len(kps)
	SortKeyPoints(kps)
	if d.MaxFeatures > 0 && len(kps) > d.MaxFeatures {
		kps = kps[:d.MaxFeatures]
	}

	var descs []Descriptor
	if withDescriptors {
		descs = make([]Descriptor, len(kps))
	}
	d.describe(p, in, kps, descs)
	kps, descs = compact(kps, descs)

	d.log.Debug("surf detect",
		"plane", p.Stats(),
		"maxima", nFound,
		"kept", len(kps),
		"degenerate", d.Degenerate())

	return kps, descs
}

// prepare (re)allocates the scale space if the frame size changed.
func (d *Detector) prepare(w, h int) {
	if d.layers != nil && d.width == w && d.height == h {
		return
	}
	d.width, d.height = w, h
	d.layers = newScaleSpace(w, h, d.Octaves, d.OctaveLayers)
}

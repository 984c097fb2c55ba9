package surf

import (
	"math"
	"testing"

	"github.com/abworrall/burstfuse/pkg/emath"
	"github.com/abworrall/burstfuse/pkg/parallel"
	"github.com/abworrall/burstfuse/pkg/synth"
)

func scenePlane(w, h int, dx, dy float64) emath.Plane {
	return synth.NewScene(7, w, h, 70).Plane(w, h, dx, dy)
}

// blobPlane is a dark plane with one bright Gaussian blob.
func blobPlane(w, h int, cx, cy, sigma float64) emath.Plane {
	p := emath.NewPlane(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx, dy := float64(x)-cx, float64(y)-cy
			p.Set(x, y, 200*math.Exp(-(dx*dx+dy*dy)/(2*sigma*sigma)))
		}
	}
	return p
}

func newTestDetector(t *testing.T, cfg Config, exec parallel.Executor) *Detector {
	t.Helper()
	d, err := NewDetector(cfg, exec, nil)
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	return d
}

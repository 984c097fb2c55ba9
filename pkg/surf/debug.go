package surf

import (
	"fmt"
	"image"
	"math"
	"path/filepath"

	"github.com/fogleman/gg"
)

// DumpLayers writes the determinant plane of every scale-space layer
// from the last detection as a PNG into dir.
func (d *Detector) DumpLayers(dir, prefix string) error {
	for i := range d.layers {
		l := &d.layers[i]
		title := fmt.Sprintf("%s octave %d size %d step %d", prefix, l.octave, l.size, l.step)
		filename := filepath.Join(dir, fmt.Sprintf("%s-det-%02d.png", prefix, i))
		if err := l.det.ToImg(title, filename); err != nil {
			return fmt.Errorf("dump layer %d: %v", i, err)
		}
	}
	return nil
}

// DrawKeyPoints draws each keypoint over img as a circle of its scale,
// with a tick showing its orientation, and saves the result as a PNG.
// Keypoints detected at a reduced scale can be drawn over the full
// size image by passing the scale they were detected at.
func DrawKeyPoints(img image.Image, kps []KeyPoint, scale float64, title, filename string) error {
	if scale <= 0 {
		scale = 1
	}

	dc := gg.NewContextForImage(img)
	dc.SetLineWidth(1)

	for _, kp := range kps {
		x, y := kp.X/scale, kp.Y/scale
		r := kp.Size * 1.2 / 9.0 * 2 / scale
		if kp.Laplacian > 0 {
			dc.SetRGB(0, 1, 0)
		} else {
			dc.SetRGB(1, 0, 1)
		}
		dc.DrawCircle(x, y, r)
		dc.Stroke()

		if kp.Angle >= 0 {
			rad := kp.Angle * math.Pi / 180
			dc.DrawLine(x, y, x+r*math.Cos(rad), y-r*math.Sin(rad))
			dc.Stroke()
		}
	}

	dc.SetRGB(1, 0, 0)
	dc.DrawString(fmt.Sprintf("%s (%d keypoints)", title, len(kps)), 10, 20)
	return dc.SavePNG(filename)
}

package surf

import (
	"fmt"
	"sort"
)

// DescriptorSize is the number of values in a descriptor: 4x4 cells of
// (sum dx, sum dy, sum |dx|, sum |dy|).
const DescriptorSize = 64

// A Descriptor summarizes the gradients around a keypoint. It is L2
// normalized.
type Descriptor [DescriptorSize]float64

// A KeyPoint is a scale-space maximum of the Hessian determinant.
// Coordinates are in source plane pixels.
type KeyPoint struct {
	X, Y      float64
	Size      float64 // box size of the wavelet; negative once rejected
	Angle     float64 // degrees, [0,360); -1 until assigned
	Response  float64 // Hessian determinant
	Octave    int
	Laplacian int // sign of the Hessian trace: +1, -1 or 0
}

func (kp KeyPoint) String() string {
	return fmt.Sprintf("kp[(%7.2f,%7.2f) size:%5.1f ang:%5.1f resp:%8.1f oct:%d lap:%+d]",
		kp.X, kp.Y, kp.Size, kp.Angle, kp.Response, kp.Octave, kp.Laplacian)
}

func (kp KeyPoint) rejected() bool { return kp.Size <= 0 }

// keyPointGreater is a total order: strongest response first, then
// bigger, then higher octave, then by position.
func keyPointGreater(a, b KeyPoint) bool {
	if a.Response != b.Response {
		return a.Response > b.Response
	}
	if a.Size != b.Size {
		return a.Size > b.Size
	}
	if a.Octave != b.Octave {
		return a.Octave > b.Octave
	}
	if a.Y != b.Y {
		return a.Y > b.Y
	}
	if a.X != b.X {
		return a.X < b.X
	}
	return a.Laplacian > b.Laplacian
}

// SortKeyPoints puts keypoints into their canonical order. Workers
// append in whatever order they finish, so this is what makes detector
// output reproducible.
func SortKeyPoints(kps []KeyPoint) {
	sort.Slice(kps, func(i, j int) bool { return keyPointGreater(kps[i], kps[j]) })
}

package burst

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math"
	"path/filepath"
	"time"

	"github.com/skypies/util/histogram"
	"golang.org/x/image/draw"

	"github.com/abworrall/burstfuse/pkg/emath"
	"github.com/abworrall/burstfuse/pkg/fusion"
	"github.com/abworrall/burstfuse/pkg/homography"
	"github.com/abworrall/burstfuse/pkg/match"
	"github.com/abworrall/burstfuse/pkg/parallel"
	"github.com/abworrall/burstfuse/pkg/surf"
)

var (
	ErrNoFrames   = errors.New("no frames to fuse")
	ErrFrameShape = errors.New("frames differ in size")
)

// An Engine registers and fuses bursts. It owns the executor and the
// detector (and so the detector's buffers), and hands them to every
// stage of the pipeline; build one per run and use it from one
// goroutine.
type Engine struct {
	cfg      Configuration
	log      *slog.Logger
	exec     parallel.Executor
	detector *surf.Detector
}

func NewEngine(cfg Configuration, log *slog.Logger) (*Engine, error) {
	if err := cfg.Finalize(); err != nil {
		return nil, fmt.Errorf("config: %v", err)
	}
	if log == nil {
		log = NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	}

	exec, err := cfg.NewExecutor()
	if err != nil {
		return nil, err
	}
	det, err := surf.NewDetector(cfg.Detector, exec, log)
	if err != nil {
		return nil, err
	}

	return &Engine{cfg: cfg, log: log, exec: exec, detector: det}, nil
}

func (e *Engine) Config() Configuration { return e.cfg }

// FrameReport is how registration went for one frame.
type FrameReport struct {
	Index      int
	Filename   string
	KeyPoints  int
	Matches    int
	Inliers    int
	Iterations int
	H          emath.Mat3 // frame -> reference, at full resolution
	Residuals  homography.ResidualStats
	Diff       float64 // mean |dL*| against the reference, once warped
	Overlap    float64 // fraction of the reference the diff covered
	Distances  histogram.Histogram
	Fused      bool
	Err        error
}

func (fr FrameReport) String() string {
	str := fmt.Sprintf("[%d] %s: %d kps, %d matches, %d inliers (%d iters)",
		fr.Index, filepath.Base(fr.Filename), fr.KeyPoints, fr.Matches, fr.Inliers, fr.Iterations)
	switch {
	case fr.Err != nil && fr.Fused:
		str += fmt.Sprintf(", fused unwarped: %v", fr.Err)
	case fr.Err != nil:
		str += fmt.Sprintf(", skipped: %v", fr.Err)
	default:
		tx, ty := fr.H.Normalized().Translation()
		str += fmt.Sprintf(", shift (%.2f,%.2f), %s, diff %.4f", tx, ty, fr.Residuals, fr.Diff)
	}
	return str
}

type Report struct {
	Reference  int
	Frames     []FrameReport // in burst order; the reference is included
	Fused      int
	Degenerate int64 // sub-pixel fits the detector dropped
	Elapsed    time.Duration
}

func (r Report) String() string {
	str := fmt.Sprintf("fused %d of %d frames in %s (reference %d)\n", r.Fused, len(r.Frames), r.Elapsed, r.Reference)
	for _, fr := range r.Frames {
		str += "  " + fr.String() + "\n"
	}
	return str
}

// Descriptor distances are in [0,2]; bucket them in hundredths.
func newDistanceHistogram() histogram.Histogram {
	return histogram.Histogram{NumBuckets: 40, ValMin: 0, ValMax: 200}
}

// ProcessBurst registers every frame against the reference frame
// (cfg.Reference), and fuses them into an accumulator in the
// reference's coordinates. Frames whose homography can't be found are
// dealt with by the fusion policy; the burst as a whole only fails if
// the frames can't be fused at all.
func (e *Engine) ProcessBurst(frames []Frame) (*fusion.Accumulator, *Report, error) {
	if len(frames) == 0 {
		return nil, nil, ErrNoFrames
	}
	if e.cfg.Reference >= len(frames) {
		return nil, nil, fmt.Errorf("reference frame %d, but only %d frames", e.cfg.Reference, len(frames))
	}

	ref := frames[e.cfg.Reference]
	for _, f := range frames {
		if f.Image.Width != ref.Image.Width || f.Image.Height != ref.Image.Height {
			return nil, nil, fmt.Errorf("%s is %dx%d, reference %s is %dx%d: %w", f.Filename,
				f.Image.Width, f.Image.Height, ref.Filename, ref.Image.Width, ref.Image.Height, ErrFrameShape)
		}
	}

	start := time.Now()
	degenerate := e.detector.Degenerate()
	report := &Report{Reference: e.cfg.Reference, Frames: make([]FrameReport, len(frames))}

	refKps, refDescs := e.detect(ref)
	e.log.Info("reference frame", "file", ref.Filename, "keypoints", len(refKps))
	e.debugKeyPoints(ref, refKps, "ref")
	if e.cfg.Debug.Dir != "" && e.cfg.Debug.Layers {
		if err := e.detector.DumpLayers(e.cfg.Debug.Dir, "ref"); err != nil {
			e.log.Warn("dump layers", "err", err)
		}
	}

	acc := fusion.NewAccumulator(e.exec)
	if _, err := fusion.RegisterAndFuse(acc, ref.Image, emath.Identity(), 1); err != nil {
		return nil, nil, err
	}
	report.Frames[e.cfg.Reference] = FrameReport{
		Index:     e.cfg.Reference,
		Filename:  ref.Filename,
		KeyPoints: len(refKps),
		H:         emath.Identity(),
		Distances: newDistanceHistogram(),
		Fused:     true,
	}

	for i, f := range frames {
		if i == e.cfg.Reference {
			continue
		}

		fr := e.registerFrame(i, f, ref, refKps, refDescs)
		if fr.Err != nil {
			if e.cfg.FailurePolicy() == PolicySkip {
				e.log.Warn("frame skipped", "file", f.Filename, "err", fr.Err)
				report.Frames[i] = fr
				continue
			}
			e.log.Warn("frame fused unwarped", "file", f.Filename, "err", fr.Err)
			fr.H = emath.Identity()
		}

		if _, err := fusion.RegisterAndFuse(acc, f.Image, fr.H, acc.Count()+1); err != nil {
			e.log.Warn("frame not fused", "file", f.Filename, "err", err)
			fr.Err = err
			report.Frames[i] = fr
			continue
		}
		fr.Fused = true
		report.Frames[i] = fr
	}

	report.Fused = acc.Count()
	report.Degenerate = e.detector.Degenerate() - degenerate
	report.Elapsed = time.Since(start)
	e.log.Info("burst fused", "frames", len(frames), "fused", report.Fused, "elapsed", report.Elapsed)

	return acc, report, nil
}

func (e *Engine) registerFrame(i int, f, ref Frame, refKps []surf.KeyPoint, refDescs []surf.Descriptor) FrameReport {
	fr := FrameReport{Index: i, Filename: f.Filename, Distances: newDistanceHistogram()}

	kps, descs := e.detect(f)
	fr.KeyPoints = len(kps)
	e.debugKeyPoints(f, kps, fmt.Sprintf("frame-%02d", i))

	matches := e.match(refDescs, descs)
	fr.Matches = len(matches)
	for _, m := range matches {
		fr.Distances.Add(histogram.ScalarVal(int(m.Distance * 100)))
	}

	res, err := homography.FindHomography(homography.PairsFromMatches(matches, refKps, kps), e.cfg.Ransac)
	fr.Iterations = res.Iterations
	if err != nil {
		fr.Err = fmt.Errorf("frame %d (%s): %w", i, f.Filename, err)
		return fr
	}

	fr.Inliers = len(res.Inliers)
	fr.Residuals = res.Residuals
	fr.H = homography.ScaleHomography(res.H, 1/e.cfg.DetectScale)

	if diff, err := fusion.ImgDiff(e.exec, ref.Image, f.Image, fr.H); err != nil {
		fr.Err = fmt.Errorf("frame %d (%s): %w", i, f.Filename, err)
		return fr
	} else {
		fr.Diff, fr.Overlap = diff.Mean, diff.Comparable
		if e.cfg.Debug.Dir != "" {
			filename := filepath.Join(e.cfg.Debug.Dir, fmt.Sprintf("frame-%02d-diff.png", i))
			if err := diff.Plane.ToImg(fmt.Sprintf("frame %d %s", i, diff), filename); err != nil {
				e.log.Warn("debug diff", "err", err)
			}
		}
	}

	e.log.Info("frame registered", "file", f.Filename, "keypoints", fr.KeyPoints, "matches", fr.Matches,
		"inliers", fr.Inliers, "iterations", fr.Iterations, "residuals", fr.Residuals.String(), "diff", fr.Diff)
	e.log.Debug("frame homography", "file", f.Filename, "h", fr.H.String())

	return fr
}

// Detect runs the detector over the frame's luminance, at the
// configured detection scale. Keypoint coordinates are in the scaled
// plane's pixels.
func (e *Engine) Detect(f Frame) ([]surf.KeyPoint, []surf.Descriptor) {
	return e.detect(f)
}

func (e *Engine) detect(f Frame) ([]surf.KeyPoint, []surf.Descriptor) {
	return e.detector.DetectAndCompute(scalePlane(f.Image.Luminance(), e.cfg.DetectScale))
}

func (e *Engine) match(query, train []surf.Descriptor) []match.Match {
	var matches []match.Match
	if e.cfg.Match.Ratio > 0 {
		matches = match.RatioTest(e.exec, query, train, e.cfg.Match.Ratio)
	} else {
		matches = match.MatchKeypoints(e.exec, query, train)
	}
	if e.cfg.Match.MaxDistance > 0 {
		matches = match.FilterByDistance(matches, e.cfg.Match.MaxDistance)
	}
	return matches
}

func (e *Engine) debugKeyPoints(f Frame, kps []surf.KeyPoint, name string) {
	if e.cfg.Debug.Dir == "" {
		return
	}
	filename := filepath.Join(e.cfg.Debug.Dir, name+"-keypoints.png")
	if err := surf.DrawKeyPoints(f.Image.ToRGBA64(), kps, e.cfg.DetectScale, filepath.Base(f.Filename), filename); err != nil {
		e.log.Warn("debug keypoints", "file", f.Filename, "err", err)
	}
}

// scalePlane shrinks p by s. Halving is a 2x2 box average; any other
// factor goes through a bilinear resample.
func scalePlane(p emath.Plane, s float64) emath.Plane {
	switch {
	case s == 1:
		return p
	case s == 0.5:
		return p.DownSample()
	}

	w := int(math.Round(float64(p.Dx()) * s))
	h := int(math.Round(float64(p.Dy()) * s))

	src := image.NewGray16(p.Bounds())
	for y := 0; y < p.Dy(); y++ {
		for x, v := range p.Row(y) {
			src.SetGray16(x, y, color.Gray16{Y: uint16(math.Max(0, math.Min(1, v/255)) * 0xFFFF)})
		}
	}
	dst := image.NewGray16(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	out := emath.NewPlane(w, h)
	for y := 0; y < h; y++ {
		row := out.Row(y)
		for x := range row {
			row[x] = 255 * float64(dst.Gray16At(x, y).Y) / 0xFFFF
		}
	}
	return out
}

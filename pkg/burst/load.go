package burst

import (
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	"golang.org/x/image/tiff"

	"github.com/abworrall/burstfuse/pkg/fusion"
)

// A Frame is one exposure of the burst.
type Frame struct {
	Filename string
	Taken    time.Time // zero if the file had no usable EXIF
	Image    *fusion.Image
}

func NewFrame(filename string, img image.Image, taken time.Time) Frame {
	return Frame{Filename: filename, Taken: taken, Image: fusion.FromImage(img)}
}

func (f Frame) String() string {
	return fmt.Sprintf("%s[%dx%d, %s]", filepath.Base(f.Filename), f.Image.Width, f.Image.Height,
		f.Taken.Format(time.DateTime))
}

// A Burst is what got loaded from the command line: the frames, and
// the configuration (if a YAML file was among them).
type Burst struct {
	Config Configuration
	Frames []Frame

	log *slog.Logger
}

func NewBurst(log *slog.Logger) *Burst {
	if log == nil {
		log = slog.Default()
	}
	return &Burst{Config: NewConfiguration(), log: log}
}

// LoadFilesAndDirs loads frames (.tif, .png, .jpg) and configuration
// (.yaml) files, recursing into directories. Other files are ignored.
// Frames end up sorted by capture time, then filename.
func (b *Burst) LoadFilesAndDirs(args ...string) error {
	for _, arg := range args {
		if err := b.loadPath(arg); err != nil {
			return err
		}
	}
	b.SortFrames()
	return nil
}

func (b *Burst) loadPath(arg string) error {
	item, err := os.Stat(arg)

	switch {
	case err != nil:
		return fmt.Errorf("load %s: %v", arg, err)

	case item.IsDir():
		contents, err := os.ReadDir(arg)
		if err != nil {
			return fmt.Errorf("readdir %s: %v", arg, err)
		}
		for _, content := range contents {
			if err := b.loadPath(filepath.Join(arg, content.Name())); err != nil {
				return fmt.Errorf("load %s: %v", arg, err)
			}
		}

	default:
		if err := b.loadFile(arg); err != nil {
			return fmt.Errorf("loadfile %s: %v", arg, err)
		}
	}

	return nil
}

func (b *Burst) loadFile(filename string) error {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".tif", ".tiff":
		f, err := b.loadTIFF(filename)
		if err != nil {
			return fmt.Errorf("Loading %s as TIFF failed: %v", filename, err)
		}
		b.Frames = append(b.Frames, f)

	case ".png", ".jpg", ".jpeg":
		img, err := imaging.Open(filename, imaging.AutoOrientation(true))
		if err != nil {
			return fmt.Errorf("Loading %s as image failed: %v", filename, err)
		}
		b.Frames = append(b.Frames, NewFrame(filename, img, b.captureTime(filename)))

	case ".yaml":
		cfg, err := LoadConfiguration(filename)
		if err != nil {
			return fmt.Errorf("Loading %s as config YAML failed: %v", filename, err)
		}
		b.Config = cfg
		b.log.Info("loaded configuration", "file", filename)
	}

	return nil
}

func (b *Burst) loadTIFF(filename string) (Frame, error) {
	reader, err := os.Open(filename)
	if err != nil {
		return Frame{}, fmt.Errorf("open+r img '%s': %v", filename, err)
	}
	defer reader.Close()

	img, err := tiff.Decode(reader)
	if err != nil {
		return Frame{}, fmt.Errorf("tiff loading '%s': %v", filename, err)
	}
	return NewFrame(filename, img, b.captureTime(filename)), nil
}

// captureTime reads the EXIF capture time. Files without one (e.g.
// exports that dropped the metadata) get the zero time, and so sort by
// filename.
func (b *Burst) captureTime(filename string) time.Time {
	reader, err := os.Open(filename)
	if err != nil {
		return time.Time{}
	}
	defer reader.Close()

	ex, err := exif.Decode(reader)
	if err != nil {
		b.log.Debug("no exif", "file", filename, "err", err)
		return time.Time{}
	}
	t, err := ex.DateTime()
	if err != nil {
		b.log.Debug("no exif capture time", "file", filename, "err", err)
		return time.Time{}
	}
	return t
}

// SortFrames orders the frames by capture time, then filename.
func (b *Burst) SortFrames() {
	sort.SliceStable(b.Frames, func(i, j int) bool {
		fi, fj := b.Frames[i], b.Frames[j]
		if !fi.Taken.Equal(fj.Taken) {
			return fi.Taken.Before(fj.Taken)
		}
		return fi.Filename < fj.Filename
	})
}

func (b *Burst) String() string {
	str := fmt.Sprintf("burst of %d frames:-\n", len(b.Frames))
	for i, f := range b.Frames {
		str += fmt.Sprintf("  [%d] %s\n", i, f)
	}
	return str
}

package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abworrall/burstfuse/pkg/burst"
	"github.com/abworrall/burstfuse/pkg/surf"
	"github.com/abworrall/burstfuse/pkg/synth"
)

// Flags shared by the subcommands; they override the config file.
type options struct {
	configFile string
	logLevel   string
	logFormat  string
	executor   string
	workers    int
	debugDir   string
	scale      float64
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "burstfuse",
		Short: "burstfuse aligns a burst of frames, and fuses them into one image",
		Long: `burstfuse finds SURF features in every frame of a burst, matches them
against a reference frame, estimates a homography for each frame with RANSAC,
and averages the warped frames into a single HDR image.`,
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&opts.configFile, "config", "c", "", "YAML config file")
	pf.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")
	pf.StringVar(&opts.logFormat, "log-format", "", "text or json")
	pf.StringVar(&opts.executor, "executor", "", "pool, grid or sequential")
	pf.IntVar(&opts.workers, "workers", 0, "worker count (0 means one per CPU)")
	pf.StringVar(&opts.debugDir, "debug", "", "write debug images into this dir")
	pf.Float64Var(&opts.scale, "scale", 0, "detect features at this fraction of full size")

	rootCmd.AddCommand(newFuseCmd(opts))
	rootCmd.AddCommand(newDetectCmd(opts))
	rootCmd.AddCommand(newConfigCmd(opts))
	rootCmd.AddCommand(newSynthCmd())

	return rootCmd
}

// load reads the files and dirs, then applies the config file and the
// command line on top of whatever config came with them.
func (o *options) load(args ...string) (*burst.Burst, *slog.Logger, error) {
	b := burst.NewBurst(burst.NewLogger(o.logLevel, o.logFormat))
	if err := b.LoadFilesAndDirs(args...); err != nil {
		return nil, nil, err
	}

	if o.configFile != "" {
		cfg, err := burst.LoadConfiguration(o.configFile)
		if err != nil {
			return nil, nil, err
		}
		b.Config = cfg
	}

	c := &b.Config
	if o.logLevel != "" {
		c.Logging.Level = o.logLevel
	}
	if o.logFormat != "" {
		c.Logging.Format = o.logFormat
	}
	if o.executor != "" {
		c.Executor.Kind = o.executor
	}
	if o.workers > 0 {
		c.Executor.Workers = o.workers
	}
	if o.debugDir != "" {
		c.Debug.Dir = o.debugDir
	}
	if o.scale > 0 {
		c.DetectScale = o.scale
	}

	if c.Debug.Dir != "" {
		if err := os.MkdirAll(c.Debug.Dir, 0755); err != nil {
			return nil, nil, fmt.Errorf("debug dir: %v", err)
		}
	}

	return b, burst.NewLogger(c.Logging.Level, c.Logging.Format), nil
}

func newFuseCmd(opts *options) *cobra.Command {
	var (
		output    string
		reference int
		policy    string
	)

	cmd := &cobra.Command{
		Use:   "fuse <files|dirs>...",
		Short: "Register and fuse a burst",
		Long: `Load every frame (.tif, .png, .jpg) named or found in the dirs, plus any
.yaml config, sort them by capture time, and fuse them onto the reference frame.
The output format follows the extension: .hdr (Radiance RGBE) or .tif.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, log, err := opts.load(args...)
			if err != nil {
				return err
			}
			if reference >= 0 {
				b.Config.Reference = reference
			}
			if policy != "" {
				b.Config.Fusion.Policy = policy
			}

			log.Info("burst loaded", "frames", len(b.Frames))
			log.Debug("effective config", "yaml", b.Config.AsYaml())

			e, err := burst.NewEngine(b.Config, log)
			if err != nil {
				return err
			}
			acc, report, err := e.ProcessBurst(b.Frames)
			if err != nil {
				return err
			}
			fmt.Print(report)

			switch strings.ToLower(filepath.Ext(output)) {
			case ".tif", ".tiff":
				err = acc.WriteTIFF(output)
			default:
				err = acc.WriteHDR(output)
			}
			if err != nil {
				return err
			}
			log.Info("output written", "file", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "fused.hdr", "output file (.hdr or .tif)")
	cmd.Flags().IntVar(&reference, "reference", -1, "index of the reference frame (default from config)")
	cmd.Flags().StringVar(&policy, "policy", "", "frames that fail to register: skip or identity")
	return cmd
}

func newDetectCmd(opts *options) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "detect <file>",
		Short: "Find keypoints in one frame, and draw them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, log, err := opts.load(args[0])
			if err != nil {
				return err
			}
			if len(b.Frames) != 1 {
				return fmt.Errorf("'%s': want one frame, found %d", args[0], len(b.Frames))
			}

			e, err := burst.NewEngine(b.Config, log)
			if err != nil {
				return err
			}
			f := b.Frames[0]
			kps, _ := e.Detect(f)
			fmt.Printf("%s: %d keypoints\n", f, len(kps))
			for i := 0; i < len(kps) && i < 10; i++ {
				fmt.Printf("  %s\n", kps[i])
			}

			title := filepath.Base(f.Filename)
			if err := surf.DrawKeyPoints(f.Image.ToRGBA64(), kps, e.Config().DetectScale, title, output); err != nil {
				return err
			}
			log.Info("keypoints drawn", "file", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "keypoints.png", "output PNG")
	return cmd
}

func newConfigCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "config [files|dirs]...",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, _, err := opts.load(args...)
			if err != nil {
				return err
			}
			if err := b.Config.Finalize(); err != nil {
				return err
			}
			fmt.Print(b.Config.AsYaml())
			return nil
		},
	}
}

func newSynthCmd() *cobra.Command {
	var (
		width, height, blobs int
		seed                 int64
	)

	cmd := &cobra.Command{
		Use:   "synth <dir>",
		Short: "Write a synthetic burst of shifted frames, for trying things out",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scene := synth.NewScene(seed, width, height, blobs)
			filenames, err := scene.WriteBurst(args[0], width, height, synth.DefaultShifts)
			if err != nil {
				return err
			}
			for i, f := range filenames {
				sh := synth.DefaultShifts[i]
				fmt.Printf("%s  shifted (%g,%g)\n", f, sh.X, sh.Y)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&width, "width", 640, "frame width")
	cmd.Flags().IntVar(&height, "height", 480, "frame height")
	cmd.Flags().IntVar(&blobs, "blobs", 600, "number of blobs in the scene")
	cmd.Flags().Int64Var(&seed, "seed", 1, "random seed")
	return cmd
}

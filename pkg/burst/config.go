package burst

import (
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/abworrall/burstfuse/pkg/homography"
	"github.com/abworrall/burstfuse/pkg/parallel"
	"github.com/abworrall/burstfuse/pkg/surf"
)

/* Example config file ...

reference: 0
detectscale: 0.5

detector:
  maxfeatures: 2000
  hessianthreshold: 100

ransac:
  inlierthreshold: 3
  maxiterations: 2000

match:
  ratio: 0.8

fusion:
  policy: skip

executor:
  kind: pool
  workers: 8

logging:
  level: debug

debug:
  dir: /tmp/burstfuse-debug
  layers: true

*/

// Policy says what to do with a frame whose homography could not be
// estimated.
type Policy int

const (
	PolicySkip     Policy = iota // leave the frame out of the fused image
	PolicyIdentity               // fuse it as-is, unwarped
)

func (p Policy) String() string {
	switch p {
	case PolicySkip:
		return "skip"
	case PolicyIdentity:
		return "identity"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

type MatchOptions struct {
	Ratio       float64 // Lowe's ratio test; 0 keeps every nearest neighbour
	MaxDistance float64 // 0 means no limit
}

type FusionOptions struct {
	Policy string

	// Values we derive
	policy Policy
}

type ExecutorOptions struct {
	Kind    string // pool, grid, sequential
	Workers int    // 0 means one per CPU
}

type LoggingOptions struct {
	Level  string // debug, info, warn, error
	Format string // text or json
}

type DebugOptions struct {
	Dir    string // where debug images go; empty means none are written
	Layers bool   // also dump the reference frame's scale-space
}

type Configuration struct {
	Reference   int     // index of the reference frame, after sorting by capture time
	DetectScale float64 // detect features on a plane this much smaller than the frames

	Detector surf.Config
	Ransac   homography.Config
	Match    MatchOptions
	Fusion   FusionOptions
	Executor ExecutorOptions
	Logging  LoggingOptions
	Debug    DebugOptions
}

func NewConfiguration() Configuration {
	return Configuration{
		DetectScale: 1.0,
		Detector:    surf.NewConfig(),
		Ransac:      homography.NewConfig(),
		Match:       MatchOptions{Ratio: 0.8},
		Fusion:      FusionOptions{Policy: "skip"},
		Executor:    ExecutorOptions{Kind: "pool"},
		Logging:     LoggingOptions{Level: "info", Format: "text"},
	}
}

func newConfigurationFromYaml(b []byte) (Configuration, error) {
	c := NewConfiguration()
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	return c, c.Finalize()
}

func LoadConfiguration(filename string) (Configuration, error) {
	contents, err := os.ReadFile(filename)
	if err != nil {
		return NewConfiguration(), fmt.Errorf("read '%s': %v", filename, err)
	}

	c, err := newConfigurationFromYaml(contents)
	if err != nil {
		return c, fmt.Errorf("parse '%s': %v", filename, err)
	}
	return c, nil
}

// Finalize does sanity checks, and maps names onto values.
func (c *Configuration) Finalize() error {
	if c.DetectScale == 0 {
		c.DetectScale = 1.0
	}
	if c.DetectScale < 0 || c.DetectScale > 1 {
		return fmt.Errorf("detectscale %f must be in (0,1]", c.DetectScale)
	}
	if c.Reference < 0 {
		return fmt.Errorf("reference %d is negative", c.Reference)
	}

	if err := c.Detector.Validate(); err != nil {
		return err
	}
	if err := c.Ransac.Validate(); err != nil {
		return err
	}
	if c.Match.Ratio < 0 || c.Match.Ratio > 1 {
		return fmt.Errorf("match ratio %f must be in [0,1]", c.Match.Ratio)
	}

	switch c.Fusion.Policy {
	case "", "skip":
		c.Fusion.policy = PolicySkip
	case "identity":
		c.Fusion.policy = PolicyIdentity
	default:
		return fmt.Errorf("no fusion policy named '%s'", c.Fusion.Policy)
	}

	if _, err := parallel.New(c.Executor.Kind, c.Executor.Workers); err != nil {
		return err
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("no logging format named '%s'", c.Logging.Format)
	}

	return nil
}

func (c Configuration) FailurePolicy() Policy { return c.Fusion.policy }

// NewExecutor builds the executor the configuration names.
func (c Configuration) NewExecutor() (parallel.Executor, error) {
	return parallel.New(c.Executor.Kind, c.Executor.Workers)
}

func (c Configuration) AsYaml() string {
	b, err := yaml.Marshal(c)
	if err != nil {
		log.Fatalf("Can't marshal config yaml: %v\n", err)
	}
	return string(b)
}

// Package config holds training and evaluation settings.
//
// Defaults reproduce the reference PASCAL VOC 2012 run. Every field can be
// overridden with a DEEPLAB_* environment variable; command-line flags are
// applied on top by cmd/deeplab.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config is the full run configuration.
type Config struct {
	// Data
	ImageDir   string
	MaskDir    string
	TrainSplit string
	ValSplit   string
	ImageSize  int
	Synthetic  int // >0 replaces VOC with this many synthetic samples
	Workers    int

	// Model
	NumClasses   int
	Depth        int
	BaseWidth    int
	OutputStride int
	Pretrained   string // safetensors ImageNet backbone

	// Optimisation
	BatchSize      int
	NSteps         int
	BaseLR         float64
	Power          float64
	Momentum       float64
	WeightDecay    float64
	MixedPrecision bool

	// Reporting and checkpoints
	PrintEvery    int
	EvalEvery     int
	SaveEvery     int
	CheckpointDir string
	Resume        string
	Seed          int64
	Debug         bool
}

// Default returns the reference configuration.
func Default() Config {
	return Config{
		ImageDir:   "/home/user/cv/voc2012/VOCdevkit/VOC2012/JPEGImages",
		MaskDir:    "/home/user/cv/SegmentationClassAug",
		TrainSplit: "train",
		ValSplit:   "val",
		ImageSize:  513,

		NumClasses:   21,
		Depth:        101,
		BaseWidth:    64,
		OutputStride: 16,

		BatchSize:      16,
		NSteps:         300_000,
		BaseLR:         1,
		Power:          0.9,
		WeightDecay:    0.0005,
		MixedPrecision: true,

		PrintEvery:    100,
		EvalEvery:     1000,
		CheckpointDir: "checkpoints",
	}
}

// Load returns the defaults with environment overrides applied.
func Load() Config {
	cfg := Default()
	cfg.ApplyEnv()
	return cfg
}

// Validate checks value ranges. Model-shape constraints (depth, output
// stride) are checked again by the model constructor.
func (c Config) Validate() error {
	var errs []error
	positive := func(name string, v int) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	positive("batch size", c.BatchSize)
	positive("steps", c.NSteps)
	positive("num classes", c.NumClasses)
	positive("base width", c.BaseWidth)
	positive("print interval", c.PrintEvery)
	positive("eval interval", c.EvalEvery)

	if c.ImageSize < 0 {
		errs = append(errs, fmt.Errorf("image size must not be negative, got %d", c.ImageSize))
	}
	if c.SaveEvery < 0 {
		errs = append(errs, fmt.Errorf("save interval must not be negative, got %d", c.SaveEvery))
	}
	if c.OutputStride != 8 && c.OutputStride != 16 {
		errs = append(errs, fmt.Errorf("output stride must be 8 or 16, got %d", c.OutputStride))
	}
	if c.BaseLR <= 0 {
		errs = append(errs, fmt.Errorf("base learning rate must be positive, got %g", c.BaseLR))
	}
	if c.Power <= 0 {
		errs = append(errs, fmt.Errorf("poly power must be positive, got %g", c.Power))
	}
	if c.Momentum < 0 || c.Momentum >= 1 {
		errs = append(errs, fmt.Errorf("momentum must be in [0, 1), got %g", c.Momentum))
	}
	if c.WeightDecay < 0 {
		errs = append(errs, fmt.Errorf("weight decay must not be negative, got %g", c.WeightDecay))
	}
	if c.Synthetic == 0 && (c.ImageDir == "" || c.MaskDir == "") {
		errs = append(errs, errors.New("image and mask directories are required"))
	}
	return errors.Join(errs...)
}

// LogLevel maps Debug to a slog level.
func (c Config) LogLevel() slog.Level {
	if c.Debug {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// Var returns an environment variable with surrounding quotes and spaces
// removed.
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

// EnvVar describes one environment override.
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

type envBinding struct {
	name string
	desc string
	get  func(*Config) any
	set  func(*Config, string) error
}

func stringVar(name, desc string, field func(*Config) *string) envBinding {
	return envBinding{name, desc,
		func(c *Config) any { return *field(c) },
		func(c *Config, s string) error { *field(c) = s; return nil },
	}
}

func intVar(name, desc string, field func(*Config) *int) envBinding {
	return envBinding{name, desc,
		func(c *Config) any { return *field(c) },
		func(c *Config, s string) error {
			n, err := strconv.Atoi(strings.ReplaceAll(s, "_", ""))
			if err != nil {
				return err
			}
			*field(c) = n
			return nil
		},
	}
}

func int64Var(name, desc string, field func(*Config) *int64) envBinding {
	return envBinding{name, desc,
		func(c *Config) any { return *field(c) },
		func(c *Config, s string) error {
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return err
			}
			*field(c) = n
			return nil
		},
	}
}

func floatVar(name, desc string, field func(*Config) *float64) envBinding {
	return envBinding{name, desc,
		func(c *Config) any { return *field(c) },
		func(c *Config, s string) error {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return err
			}
			*field(c) = f
			return nil
		},
	}
}

func boolVar(name, desc string, field func(*Config) *bool) envBinding {
	return envBinding{name, desc,
		func(c *Config) any { return *field(c) },
		func(c *Config, s string) error {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return err
			}
			*field(c) = b
			return nil
		},
	}
}

var bindings = []envBinding{
	stringVar("DEEPLAB_IMAGE_DIR", "Directory of input JPEG images", func(c *Config) *string { return &c.ImageDir }),
	stringVar("DEEPLAB_MASK_DIR", "Directory of ground-truth PNG masks", func(c *Config) *string { return &c.MaskDir }),
	stringVar("DEEPLAB_TRAIN_SPLIT", "Training split name or list file", func(c *Config) *string { return &c.TrainSplit }),
	stringVar("DEEPLAB_VAL_SPLIT", "Validation split name or list file", func(c *Config) *string { return &c.ValSplit }),
	intVar("DEEPLAB_IMAGE_SIZE", "Square training resolution (default 513)", func(c *Config) *int { return &c.ImageSize }),
	intVar("DEEPLAB_SYNTHETIC", "Train on this many synthetic samples instead of VOC", func(c *Config) *int { return &c.Synthetic }),
	intVar("DEEPLAB_WORKERS", "Data loading workers (default GOMAXPROCS)", func(c *Config) *int { return &c.Workers }),
	intVar("DEEPLAB_NUM_CLASSES", "Number of classes (default 21)", func(c *Config) *int { return &c.NumClasses }),
	intVar("DEEPLAB_DEPTH", "ResNet depth: 50, 101 or 152 (default 101)", func(c *Config) *int { return &c.Depth }),
	intVar("DEEPLAB_BASE_WIDTH", "ResNet stem width (default 64)", func(c *Config) *int { return &c.BaseWidth }),
	intVar("DEEPLAB_OUTPUT_STRIDE", "Backbone output stride: 8 or 16 (default 16)", func(c *Config) *int { return &c.OutputStride }),
	stringVar("DEEPLAB_PRETRAINED", "ImageNet backbone weights (safetensors)", func(c *Config) *string { return &c.Pretrained }),
	intVar("DEEPLAB_BATCH_SIZE", "Training batch size (default 16)", func(c *Config) *int { return &c.BatchSize }),
	intVar("DEEPLAB_STEPS", "Total training steps (default 300000)", func(c *Config) *int { return &c.NSteps }),
	floatVar("DEEPLAB_LR", "Base learning rate scaling the poly schedule (default 1)", func(c *Config) *float64 { return &c.BaseLR }),
	floatVar("DEEPLAB_POWER", "Poly schedule power (default 0.9)", func(c *Config) *float64 { return &c.Power }),
	floatVar("DEEPLAB_MOMENTUM", "SGD momentum (default 0)", func(c *Config) *float64 { return &c.Momentum }),
	floatVar("DEEPLAB_WEIGHT_DECAY", "SGD weight decay (default 0.0005)", func(c *Config) *float64 { return &c.WeightDecay }),
	boolVar("DEEPLAB_AMP", "Half-precision convolutions with loss scaling (default true)", func(c *Config) *bool { return &c.MixedPrecision }),
	intVar("DEEPLAB_PRINT_EVERY", "Steps between loss lines (default 100)", func(c *Config) *int { return &c.PrintEvery }),
	intVar("DEEPLAB_EVAL_EVERY", "Steps between evaluations (default 1000)", func(c *Config) *int { return &c.EvalEvery }),
	intVar("DEEPLAB_SAVE_EVERY", "Steps between checkpoints, 0 saves only at the end", func(c *Config) *int { return &c.SaveEvery }),
	stringVar("DEEPLAB_CHECKPOINT_DIR", "Checkpoint directory (default checkpoints)", func(c *Config) *string { return &c.CheckpointDir }),
	stringVar("DEEPLAB_RESUME", "Checkpoint to resume from", func(c *Config) *string { return &c.Resume }),
	int64Var("DEEPLAB_SEED", "Random seed", func(c *Config) *int64 { return &c.Seed }),
	boolVar("DEEPLAB_DEBUG", "Show additional debug information", func(c *Config) *bool { return &c.Debug }),
}

// ApplyEnv overrides fields from set DEEPLAB_* variables. Malformed values
// are logged and ignored.
func (c *Config) ApplyEnv() {
	for _, b := range bindings {
		s := Var(b.name)
		if s == "" {
			continue
		}
		if err := b.set(c, s); err != nil {
			slog.Warn("invalid environment variable, using default", "key", b.name, "value", s, "default", b.get(c))
		}
	}
}

// EnvVars lists every override with its current value.
func (c Config) EnvVars() []EnvVar {
	vars := make([]EnvVar, len(bindings))
	for i, b := range bindings {
		vars[i] = EnvVar{Name: b.name, Value: b.get(&c), Description: b.desc}
	}
	return vars
}

package main

import (
	"io"
	"log/slog"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/born-ml/deeplab/internal/config"
	"github.com/born-ml/deeplab/internal/data"
	"github.com/born-ml/deeplab/internal/model"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "v0.1.0-dev"

// NewCLI builds the root command.
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "deeplab",
		Short:         "DeepLabv3 semantic segmentation",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Run: func(cmd *cobra.Command, args []string) {
			if v, _ := cmd.Flags().GetBool("version"); v {
				versionHandler(cmd, args)
				return
			}
			cmd.Print(cmd.UsageString())
		},
	}
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	rootCmd.AddCommand(
		newTrainCmd(),
		newEvalCmd(),
		newSummaryCmd(),
		newEnvCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Show version information",
			Args:  cobra.NoArgs,
			Run:   versionHandler,
		},
	)
	return rootCmd
}

func versionHandler(cmd *cobra.Command, _ []string) {
	cmd.Printf("deeplab version %s\n", version)
}

// addModelFlags binds the flags shared by every command that builds a model.
func addModelFlags(cmd *cobra.Command, cfg *config.Config) {
	fs := cmd.Flags()
	fs.IntVar(&cfg.NumClasses, "num-classes", cfg.NumClasses, "Number of segmentation classes")
	fs.IntVar(&cfg.Depth, "depth", cfg.Depth, "ResNet depth (50, 101 or 152)")
	fs.IntVar(&cfg.BaseWidth, "base-width", cfg.BaseWidth, "ResNet stem width")
	fs.IntVar(&cfg.OutputStride, "output-stride", cfg.OutputStride, "Backbone output stride (8 or 16)")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logging")
}

// addDataFlags binds the dataset flags.
func addDataFlags(cmd *cobra.Command, cfg *config.Config) {
	fs := cmd.Flags()
	fs.StringVar(&cfg.ImageDir, "images", cfg.ImageDir, "Directory of JPEG images")
	fs.StringVar(&cfg.MaskDir, "masks", cfg.MaskDir, "Directory of PNG label masks")
	fs.StringVar(&cfg.ValSplit, "val-split", cfg.ValSplit, "Validation split name")
	fs.IntVar(&cfg.ImageSize, "image-size", cfg.ImageSize, "Square input resolution, 0 keeps the source size")
	fs.IntVar(&cfg.Synthetic, "synthetic", cfg.Synthetic, "Use this many synthetic samples instead of VOC")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "Concurrent sample loads per batch")
	fs.Int64Var(&cfg.Seed, "seed", cfg.Seed, "Random seed")
}

func newLogger(w io.Writer, cfg config.Config) *slog.Logger {
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: cfg.LogLevel()}))
	slog.SetDefault(logger)
	return logger
}

func modelConfig(cfg config.Config) model.Config {
	mc := model.DefaultConfig()
	mc.NumClasses = cfg.NumClasses
	mc.Depth = cfg.Depth
	mc.BaseWidth = cfg.BaseWidth
	mc.OutputStride = cfg.OutputStride
	return mc
}

// syntheticSize is the resolution of synthetic samples when no image size
// is configured.
const syntheticSize = 64

// datasets returns the training and validation sets described by cfg.
func datasets(cfg config.Config) (trainSet, valSet data.Dataset, err error) {
	if cfg.Synthetic > 0 {
		trainSet, err = data.NewSynthetic(cfg.Synthetic, syntheticImageSize(cfg), cfg.NumClasses, cfg.Seed)
	} else {
		trainSet, err = data.NewVOC2012(data.VOCConfig{
			ImageDir:  cfg.ImageDir,
			MaskDir:   cfg.MaskDir,
			Split:     cfg.TrainSplit,
			ImageSize: cfg.ImageSize,
			Augment:   true,
			Seed:      cfg.Seed,
		})
	}
	if err != nil {
		return nil, nil, err
	}
	valSet, err = validationSet(cfg)
	if err != nil {
		return nil, nil, err
	}
	return trainSet, valSet, nil
}

// validationSet is never augmented. The synthetic variant holds a quarter
// as many samples drawn from a different seed.
func validationSet(cfg config.Config) (data.Dataset, error) {
	if cfg.Synthetic > 0 {
		return data.NewSynthetic(max(1, cfg.Synthetic/4), syntheticImageSize(cfg), cfg.NumClasses, cfg.Seed+1)
	}
	return data.NewVOC2012(data.VOCConfig{
		ImageDir:  cfg.ImageDir,
		MaskDir:   cfg.MaskDir,
		Split:     cfg.ValSplit,
		ImageSize: cfg.ImageSize,
		Seed:      cfg.Seed,
	})
}

func syntheticImageSize(cfg config.Config) int {
	if cfg.ImageSize == 0 {
		return syntheticSize
	}
	return cfg.ImageSize
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	return table
}

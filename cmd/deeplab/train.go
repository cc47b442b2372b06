package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/born-ml/deeplab/internal/config"
	"github.com/born-ml/deeplab/internal/data"
	"github.com/born-ml/deeplab/internal/model"
	"github.com/born-ml/deeplab/internal/optim"
	"github.com/born-ml/deeplab/internal/train"
)

func newTrainCmd() *cobra.Command {
	cfg := config.Load()

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train DeepLabv3 on PASCAL VOC 2012 or synthetic data",
		Long: `Train DeepLabv3 with SGD and the poly learning-rate schedule.

Progress lines are written to stdout every --print-every steps and the mean
validation mIoU every --eval-every steps. Logs go to stderr. Every flag
defaults to its DEEPLAB_* environment variable (see "deeplab env").`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return trainHandler(cmd, cfg)
		},
	}

	addModelFlags(cmd, &cfg)
	addDataFlags(cmd, &cfg)

	fs := cmd.Flags()
	fs.StringVar(&cfg.TrainSplit, "train-split", cfg.TrainSplit, "Training split name")
	fs.StringVar(&cfg.Pretrained, "pretrained", cfg.Pretrained, "ImageNet ResNet weights (safetensors)")
	fs.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Training batch size")
	fs.IntVar(&cfg.NSteps, "steps", cfg.NSteps, "Total optimisation steps")
	fs.Float64Var(&cfg.BaseLR, "lr", cfg.BaseLR, "Base learning rate")
	fs.Float64Var(&cfg.Power, "power", cfg.Power, "Poly schedule power")
	fs.Float64Var(&cfg.Momentum, "momentum", cfg.Momentum, "SGD momentum")
	fs.Float64Var(&cfg.WeightDecay, "weight-decay", cfg.WeightDecay, "SGD weight decay")
	fs.BoolVar(&cfg.MixedPrecision, "amp", cfg.MixedPrecision, "Half-precision convolutions with loss scaling")
	fs.IntVar(&cfg.PrintEvery, "print-every", cfg.PrintEvery, "Steps between loss lines")
	fs.IntVar(&cfg.EvalEvery, "eval-every", cfg.EvalEvery, "Steps between evaluations")
	fs.IntVar(&cfg.SaveEvery, "save-every", cfg.SaveEvery, "Steps between checkpoints (0: only at the end)")
	fs.StringVar(&cfg.CheckpointDir, "checkpoint-dir", cfg.CheckpointDir, "Checkpoint directory, empty disables saving")
	fs.StringVar(&cfg.Resume, "resume", cfg.Resume, "Checkpoint to resume from")

	return cmd
}

func trainHandler(cmd *cobra.Command, cfg config.Config) error {
	logger := newLogger(os.Stderr, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	backend, cast := train.NewBackend()
	m, err := model.New(modelConfig(cfg), backend)
	if err != nil {
		return err
	}
	if cfg.Pretrained != "" {
		if err := m.LoadPretrainedBackbone(cfg.Pretrained, backend); err != nil {
			return err
		}
		logger.Info("loaded pretrained backbone", "path", cfg.Pretrained)
	}

	trainSet, valSet, err := datasets(cfg)
	if err != nil {
		return err
	}
	trainLoader, err := data.NewLoader(trainSet, data.LoaderConfig{
		BatchSize: cfg.BatchSize,
		Shuffle:   true,
		DropLast:  true,
		Workers:   cfg.Workers,
		Seed:      cfg.Seed,
	})
	if err != nil {
		return fmt.Errorf("train loader: %w", err)
	}
	valLoader, err := data.NewLoader(valSet, data.LoaderConfig{BatchSize: 1, Workers: cfg.Workers})
	if err != nil {
		return fmt.Errorf("val loader: %w", err)
	}
	logger.Debug("datasets ready", "train", trainSet.Len(), "val", valSet.Len(), "batches", trainLoader.Len())

	opt := optim.NewSGD(m.Parameters(), optim.SGDConfig{
		LR:          float32(cfg.BaseLR),
		Momentum:    float32(cfg.Momentum),
		WeightDecay: float32(cfg.WeightDecay),
	}, backend)

	trainer, err := train.New(train.Options{
		NSteps:         cfg.NSteps,
		PrintEvery:     cfg.PrintEvery,
		EvalEvery:      cfg.EvalEvery,
		SaveEvery:      cfg.SaveEvery,
		BaseLR:         float32(cfg.BaseLR),
		Power:          cfg.Power,
		MixedPrecision: cfg.MixedPrecision,
		NumClasses:     cfg.NumClasses,
		CheckpointDir:  cfg.CheckpointDir,
		Out:            cmd.OutOrStdout(),
		Logger:         logger,
	}, backend, cast, m, opt, trainLoader, valLoader)
	if err != nil {
		return err
	}

	if cfg.Resume != "" {
		if err := trainer.Load(cfg.Resume); err != nil {
			return err
		}
	}

	return trainer.Run(cmd.Context())
}

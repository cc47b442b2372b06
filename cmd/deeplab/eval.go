package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/born-ml/deeplab/internal/backend/cpu"
	"github.com/born-ml/deeplab/internal/config"
	"github.com/born-ml/deeplab/internal/data"
	"github.com/born-ml/deeplab/internal/metric"
	"github.com/born-ml/deeplab/internal/model"
	"github.com/born-ml/deeplab/internal/train"
)

func newEvalCmd() *cobra.Command {
	cfg := config.Load()

	cmd := &cobra.Command{
		Use:   "eval CHECKPOINT",
		Short: "Report the mean validation mIoU of a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return evalHandler(cmd, cfg, args[0])
		},
	}
	addModelFlags(cmd, &cfg)
	addDataFlags(cmd, &cfg)
	return cmd
}

func evalHandler(cmd *cobra.Command, cfg config.Config, path string) error {
	logger := newLogger(os.Stderr, cfg)

	backend := cpu.New()
	m, err := model.New(modelConfig(cfg), backend)
	if err != nil {
		return err
	}
	meta, err := train.LoadModel[*cpu.CPUBackend](m, path, backend)
	if err != nil {
		return err
	}
	logger.Info("loaded checkpoint", "path", path, "step", meta[train.MetaStep], "run_id", meta[train.MetaRunID])

	valSet, err := validationSet(cfg)
	if err != nil {
		return err
	}
	loader, err := data.NewLoader(valSet, data.LoaderConfig{BatchSize: 1, Workers: cfg.Workers})
	if err != nil {
		return err
	}

	miou, err := train.Evaluate[*cpu.CPUBackend](cmd.Context(), m, backend, loader, metric.PixelMIoU{
		NumClasses:  cfg.NumClasses,
		IgnoreIndex: data.IgnoreLabel,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "[ Average mIoU: %.4f ]\n", miou)
	return nil
}

// Package train runs the DeepLabv3 training loop: poly learning-rate
// schedule, mixed-precision forward pass, loss-scaled backward pass, SGD
// step, periodic progress lines, validation mIoU and checkpoints.
package train

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/born-ml/deeplab/internal/amp"
	"github.com/born-ml/deeplab/internal/autodiff"
	"github.com/born-ml/deeplab/internal/backend/cpu"
	"github.com/born-ml/deeplab/internal/data"
	"github.com/born-ml/deeplab/internal/metric"
	"github.com/born-ml/deeplab/internal/model"
	"github.com/born-ml/deeplab/internal/nn"
	"github.com/born-ml/deeplab/internal/optim"
	"github.com/born-ml/deeplab/internal/tensor"
)

// Backend is the training stack: autodiff over autocast over the CPU.
type Backend = *autodiff.AutodiffBackend[*amp.Autocast]

// Model is a DeepLabv3 on the training stack.
type Model = model.DeepLabv3[Backend]

// NewBackend builds the training stack and returns its autocast layer,
// which the trainer toggles around forward passes.
func NewBackend(opts ...cpu.Option) (Backend, *amp.Autocast) {
	cast := amp.NewAutocast(cpu.New(opts...))
	return autodiff.New(cast), cast
}

// Options configures a run.
type Options struct {
	NSteps     int
	PrintEvery int
	EvalEvery  int
	SaveEvery  int // 0 saves only at the end
	BaseLR     float32
	Power      float64

	MixedPrecision bool
	NumClasses     int
	CheckpointDir  string // empty disables checkpoints

	Out    io.Writer    // progress lines; os.Stdout when nil
	Logger *slog.Logger // slog.Default() when nil
	Now    func() time.Time
}

// Trainer owns one training run. It is driven by a single goroutine.
type Trainer struct {
	opts     Options
	backend  Backend
	cast     *amp.Autocast
	model    *Model
	opt      optim.Optimizer
	sched    optim.PolyScheduler
	scaler   *amp.GradScaler
	loss     *nn.CrossEntropy2D[Backend]
	metric   metric.PixelMIoU
	train    *data.Loader
	val      *data.Loader
	progress *progress
	log      *slog.Logger

	step  int // last completed step
	runID uuid.UUID
}

// New creates a trainer. val may be nil to disable evaluation.
func New(
	opts Options,
	backend Backend,
	cast *amp.Autocast,
	m *Model,
	opt optim.Optimizer,
	train, val *data.Loader,
) (*Trainer, error) {
	if opts.NSteps <= 0 || opts.PrintEvery <= 0 || opts.EvalEvery <= 0 {
		return nil, fmt.Errorf("invalid step counts: steps=%d print=%d eval=%d", opts.NSteps, opts.PrintEvery, opts.EvalEvery)
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NumClasses == 0 {
		opts.NumClasses = m.Config().NumClasses
	}

	scalerCfg := amp.DefaultScalerConfig()
	scalerCfg.Enabled = opts.MixedPrecision
	scaler, err := amp.NewGradScaler(scalerCfg)
	if err != nil {
		return nil, err
	}

	runID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("run id: %w", err)
	}

	return &Trainer{
		opts:     opts,
		backend:  backend,
		cast:     cast,
		model:    m,
		opt:      opt,
		sched:    optim.PolyScheduler{BaseLR: opts.BaseLR, NSteps: opts.NSteps, Power: opts.Power},
		scaler:   scaler,
		loss:     nn.NewCrossEntropy2D(data.IgnoreLabel, backend),
		metric:   metric.PixelMIoU{NumClasses: opts.NumClasses, IgnoreIndex: data.IgnoreLabel},
		train:    train,
		val:      val,
		progress: newProgress(opts.Out, opts.NSteps),
		log:      opts.Logger,
		runID:    runID,
	}, nil
}

// Step returns the last completed step.
func (t *Trainer) Step() int { return t.step }

// RunID identifies the run in checkpoints and logs.
func (t *Trainer) RunID() uuid.UUID { return t.runID }

// Run trains from the step after the last completed one through NSteps. It
// returns ctx.Err() when cancelled between steps.
func (t *Trainer) Run(ctx context.Context) error {
	t.log.Info("training started",
		"run_id", t.runID,
		"from_step", t.step+1,
		"steps", t.opts.NSteps,
		"parameters", nn.NumParameters[Backend](t.model),
		"mixed_precision", t.opts.MixedPrecision)

	start := t.opts.Now()
	var running float64
	for step := t.step + 1; step <= t.opts.NSteps; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		t.model.SetTraining(true)

		batch, err := t.train.NextCycle(ctx)
		if err != nil {
			return fmt.Errorf("step %d: %w", step, err)
		}

		lr := t.sched.Step(t.opt, step)
		loss, err := t.trainStep(batch)
		if err != nil {
			return fmt.Errorf("step %d: %w", step, err)
		}
		running += loss
		t.step = step

		if step%t.opts.PrintEvery == 0 {
			running /= float64(t.opts.PrintEvery)
			t.progress.loss(step, lr, t.opts.Now().Sub(start), running)
			start = t.opts.Now()
			running = 0
		}

		if step%t.opts.EvalEvery == 0 && t.val != nil {
			start = t.opts.Now()
			miou, err := t.Evaluate(ctx)
			if err != nil {
				return fmt.Errorf("step %d: evaluate: %w", step, err)
			}
			t.progress.miou(step, lr, t.opts.Now().Sub(start), miou)
		}

		if t.opts.SaveEvery > 0 && step%t.opts.SaveEvery == 0 && step != t.opts.NSteps {
			if _, err := t.saveStep(); err != nil {
				return err
			}
		}
	}

	if _, err := t.saveStep(); err != nil {
		return err
	}
	t.log.Info("training finished", "run_id", t.runID, "steps", t.step)
	return nil
}

// trainStep runs one optimisation step and returns the (unscaled) loss.
func (t *Trainer) trainStep(batch *data.Batch) (float64, error) {
	images := tensor.New[float32](batch.Images, t.backend)
	masks := tensor.New[int32](batch.Masks, t.backend)

	tape := t.backend.Tape()
	tape.Clear()
	tape.StartRecording()
	defer func() {
		tape.StopRecording()
		tape.Clear()
	}()

	t.opt.ZeroGrad()

	if t.opts.MixedPrecision {
		t.cast.Enable()
	}
	logits := t.model.Forward(images)
	t.cast.Disable()

	loss := t.loss.Forward(logits, masks)
	grads, err := autodiff.BackwardScaled(loss, t.backend, t.scaler.Scale())
	if err != nil {
		return 0, fmt.Errorf("backward: %w", err)
	}

	if !t.scaler.Step(t.opt, grads) {
		t.log.Debug("non-finite gradients, step skipped", "step", t.step+1, "scale", t.scaler.Scale())
	}
	t.scaler.Update()
	return float64(loss.Item()), nil
}

// Evaluate runs the model in eval mode over the whole validation loader
// and returns the mean of the per-batch mIoU.
func (t *Trainer) Evaluate(ctx context.Context) (float64, error) {
	if t.val == nil {
		return 0, errors.New("no validation data")
	}
	return Evaluate[Backend](ctx, t.model, t.backend, t.val, t.metric)
}

// Evaluate scores m on every batch of loader. The tape is not recording and
// batch norm uses its running statistics.
func Evaluate[B tensor.Backend](
	ctx context.Context,
	m nn.Module[B],
	backend B,
	loader *data.Loader,
	pm metric.PixelMIoU,
) (float64, error) {
	nn.SetTraining(m, false)
	defer nn.SetTraining(m, true)

	loader.Reset()
	var mean metric.Mean
	for {
		batch, err := loader.Next(ctx)
		if errors.Is(err, data.ErrExhausted) {
			break
		}
		if err != nil {
			return 0, err
		}

		logits := m.Forward(tensor.New[float32](batch.Images, backend))
		miou, err := metric.Compute(pm, logits, tensor.New[int32](batch.Masks, backend))
		if err != nil {
			return 0, err
		}
		mean.Add(miou)
	}
	return mean.Value(), nil
}

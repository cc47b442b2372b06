package train

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/deeplab/internal/data"
	"github.com/born-ml/deeplab/internal/metric"
	"github.com/born-ml/deeplab/internal/model"
	"github.com/born-ml/deeplab/internal/nn"
	"github.com/born-ml/deeplab/internal/optim"
	"github.com/born-ml/deeplab/internal/tensor"
)

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0:00:00"},
		{1499 * time.Millisecond, "0:00:01"},
		{161 * time.Second, "0:02:41"},
		{26*time.Hour + 3*time.Minute + 9*time.Second, "26:03:09"},
		{-time.Second, "0:00:00"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatElapsed(tt.d), tt.d.String())
	}
}

func TestProgressLines(t *testing.T) {
	var buf bytes.Buffer
	pr := newProgress(&buf, 300_000)

	pr.loss(1000, 0.99801, 161*time.Second, 0.41271)
	pr.miou(1000, 0.99801, 303*time.Second, 0.63214)

	assert.Equal(t,
		"[ 1,000/300,000 ][ 0.998010 ][ 0:02:41 ][ Loss: 0.4127 ]\n"+
			"[ 1,000/300,000 ][ 0.998010 ][ 0:05:03 ][ Average mIoU: 0.6321 ]\n",
		buf.String())
}

type fixture struct {
	trainer *Trainer
	model   *Model
	val     *data.Loader
	backend Backend
	out     *bytes.Buffer
}

// tickingClock advances one second per call.
func tickingClock() func() time.Time {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	backend, cast := NewBackend()

	m, err := model.New(model.Config{
		NumClasses: 3, Depth: 50, BaseWidth: 2, OutputStride: 16, MultiGrid: [3]int{1, 2, 4},
	}, backend)
	require.NoError(t, err)

	ds, err := data.NewSynthetic(6, 16, 3, 1)
	require.NoError(t, err)
	train, err := data.NewLoader(ds, data.LoaderConfig{BatchSize: 2, Shuffle: true, DropLast: true, Workers: 2})
	require.NoError(t, err)
	valDS, err := data.NewSynthetic(3, 16, 3, 100)
	require.NoError(t, err)
	val, err := data.NewLoader(valDS, data.LoaderConfig{BatchSize: 1})
	require.NoError(t, err)

	opt := optim.NewSGD(m.Parameters(), optim.SGDConfig{LR: 0.01, Momentum: 0.9, WeightDecay: 5e-4}, backend)

	out := &bytes.Buffer{}
	opts.Out = out
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	opts.Now = tickingClock()
	if opts.BaseLR == 0 {
		opts.BaseLR = 0.01
	}
	if opts.Power == 0 {
		opts.Power = 0.9
	}

	tr, err := New(opts, backend, cast, m, opt, train, val)
	require.NoError(t, err)
	return &fixture{trainer: tr, model: m, val: val, backend: backend, out: out}
}

func TestTrainer_Run(t *testing.T) {
	f := newFixture(t, Options{
		NSteps: 4, PrintEvery: 2, EvalEvery: 4, MixedPrecision: true,
	})
	before := f.model.Head().Parameters()[0].Tensor().Raw().Clone()

	require.NoError(t, f.trainer.Run(context.Background()))
	assert.Equal(t, 4, f.trainer.Step())

	lines := strings.Split(strings.TrimSpace(f.out.String()), "\n")
	require.Len(t, lines, 3, f.out.String())
	assert.Regexp(t, `^\[ 2/4 \]\[ 0\.00464\d \]\[ 0:00:01 \]\[ Loss: \d+\.\d{4} \]$`, lines[0])
	assert.Regexp(t, `^\[ 4/4 \]\[ 0\.000000 \]\[ 0:00:01 \]\[ Loss: \d+\.\d{4} \]$`, lines[1])
	assert.Regexp(t, `^\[ 4/4 \]\[ 0\.000000 \]\[ 0:00:01 \]\[ Average mIoU: [01]\.\d{4} \]$`, lines[2])

	after := f.model.Head().Parameters()[0].Tensor().Raw().AsFloat32()
	assert.NotEqual(t, before.AsFloat32(), after, "parameters were updated")
}

func TestTrainer_LossIsFinite(t *testing.T) {
	f := newFixture(t, Options{NSteps: 2, PrintEvery: 1, EvalEvery: 100})
	require.NoError(t, f.trainer.Run(context.Background()))

	re := regexp.MustCompile(`Loss: (\S+) \]`)
	matches := re.FindAllStringSubmatch(f.out.String(), -1)
	require.Len(t, matches, 2)
	for _, m := range matches {
		assert.NotContains(t, m[1], "NaN")
		assert.NotContains(t, m[1], "Inf")
	}
}

func TestTrainer_Evaluate_MeanOfBatches(t *testing.T) {
	f := newFixture(t, Options{NSteps: 1, PrintEvery: 1, EvalEvery: 1})

	got, err := f.trainer.Evaluate(context.Background())
	require.NoError(t, err)

	nn.SetTraining[Backend](f.model, false)
	pm := metric.PixelMIoU{NumClasses: 3, IgnoreIndex: data.IgnoreLabel}
	f.val.Reset()
	var sum float64
	n := 0
	for {
		b, err := f.val.Next(context.Background())
		if errors.Is(err, data.ErrExhausted) {
			break
		}
		require.NoError(t, err)
		miou, err := metric.Compute(pm,
			f.model.Forward(tensor.New[float32](b.Images, f.backend)),
			tensor.New[int32](b.Masks, f.backend))
		require.NoError(t, err)
		sum += miou
		n++
	}
	require.Equal(t, 3, n)
	assert.InDelta(t, sum/3, got, 1e-12)
}

func TestTrainer_CheckpointRoundTrip(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, Options{
		NSteps: 4, PrintEvery: 2, EvalEvery: 100, SaveEvery: 2, CheckpointDir: dir,
	})
	require.NoError(t, f.trainer.Run(context.Background()))

	for _, step := range []int{2, 4} {
		_, err := os.Stat(CheckpointPath(dir, step))
		assert.NoError(t, err, "checkpoint for step %d", step)
	}

	g := newFixture(t, Options{NSteps: 4, PrintEvery: 2, EvalEvery: 100})
	require.NoError(t, g.trainer.Load(CheckpointPath(dir, 4)))
	assert.Equal(t, 4, g.trainer.Step())
	assert.Equal(t, f.trainer.RunID(), g.trainer.RunID())

	want := nn.StateDict[Backend](f.model)
	for name, got := range nn.StateDict[Backend](g.model) {
		assert.Equal(t, want[name].AsFloat32(), got.AsFloat32(), name)
	}

	// Nothing left to train.
	require.NoError(t, g.trainer.Run(context.Background()))
	assert.Empty(t, g.out.String())
}

func TestLoadModel(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, Options{NSteps: 1, PrintEvery: 1, EvalEvery: 100, CheckpointDir: dir})
	require.NoError(t, f.trainer.Run(context.Background()))

	g := newFixture(t, Options{NSteps: 1, PrintEvery: 1, EvalEvery: 100})
	meta, err := LoadModel[Backend](g.model, CheckpointPath(dir, 1), g.backend)
	require.NoError(t, err)
	assert.Equal(t, "1", meta[MetaStep])

	want := f.model.Parameters()
	for i, p := range g.model.Parameters() {
		assert.Equal(t, want[i].Tensor().Data(), p.Tensor().Data(), p.Name())
	}

	require.Error(t, g.trainer.Load(CheckpointPath(dir, 2)))
}

func TestTrainer_Cancelled(t *testing.T) {
	f := newFixture(t, Options{NSteps: 10, PrintEvery: 1, EvalEvery: 10})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.trainer.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, f.trainer.Step())
}

func TestNew_InvalidOptions(t *testing.T) {
	backend, cast := NewBackend()
	m, err := model.New(model.Config{NumClasses: 2, Depth: 50, BaseWidth: 2, OutputStride: 16}, backend)
	require.NoError(t, err)
	opt := optim.NewSGD(m.Parameters(), optim.SGDConfig{}, backend)

	_, err = New(Options{NSteps: 0, PrintEvery: 1, EvalEvery: 1}, backend, cast, m, opt, nil, nil)
	assert.Error(t, err)
}

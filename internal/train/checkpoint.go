package train

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/born-ml/deeplab/internal/nn"
	"github.com/born-ml/deeplab/internal/serialization"
	"github.com/born-ml/deeplab/internal/tensor"
)

// Checkpoint metadata keys and the optimizer state prefix.
const (
	MetaFormat      = "format"
	MetaStep        = "step"
	MetaRunID       = "run_id"
	MetaLossScale   = "loss_scale"
	MetaGrowthCount = "growth_count"

	checkpointFormat = "deeplabv3"
	optimizerPrefix  = "optimizer."
)

// CheckpointPath returns the file name used for step under dir.
func CheckpointPath(dir string, step int) string {
	return filepath.Join(dir, fmt.Sprintf("step-%07d.safetensors", step))
}

func (t *Trainer) saveStep() (string, error) {
	if t.opts.CheckpointDir == "" {
		return "", nil
	}
	path := CheckpointPath(t.opts.CheckpointDir, t.step)
	if err := t.Save(path); err != nil {
		return "", err
	}
	return path, nil
}

// Save writes model parameters, batch-norm statistics, optimizer state and
// loss-scaler state to a safetensors file.
func (t *Trainer) Save(path string) error {
	sd := nn.StateDict[Backend](t.model)
	for name, v := range t.opt.StateDict() {
		sd[optimizerPrefix+name] = v
	}

	scale, growth := t.scaler.State()
	meta := map[string]string{
		MetaFormat:      checkpointFormat,
		MetaStep:        strconv.Itoa(t.step),
		MetaRunID:       t.runID.String(),
		MetaLossScale:   strconv.FormatFloat(float64(scale), 'g', -1, 32),
		MetaGrowthCount: strconv.Itoa(growth),
	}

	if err := serialization.WriteFile(path, sd, meta, serialization.WriteOptions{}); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	t.log.Info("checkpoint saved", "path", path, "step", t.step, "tensors", len(sd))
	return nil
}

// Load restores a checkpoint written by Save. Training resumes after the
// saved step under the saved run ID.
func (t *Trainer) Load(path string) error {
	sd, meta, err := serialization.ReadFile(path, t.backend)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	if f := meta[MetaFormat]; f != checkpointFormat {
		return fmt.Errorf("load checkpoint: %s has format %q, want %q", path, f, checkpointFormat)
	}

	modelSD, optSD := splitStateDict(sd)
	if err := nn.LoadStateDict[Backend](t.model, modelSD, true); err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	if err := t.opt.LoadStateDict(optSD); err != nil {
		return fmt.Errorf("load checkpoint: optimizer: %w", err)
	}

	step, err := strconv.Atoi(meta[MetaStep])
	if err != nil {
		return fmt.Errorf("load checkpoint: step: %w", err)
	}
	scale, err := strconv.ParseFloat(meta[MetaLossScale], 32)
	if err != nil {
		return fmt.Errorf("load checkpoint: loss scale: %w", err)
	}
	growth, err := strconv.Atoi(meta[MetaGrowthCount])
	if err != nil {
		return fmt.Errorf("load checkpoint: growth count: %w", err)
	}
	runID, err := uuid.Parse(meta[MetaRunID])
	if err != nil {
		return fmt.Errorf("load checkpoint: run id: %w", err)
	}

	t.step = step
	t.scaler.LoadState(float32(scale), growth)
	t.runID = runID
	t.log.Info("checkpoint loaded", "path", path, "step", step, "run_id", runID)
	return nil
}

// LoadModel restores only the model tensors of a checkpoint, for
// evaluation.
func LoadModel[B tensor.Backend](m nn.Module[B], path string, backend B) (map[string]string, error) {
	sd, meta, err := serialization.ReadFile(path, backend)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	modelSD, _ := splitStateDict(sd)
	if err := nn.LoadStateDict(m, modelSD, true); err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return meta, nil
}

func splitStateDict(sd map[string]*tensor.RawTensor) (model, opt map[string]*tensor.RawTensor) {
	model = make(map[string]*tensor.RawTensor, len(sd))
	opt = make(map[string]*tensor.RawTensor)
	for name, v := range sd {
		if rest, ok := strings.CutPrefix(name, optimizerPrefix); ok {
			opt[rest] = v
		} else {
			model[name] = v
		}
	}
	return model, opt
}

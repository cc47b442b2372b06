package model

import (
	"fmt"
	"strings"

	"github.com/born-ml/deeplab/internal/nn"
	"github.com/born-ml/deeplab/internal/serialization"
	"github.com/born-ml/deeplab/internal/tensor"
)

// skipPretrained reports keys of an ImageNet classifier checkpoint that have
// no counterpart in the backbone.
func skipPretrained(name string) bool {
	return strings.HasPrefix(name, "fc.") || strings.HasSuffix(name, ".num_batches_tracked")
}

// LoadBackbone copies ImageNet classifier weights keyed by torchvision names
// ("conv1.weight", "layer1.0.bn1.running_mean", ...) into the backbone. The
// classifier and BN batch counters are ignored; any other missing, extra or
// mis-shaped key is an error.
func (m *DeepLabv3[B]) LoadBackbone(sd map[string]*tensor.RawTensor) error {
	prefixed := make(map[string]*tensor.RawTensor, len(sd))
	for name, t := range sd {
		if skipPretrained(name) {
			continue
		}
		prefixed[nn.Join(BackbonePrefix, name)] = t
	}
	if err := nn.LoadStateDict[B](m.backbone, prefixed, true); err != nil {
		return fmt.Errorf("load backbone: %w", err)
	}
	return nil
}

// LoadPretrainedBackbone reads a safetensors file and loads it with
// LoadBackbone.
func (m *DeepLabv3[B]) LoadPretrainedBackbone(path string, backend B) error {
	sd, _, err := serialization.ReadFile(path, backend)
	if err != nil {
		return fmt.Errorf("load backbone: %w", err)
	}
	return m.LoadBackbone(sd)
}

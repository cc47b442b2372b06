package metric

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/deeplab/internal/backend/cpu"
	"github.com/born-ml/deeplab/internal/tensor"
)

func TestConfusionMatrix_Update(t *testing.T) {
	cm := NewConfusionMatrix(3, 255)
	require.NoError(t, cm.Update(
		[]int32{0, 1, 1, 2, 0, 2},
		[]int32{0, 1, 2, 2, 255, 1},
	))

	assert.Equal(t, int64(5), cm.Total(), "ignored pixel is not counted")
	assert.Equal(t, int64(1), cm.Count(0, 0))
	assert.Equal(t, int64(1), cm.Count(1, 1))
	assert.Equal(t, int64(1), cm.Count(1, 2))
	assert.Equal(t, int64(1), cm.Count(2, 1))
	assert.Equal(t, int64(1), cm.Count(2, 2))
	assert.InDelta(t, 0.6, cm.PixelAccuracy(), 1e-12)

	iou, present := cm.IoU()
	assert.Equal(t, []bool{true, true, true}, present)
	// class 0: 1/1; class 1: 1/(2+2-1); class 2: 1/(2+2-1)
	assert.InDeltaSlice(t, []float64{1, 1.0 / 3, 1.0 / 3}, iou, 1e-12)
	assert.InDelta(t, (1+2.0/3)/3, cm.MeanIoU(), 1e-12)

	cm.Reset()
	assert.Zero(t, cm.Total())
	assert.Zero(t, cm.MeanIoU())
}

func TestConfusionMatrix_AbsentClassesExcluded(t *testing.T) {
	cm := NewConfusionMatrix(21, 255)
	require.NoError(t, cm.Update([]int32{0, 0, 5, 5}, []int32{0, 0, 5, 5}))

	_, present := cm.IoU()
	assert.True(t, present[0])
	assert.True(t, present[5])
	assert.False(t, present[1])
	assert.Equal(t, 1.0, cm.MeanIoU())
}

func TestConfusionMatrix_Errors(t *testing.T) {
	cm := NewConfusionMatrix(2, 255)
	assert.Error(t, cm.Update([]int32{0}, []int32{0, 1}))
	assert.Error(t, cm.Update([]int32{0}, []int32{7}))
	assert.Error(t, cm.Update([]int32{-1}, []int32{0}))
	assert.NoError(t, cm.Update([]int32{9}, []int32{255}), "prediction under an ignored pixel is not checked")
}

func TestCompute(t *testing.T) {
	backend := cpu.New()
	// Two pixels, two classes: argmax gives [1, 0].
	logits, err := tensor.FromSlice([]float32{
		0, 3, // class 0
		1, 2, // class 1
	}, tensor.Shape{1, 2, 1, 2}, backend)
	require.NoError(t, err)

	truth, err := tensor.FromSlice([]int32{1, 1}, tensor.Shape{1, 1, 2}, backend)
	require.NoError(t, err)

	m := PixelMIoU{NumClasses: 2, IgnoreIndex: 255}
	got, err := Compute(m, logits, truth)
	require.NoError(t, err)
	// class 0: 0/1, class 1: 1/2
	assert.InDelta(t, 0.25, got, 1e-12)

	_, err = Compute(PixelMIoU{NumClasses: 3, IgnoreIndex: 255}, logits, truth)
	assert.Error(t, err)

	bad, err := tensor.FromSlice([]int32{1, 1, 1}, tensor.Shape{1, 1, 3}, backend)
	require.NoError(t, err)
	_, err = Compute(m, logits, bad)
	assert.Error(t, err)
}

func TestMean(t *testing.T) {
	var m Mean
	assert.Zero(t, m.Value())

	for _, v := range []float64{0.5, 0.25, 0.75} {
		m.Add(v)
	}
	assert.Equal(t, 3, m.Count())
	assert.InDelta(t, 0.5, m.Value(), 1e-12)

	m.Reset()
	assert.Zero(t, m.Count())
}

package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShape_NumElements(t *testing.T) {
	assert.Equal(t, 1, Shape{}.NumElements())
	assert.Equal(t, 24, Shape{2, 3, 4}.NumElements())
}

func TestShape_ComputeStrides(t *testing.T) {
	assert.Equal(t, []int{60, 20, 5, 1}, Shape{2, 3, 4, 5}.ComputeStrides())
	assert.Empty(t, Shape{}.ComputeStrides())
}

func TestShape_Validate(t *testing.T) {
	require.NoError(t, Shape{1, 2}.Validate())
	require.Error(t, Shape{1, 0}.Validate())
	require.Error(t, Shape{-3}.Validate())
}

func TestBroadcastShapes(t *testing.T) {
	tests := []struct {
		name      string
		a, b      Shape
		want      Shape
		broadcast bool
		wantErr   bool
	}{
		{"same", Shape{3, 5}, Shape{3, 5}, Shape{3, 5}, false, false},
		{"column", Shape{3, 1}, Shape{3, 5}, Shape{3, 5}, true, false},
		{"channel bias", Shape{2, 4, 8, 8}, Shape{1, 4, 1, 1}, Shape{2, 4, 8, 8}, true, false},
		{"rank mismatch", Shape{5}, Shape{2, 5}, Shape{2, 5}, true, false},
		{"incompatible", Shape{3, 4}, Shape{3, 5}, nil, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, broadcast, err := BroadcastShapes(tt.a, tt.b)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "got %v, want %v", got, tt.want)
			assert.Equal(t, tt.broadcast, broadcast)
		})
	}
}

func TestConv2DParams_OutputSize(t *testing.T) {
	// 7x7/2 stem on 224 with padding 3.
	h, w := Conv2DParams{Stride: 2, Padding: 3, Dilation: 1}.OutputSize(224, 224, 7, 7)
	assert.Equal(t, 112, h)
	assert.Equal(t, 112, w)

	// Dilated 3x3 with padding == dilation keeps the size.
	h, w = Conv2DParams{Stride: 1, Padding: 12, Dilation: 12}.OutputSize(33, 29, 3, 3)
	assert.Equal(t, 33, h)
	assert.Equal(t, 29, w)
}

func TestPool2DParams_OutputSize(t *testing.T) {
	h, w := Pool2DParams{Kernel: 3, Stride: 2, Padding: 1}.OutputSize(112, 111)
	assert.Equal(t, 56, h)
	assert.Equal(t, 56, w)
}

func TestRawTensor_ViewSharesStorage(t *testing.T) {
	r, err := NewRaw(Shape{2, 3}, Float32, CPU)
	require.NoError(t, err)

	v, err := r.View(Shape{3, 2})
	require.NoError(t, err)

	v.AsFloat32()[4] = 7
	assert.Equal(t, float32(7), r.AsFloat32()[4])

	_, err = r.View(Shape{4, 2})
	require.Error(t, err)
}

func TestRawTensor_CloneIsDeep(t *testing.T) {
	r := MustNewRaw(Shape{4}, Int32, CPU)
	r.AsInt32()[0] = 3

	c := r.Clone()
	c.AsInt32()[0] = 9
	assert.Equal(t, int32(3), r.AsInt32()[0])
	assert.Equal(t, int32(9), c.AsInt32()[0])
}

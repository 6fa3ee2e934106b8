package store

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeVectorRoundTrip(t *testing.T) {
	v := []float32{0.1, -1.5, 0, 3.25, 1e-3}
	raw := EncodeVector(v)
	assert.Len(t, raw, len(v)*4)

	got, err := DecodeVector(raw)
	require.NoError(t, err)
	require.Len(t, got, len(v))
	for i := range v {
		assert.InDelta(t, v[i], got[i], 1e-6)
	}
}

func TestDecodeVectorRejectsMisalignedLength(t *testing.T) {
	_, err := DecodeVector([]byte{0, 1, 2})
	assert.Error(t, err)
}

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{1, 0, 0}
	assert.InDelta(t, 1.0, CosineSimilarity(a, b), 1e-9)

	c := []float32{0, 1, 0}
	assert.InDelta(t, 0.0, CosineSimilarity(a, c), 1e-9)

	d := []float32{-1, 0, 0}
	assert.InDelta(t, -1.0, CosineSimilarity(a, d), 1e-9)

	assert.Equal(t, float64(0), CosineSimilarity([]float32{1, 2}, []float32{1}))
	assert.Equal(t, float64(0), CosineSimilarity(nil, nil))
}

func TestEmbeddingDimConstant(t *testing.T) {
	assert.Equal(t, 384, EmbeddingDim)
	assert.False(t, math.IsNaN(float64(EmbeddingDim)))
}

package scoring

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	s := NewLinearScorer([]float64{1, 1, 1, 1, 1, 1}, 0)

	require.NoError(t, r.Register(2, s))
	err := r.Register(2, s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	got, err := r.Get(2)
	require.NoError(t, err)
	assert.Same(t, s, got)

	_, err = r.Get(3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found in registry")

	assert.Error(t, r.Register(0, s))
}

func TestRegistryReplaceAndList(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(4, ScorerFunc(func([]float64) (float64, error) { return 1, nil })))
	require.NoError(t, r.Register(2, ScorerFunc(func([]float64) (float64, error) { return 2, nil })))
	require.NoError(t, r.Replace(2, ScorerFunc(func([]float64) (float64, error) { return 3, nil })))

	assert.Equal(t, []int{2, 4}, r.LinkCounts())

	s, err := r.Get(2)
	require.NoError(t, err)
	v, err := s.Score(nil)
	require.NoError(t, err)
	assert.Equal(t, 3.0, v)

	r.Remove(4)
	assert.Equal(t, []int{2}, r.LinkCounts())
}

func TestLinearScorer(t *testing.T) {
	testCases := []struct {
		name     string
		weights  []float64
		bias     float64
		features []float64
		want     float64
		wantErr  bool
	}{
		{name: "weighted sum", weights: []float64{0.01, 0.01, -0.1, -0.1, -1, -1}, bias: 3,
			features: []float64{400, 300, 5, 5, 0, 2}, want: 3 + 4 + 3 - 0.5 - 0.5 - 2},
		{name: "bias only", weights: []float64{0, 0, 0}, bias: 1.5, features: []float64{10, 20, 30}, want: 1.5},
		{name: "length mismatch", weights: []float64{1, 1, 1}, features: []float64{1}, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NewLinearScorer(tc.weights, tc.bias).Score(tc.features)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tc.want, got, 1e-9)
		})
	}
}

func TestLinearScorerValidate(t *testing.T) {
	s := NewLinearScorer(make([]float64, 9), 0)
	assert.NoError(t, s.Validate(3))
	assert.Error(t, s.Validate(2))
	assert.Error(t, s.Validate(0))
}

func TestScorerFuncPropagatesError(t *testing.T) {
	boom := errors.New("model unavailable")
	_, err := ScorerFunc(func([]float64) (float64, error) { return 0, boom }).Score(nil)
	assert.ErrorIs(t, err, boom)
}

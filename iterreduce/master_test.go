package iterreduce

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/winstonquock/deeplearning4j/vecio"
)

func TestAveragingMasterMean(t *testing.T) {
	m := &AveragingMaster{}
	res, err := m.Aggregate([]*Update{
		{Params: []float64{1, 2}, Weight: 1},
		{Params: []float64{3, 4}, Weight: 1},
		{Params: []float64{5, 0}, Weight: 2},
	})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{3, 2}, res.Params, 1e-12)
	assert.Equal(t, 4.0, res.Weight)

	last, err := m.Result()
	require.NoError(t, err)
	assert.Same(t, res, last)
}

func TestAveragingMasterWeighted(t *testing.T) {
	m := &AveragingMaster{Weighted: true}
	res, err := m.Aggregate([]*Update{
		{Params: []float64{0, 0}, Weight: 1},
		{Params: []float64{4, 8}, Weight: 3},
	})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{3, 6}, res.Params, 1e-12)

	_, err = m.Aggregate([]*Update{{Params: []float64{1}}, {Params: []float64{2}}})
	assert.ErrorIs(t, err, ErrZeroWeight)
}

func TestAveragingMasterErrors(t *testing.T) {
	m := &AveragingMaster{}

	_, err := m.Result()
	assert.ErrorIs(t, err, ErrNoResultYet)
	assert.ErrorIs(t, m.Finalize(&bytes.Buffer{}), ErrNoResultYet)

	_, err = m.Aggregate(nil)
	assert.ErrorIs(t, err, ErrEmptyRound)

	_, err = m.Aggregate([]*Update{
		{Params: []float64{1, 2}},
		{Params: []float64{1, 2, 3}},
	})
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, 2, cfgErr.Want)
	assert.Equal(t, 3, cfgErr.Got)

	_, err = m.Result()
	assert.ErrorIs(t, err, ErrNoResultYet, "failed rounds leave no result")
}

func TestAveragingMasterFinalize(t *testing.T) {
	m := &AveragingMaster{}
	_, err := m.Aggregate([]*Update{{Params: []float64{1, -1, 0.5}}})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, m.Finalize(&buf))
	vec, err := vecio.ReadVector(&buf)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, -1, 0.5}, vec)
}

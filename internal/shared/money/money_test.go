package money

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRound2(t *testing.T) {
	require.Equal(t, 10.5, Round2(10.499999999))
	require.Equal(t, 1.01, Round2(1.005))
	require.Equal(t, -2.35, Round2(-2.345))
	require.Equal(t, 0.0, Round2(math.NaN()))
	require.Equal(t, 0.0, Round2(math.Inf(1)))
}

func TestSumAvoidsDrift(t *testing.T) {
	values := make([]float64, 10)
	for i := range values {
		values[i] = 0.1
	}
	require.Equal(t, 1.0, Sum(values...))
	require.Equal(t, 3.0, Sum(1, math.NaN(), 2))
}

func TestEqual(t *testing.T) {
	require.True(t, Equal(10.001, 10.004))
	require.False(t, Equal(10.01, 10.02))
}

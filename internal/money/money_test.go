package money

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmount_Add(t *testing.T) {
	sum, err := Amount(100).Add(250)
	require.NoError(t, err)
	assert.Equal(t, Amount(350), sum)

	_, err = Amount(math.MaxInt64).Add(1)
	assert.ErrorIs(t, err, ErrOverflow)

	_, err = Amount(math.MinInt64).Add(-1)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestAmount_Sub(t *testing.T) {
	diff, err := Amount(100).Sub(250)
	require.NoError(t, err)
	assert.Equal(t, Amount(-150), diff)

	_, err = Amount(math.MinInt64).Sub(1)
	assert.ErrorIs(t, err, ErrOverflow)

	_, err = Amount(math.MaxInt64).Sub(-1)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestAmount_MulRate(t *testing.T) {
	tests := []struct {
		name   string
		amount Amount
		rate   string
		want   Amount
	}{
		{"five percent", 100_000, "0.05", 5_000},
		{"ten percent", 1_140_000, "0.10", 114_000},
		{"half rounds up", 5, "0.5", 3},
		{"below half rounds down", 7, "0.3", 2},
		{"exact half of odd cent", 1, "0.5", 1},
		{"zero rate", 999, "0", 0},
		{"full rate", 999, "1", 999},
		{"long fraction", 333_333, "0.333333", 111_111},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.amount.MulRate(decimal.RequireFromString(tt.rate))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSum(t *testing.T) {
	total, err := Sum(1, 2, 3, 4)
	require.NoError(t, err)
	assert.Equal(t, Amount(10), total)

	total, err = Sum()
	require.NoError(t, err)
	assert.Equal(t, Amount(0), total)

	_, err = Sum(math.MaxInt64, 1)
	assert.ErrorIs(t, err, ErrOverflow)
}

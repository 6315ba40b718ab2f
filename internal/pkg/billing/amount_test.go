package billing

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMinorUnits(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{in: "500", want: 50000},
		{in: "1500", want: 150000},
		{in: "499.99", want: 49999},
		{in: "0.015", want: 2},
		{in: "0.01", want: 1},
	}

	for _, tt := range tests {
		got, err := ToMinorUnits(decimal.RequireFromString(tt.in))
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestToMinorUnitsRejectsNonPositive(t *testing.T) {
	for _, in := range []string{"0", "-1", "0.001"} {
		_, err := ToMinorUnits(decimal.RequireFromString(in))
		require.Error(t, err, in)
		assert.True(t, errors.Is(err, ErrValidation), in)
	}
}

func TestFromMinorUnits(t *testing.T) {
	assert.True(t, FromMinorUnits(49999).Equal(decimal.RequireFromString("499.99")))
}

package numeric

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name  string
		in    any
		want  float64
		valid bool
	}{
		{"locale decimal comma", "1.180,50", 1180.50, true},
		{"locale decimal point", "1,180.50", 1180.50, true},
		{"plain", "1180.5", 1180.5, true},
		{"guarani thousands", "1.180", 1180, true},
		{"many thousands", "1.234.567", 1234567, true},
		{"comma decimal", "12,5", 12.5, true},
		{"currency prefix", "Gs. 150.000", 150000, true},
		{"negative", "-45", 45, true},
		{"float", 99.9, 99.9, true},
		{"int", 42, 42, true},
		{"json number", json.Number("10.25"), 10.25, true},
		{"json number with three decimals", json.Number("1234.567"), 1234.567, true},
		{"nil", nil, 0, false},
		{"empty", "", 0, false},
		{"garbage", "n/a", 0, false},
		{"nan", math.NaN(), 0, false},
		{"inf", math.Inf(1), 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseAmount(tt.in)
			assert.Equal(t, tt.valid, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestAmountOrZero(t *testing.T) {
	assert.Equal(t, 0.0, AmountOrZero(nil))
	assert.InDelta(t, 1180.50, AmountOrZero("1.180,50"), 1e-9)
}

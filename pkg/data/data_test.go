package data

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuote(t *testing.T) {
	tests := map[string]string{
		"sunny":    "sunny",
		"Paris,TX": "'Paris,TX'",
		"a b":      "'a b'",
		"O'Hare":   `'O\'Hare'`,
		`back\`:    `'back\\'`,
		"?":        "'?'",
		"":         "''",
	}
	for in, want := range tests {
		assert.Equal(t, want, Quote(in), in)
	}
}

func TestInstance_String(t *testing.T) {
	h := NewHeader("r", []Attribute{Numeric("x"), Nominal("c", "plain", "a,b")})
	assert.Equal(t, "1.5,'a,b'", NewInstance(h, []float64{1.5, 1}).String())
	assert.Equal(t, "?,plain", NewInstance(h, []float64{math.NaN(), 0}).String())
	assert.Contains(t, h.String(), "@attribute c {plain,'a,b'}")
}

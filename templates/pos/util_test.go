package pos

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "3.00", FormatAmount(decimal.NewFromInt(3)))
	assert.Equal(t, "19.90", FormatAmount(decimal.RequireFromString("19.9")))
}

func TestFormatCountdown(t *testing.T) {
	assert.Equal(t, "5:00", FormatCountdown(300))
	assert.Equal(t, "2:00", FormatCountdown(120))
	assert.Equal(t, "0:09", FormatCountdown(9))
	assert.Equal(t, "0:00", FormatCountdown(-4))
}

func TestToJSON(t *testing.T) {
	assert.Equal(t, `{"closeModal":true}`, ToJSON(map[string]bool{"closeModal": true}))
}

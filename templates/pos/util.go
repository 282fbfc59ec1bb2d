package pos

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// ToJSON encodes a value to string
func ToJSON(v interface{}) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// FormatAmount formats an amount with 2 decimal places
func FormatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

// FormatCountdown renders seconds as m:ss
func FormatCountdown(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

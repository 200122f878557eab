// Package format renders hardware units for human-facing output.
package format

import (
	"fmt"
	"time"
)

// MHz renders a kHz sysfs frequency as MHz or GHz.
// Returns strings like "800 MHz" or "4.20 GHz".
func MHz(khz int64) string {
	mhz := float64(khz) / 1000
	if mhz >= 1000 {
		return fmt.Sprintf("%.2f GHz", mhz/1000)
	}
	return fmt.Sprintf("%.0f MHz", mhz)
}

// Watts renders signed battery draw. Negative means discharging.
func Watts(w float64) string {
	return fmt.Sprintf("%+.1f W", w)
}

// TempC renders a Celsius temperature to one decimal.
func TempC(c float64) string {
	return fmt.Sprintf("%.1f °C", c)
}

// Percent renders a 0..1 fraction as a whole percentage.
func Percent(frac float64) string {
	return fmt.Sprintf("%.0f%%", frac*100)
}

// Duration renders a time.Duration as a concise human-readable string.
// Returns strings like "1s", "5m 30s", "2h 15m".
func Duration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

package format

import (
	"testing"
	"time"
)

func TestMHz(t *testing.T) {
	tests := []struct {
		khz  int64
		want string
	}{
		{800000, "800 MHz"},
		{999000, "999 MHz"},
		{1000000, "1.00 GHz"},
		{4200000, "4.20 GHz"},
		{0, "0 MHz"},
	}
	for _, tt := range tests {
		if got := MHz(tt.khz); got != tt.want {
			t.Errorf("MHz(%d) = %q, want %q", tt.khz, got, tt.want)
		}
	}
}

func TestWatts(t *testing.T) {
	if got := Watts(-12.34); got != "-12.3 W" {
		t.Errorf("Watts(-12.34) = %q", got)
	}
	if got := Watts(5); got != "+5.0 W" {
		t.Errorf("Watts(5) = %q", got)
	}
}

func TestPercent(t *testing.T) {
	if got := Percent(0.8); got != "80%" {
		t.Errorf("Percent(0.8) = %q", got)
	}
}

func TestDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{500 * time.Millisecond, "500ms"},
		{time.Second, "1s"},
		{90 * time.Second, "1m 30s"},
		{2*time.Hour + 15*time.Minute, "2h 15m"},
	}
	for _, tt := range tests {
		if got := Duration(tt.d); got != tt.want {
			t.Errorf("Duration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

package probe

import (
	"strings"
)

const powerSupplyRoot = "sys/class/power_supply"

// Vendor identifies which charge-threshold attribute pair a battery
// exposes. Most batteries use the standard pair; a few vendors invented
// their own names before the kernel standardized.
type Vendor string

const (
	VendorGeneric   Vendor = "generic"
	VendorASUS      Vendor = "asus"
	VendorThinkPad  Vendor = "thinkpad"
	VendorHuawei    Vendor = "huawei"
	VendorIdeapad   Vendor = "ideapad"
	VendorFramework Vendor = "framework"
)

// ThresholdPaths is the attribute pair a vendor uses for charge control.
type ThresholdPaths struct {
	Vendor Vendor
	Start  string
	End    string
}

// thresholdTable is probed in order; first pair that exists wins.
// ThinkPad and Huawei share a pair, so detection falls back on the
// model/manufacturer string to tell them apart for reporting.
var thresholdTable = []ThresholdPaths{
	{VendorGeneric, "charge_control_start_threshold", "charge_control_end_threshold"},
	{VendorASUS, "charge_control_start_percentage", "charge_control_end_percentage"},
	{VendorThinkPad, "charge_start_threshold", "charge_stop_threshold"},
	{VendorFramework, "charge_behaviour_start_threshold", "charge_behaviour_end_threshold"},
}

// ThresholdTable exposes the vendor probe order so the actuator resolves
// the same attribute pair the probe reported.
func ThresholdTable() []ThresholdPaths { return thresholdTable }

// Battery is one non-peripheral battery from /sys/class/power_supply.
type Battery struct {
	Name string

	Charge    float64 // 0..1
	HasCharge bool

	// DrawWatts is signed: negative while discharging.
	DrawWatts float64
	HasDraw   bool

	ChargeStart   float64 // 0..1
	ChargeEnd     float64 // 0..1
	HasThresholds bool

	Vendor Vendor
	Status string

	// Thresholds holds the attribute pair this battery uses, when any.
	Thresholds ThresholdPaths
}

// acTypes are power_supply type values that mean wall power.
var acTypes = map[string]bool{
	"Mains":      true,
	"USB_PD":     true,
	"USB_PD_DRP": true,
	"USB_DCP":    true,
	"USB_CDP":    true,
	"USB_ACA":    true,
}

func isACType(t string) bool {
	return acTypes[t] || strings.HasPrefix(t, "AC") ||
		strings.Contains(t, "ACAD") || strings.Contains(t, "ADP")
}

// scanPower enumerates power supplies and derives batteries, AC presence,
// and the kernel's discharging view.
func (p *Prober) scanPower() (batteries []Battery, onAC, discharging bool) {
	entries, err := p.fs.ReadDir(powerSupplyRoot)
	if err != nil {
		// No power supplies at all: treat as a desktop on wall power.
		return nil, p.isDesktop(), false
	}

	sawSupply := false

	for _, entry := range entries {
		name := entry.Name()

		supplyType, err := p.fs.ReadLine(powerSupplyRoot, name, "type")
		if err != nil {
			continue
		}
		sawSupply = true

		if isACType(supplyType) {
			online, err := p.fs.ReadInt64(powerSupplyRoot, name, "online")
			if err != nil || online == 1 {
				onAC = true
			}
			continue
		}

		if supplyType != "Battery" || p.isPeripheral(name) {
			continue
		}

		b := p.scanBattery(name)
		if b.Status == "Discharging" {
			discharging = true
		}
		batteries = append(batteries, b)
	}

	if len(batteries) == 0 && !onAC {
		onAC = p.isDesktop()
	}
	_ = sawSupply

	return batteries, onAC, discharging
}

func (p *Prober) scanBattery(name string) Battery {
	b := Battery{Name: name, Vendor: VendorGeneric, ChargeEnd: 1.0}

	b.Status, _ = p.fs.ReadLine(powerSupplyRoot, name, "status")

	if capacity, err := p.fs.ReadInt64(powerSupplyRoot, name, "capacity"); err == nil {
		b.Charge = float64(capacity) / 100.0
		b.HasCharge = true
	}

	if watts, ok := p.scanDraw(name, b.Status); ok {
		b.DrawWatts = watts
		b.HasDraw = true
	}

	for _, tp := range thresholdTable {
		if p.fs.Exists(powerSupplyRoot, name, tp.Start) &&
			p.fs.Exists(powerSupplyRoot, name, tp.End) {
			b.Thresholds = tp
			b.Vendor = tp.Vendor
			b.HasThresholds = true

			if v, err := p.fs.ReadInt64(powerSupplyRoot, name, tp.Start); err == nil {
				b.ChargeStart = float64(v) / 100.0
			}
			if v, err := p.fs.ReadInt64(powerSupplyRoot, name, tp.End); err == nil {
				b.ChargeEnd = float64(v) / 100.0
			}
			break
		}
	}

	if b.Vendor == VendorThinkPad {
		// ThinkPad and Huawei share attribute names.
		if mfr, err := p.fs.ReadLine(powerSupplyRoot, name, "manufacturer"); err == nil &&
			strings.Contains(strings.ToLower(mfr), "huawei") {
			b.Vendor = VendorHuawei
		}
	}
	if !b.HasThresholds && p.fs.Exists(powerSupplyRoot, name, "conservation_mode") {
		b.Vendor = VendorIdeapad
	}

	return b
}

// scanDraw reads battery draw in watts, signed by charge status.
// power_now is µW; the current_now/voltage_now fallback multiplies µA by
// µV, hence the 1e12 divisor.
func (p *Prober) scanDraw(name, status string) (float64, bool) {
	var watts float64

	if uw, err := p.fs.ReadInt64(powerSupplyRoot, name, "power_now"); err == nil {
		watts = float64(uw) / 1e6
	} else {
		ua, errCurrent := p.fs.ReadInt64(powerSupplyRoot, name, "current_now")
		uv, errVoltage := p.fs.ReadInt64(powerSupplyRoot, name, "voltage_now")
		if errCurrent != nil || errVoltage != nil {
			return 0, false
		}
		watts = float64(ua) * float64(uv) / 1e12
	}

	if watts < 0 {
		watts = -watts
	}
	if status == "Discharging" {
		watts = -watts
	}
	return watts, true
}

// isPeripheral filters out mouse/keyboard/headset batteries so they do
// not drag the mean charge down.
func (p *Prober) isPeripheral(name string) bool {
	lower := strings.ToLower(name)
	for _, marker := range []string{
		"mouse", "keyboard", "trackpad", "gamepad",
		"controller", "headset", "headphone",
	} {
		if strings.Contains(lower, marker) {
			return true
		}
	}

	// Laptop batteries hold at least ~20 Wh; anything under 10 Wh is a
	// peripheral cell.
	if full, err := p.fs.ReadInt64(powerSupplyRoot, name, "energy_full"); err == nil &&
		full < 10_000_000 {
		return true
	}

	if model, err := p.fs.ReadLine(powerSupplyRoot, name, "model_name"); err == nil {
		lower := strings.ToLower(model)
		if strings.Contains(lower, "bluetooth") || strings.Contains(lower, "wireless") {
			return true
		}
	}

	return false
}

// isDesktop guesses the form factor when no AC supply is exposed.
// Desktop chassis types imply wall power.
func (p *Prober) isDesktop() bool {
	if chassis, err := p.fs.ReadLine("sys/class/dmi/id/chassis_type"); err == nil {
		switch chassis {
		// Desktop, Low Profile Desktop, Pizza Box, Mini Tower, Tower,
		// Space-saving, Lunch Box, Main Server Chassis.
		case "3", "4", "5", "6", "7", "15", "16", "17":
			return true
		// Laptop, Notebook, Sub Notebook, Convertible.
		case "9", "10", "14", "31":
			return false
		}
	}

	for _, bat := range []string{"BAT0", "BAT1"} {
		if p.fs.Exists(powerSupplyRoot, bat) {
			return false
		}
	}

	return true
}

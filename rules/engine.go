package rules

import (
	"fmt"
	"sort"
)

// Field is one optional action slot: an expression for the value, with
// an optional guard. A guarded field whose guard does not evaluate to
// true is dropped for the tick, even if a lower-priority rule also set
// the slot.
type Field struct {
	Value *Expr
	Cond  *Expr
}

// CpuActions is the CPU half of a rule's actions. For selects target
// cores; empty means all cores.
type CpuActions struct {
	For []int

	Governor   *Field
	EPP        *Field
	EPB        *Field
	MinFreqMHz *Field
	MaxFreqMHz *Field
	Turbo      *Field
}

// PowerActions is the power half. For selects supply names; empty means
// all batteries.
type PowerActions struct {
	For []string

	PlatformProfile *Field
	ChargeStart     *Field
	ChargeEnd       *Field
}

// Rule is one priority-ordered entry of the rule set. When defaults to
// always-true at compile time.
type Rule struct {
	Name     string
	Priority uint16
	When     *Expr

	Cpu   CpuActions
	Power PowerActions
}

// Check typechecks the rule: when must be boolean, numeric and string
// slots must hold the right expression types.
func (r *Rule) Check() error {
	if r.When != nil {
		t, err := r.When.Check()
		if err != nil {
			return fmt.Errorf("rule %q: when: %w", r.Name, err)
		}
		if t != TypeBool {
			return fmt.Errorf("rule %q: when must be a boolean, got %s", r.Name, t)
		}
	}

	checks := []struct {
		name  string
		field *Field
		want  Type
	}{
		{"cpu.governor", r.Cpu.Governor, TypeString},
		{"cpu.energy-performance-preference", r.Cpu.EPP, TypeString},
		{"cpu.energy-performance-bias", r.Cpu.EPB, TypeString},
		{"cpu.frequency-minimum", r.Cpu.MinFreqMHz, TypeNumber},
		{"cpu.frequency-maximum", r.Cpu.MaxFreqMHz, TypeNumber},
		{"cpu.turbo", r.Cpu.Turbo, TypeBool},
		{"power.platform-profile", r.Power.PlatformProfile, TypeString},
		{"power.charge-threshold-start", r.Power.ChargeStart, TypeNumber},
		{"power.charge-threshold-end", r.Power.ChargeEnd, TypeNumber},
	}

	for _, c := range checks {
		if c.field == nil {
			continue
		}
		t, err := c.field.Value.Check()
		if err != nil {
			return fmt.Errorf("rule %q: %s: %w", r.Name, c.name, err)
		}
		if t != c.want {
			return fmt.Errorf("rule %q: %s must be a %s, got %s", r.Name, c.name, c.want, t)
		}
		if c.field.Cond != nil {
			ct, err := c.field.Cond.Check()
			if err != nil {
				return fmt.Errorf("rule %q: %s condition: %w", r.Name, c.name, err)
			}
			if ct != TypeBool {
				return fmt.Errorf("rule %q: %s condition must be a boolean, got %s", r.Name, c.name, ct)
			}
		}
	}
	return nil
}

// CheckRules validates a whole rule set, including priority uniqueness.
func CheckRules(rules []Rule) error {
	seen := make(map[uint16]string, len(rules))
	for i := range rules {
		r := &rules[i]
		if err := r.Check(); err != nil {
			return err
		}
		if other, dup := seen[r.Priority]; dup {
			return fmt.Errorf("rules %q and %q share priority %d", other, r.Name, r.Priority)
		}
		seen[r.Priority] = r.Name
	}
	return nil
}

// CpuSettings is the merged per-core outcome of a tick.
type CpuSettings struct {
	Governor   *string
	EPP        *string
	EPB        *string
	MinFreqMHz *float64
	MaxFreqMHz *float64
}

// SupplySettings is the merged per-supply outcome of a tick. Thresholds
// are charge fractions in [0,1].
type SupplySettings struct {
	ChargeStart *float64
	ChargeEnd   *float64
}

// Plan is what a tick decided to apply. Nil pointers mean "leave alone".
type Plan struct {
	Cpus            map[int]*CpuSettings
	Turbo           *bool
	PlatformProfile *string
	Supplies        map[string]*SupplySettings

	// Matched lists the names of matching rules in application order.
	Matched []string
}

// Empty reports whether the plan changes nothing.
func (p *Plan) Empty() bool {
	return len(p.Cpus) == 0 && p.Turbo == nil && p.PlatformProfile == nil && len(p.Supplies) == 0
}

// cpuSlots is the merged-but-unevaluated action set for one core.
type cpuSlots struct {
	governor, epp, epb, minFreq, maxFreq *Field
}

type supplySlots struct {
	chargeStart, chargeEnd *Field
}

// EvaluateOnce runs the rule set against one environment and returns the
// plan. Pure: no sysfs access, no logging. cores and supplies name the
// available targets for empty selectors.
func EvaluateOnce(rules []Rule, env *Env, cores []int, supplies []string) *Plan {
	matched := make([]*Rule, 0, len(rules))
	for i := range rules {
		r := &rules[i]
		when := BoolValue(true)
		if r.When != nil {
			when = r.When.Eval(env)
		}
		if when.IsTrue() {
			matched = append(matched, r)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority < matched[j].Priority
	})

	plan := &Plan{
		Cpus:     make(map[int]*CpuSettings),
		Supplies: make(map[string]*SupplySettings),
	}

	perCore := make(map[int]*cpuSlots)
	perSupply := make(map[string]*supplySlots)
	var turbo, profile *Field

	// Overlay in ascending priority order so later rules win per slot.
	for _, r := range matched {
		plan.Matched = append(plan.Matched, r.Name)

		targets := r.Cpu.For
		if len(targets) == 0 {
			targets = cores
		}
		for _, id := range targets {
			slots := perCore[id]
			if slots == nil {
				slots = &cpuSlots{}
				perCore[id] = slots
			}
			overlay(&slots.governor, r.Cpu.Governor)
			overlay(&slots.epp, r.Cpu.EPP)
			overlay(&slots.epb, r.Cpu.EPB)
			overlay(&slots.minFreq, r.Cpu.MinFreqMHz)
			overlay(&slots.maxFreq, r.Cpu.MaxFreqMHz)
		}
		overlay(&turbo, r.Cpu.Turbo)

		supplyTargets := r.Power.For
		if len(supplyTargets) == 0 {
			supplyTargets = supplies
		}
		for _, name := range supplyTargets {
			slots := perSupply[name]
			if slots == nil {
				slots = &supplySlots{}
				perSupply[name] = slots
			}
			overlay(&slots.chargeStart, r.Power.ChargeStart)
			overlay(&slots.chargeEnd, r.Power.ChargeEnd)
		}
		overlay(&profile, r.Power.PlatformProfile)
	}

	// Evaluate the merged slots; guards and unavailability drop fields.
	for id, slots := range perCore {
		s := &CpuSettings{
			Governor:   stringField(slots.governor, env),
			EPP:        stringField(slots.epp, env),
			EPB:        stringField(slots.epb, env),
			MinFreqMHz: numberField(slots.minFreq, env),
			MaxFreqMHz: numberField(slots.maxFreq, env),
		}
		if s.Governor != nil || s.EPP != nil || s.EPB != nil ||
			s.MinFreqMHz != nil || s.MaxFreqMHz != nil {
			plan.Cpus[id] = s
		}
	}

	plan.Turbo = boolField(turbo, env)
	plan.PlatformProfile = stringField(profile, env)

	for name, slots := range perSupply {
		s := &SupplySettings{
			ChargeStart: numberField(slots.chargeStart, env),
			ChargeEnd:   numberField(slots.chargeEnd, env),
		}
		if s.ChargeStart != nil || s.ChargeEnd != nil {
			plan.Supplies[name] = s
		}
	}

	return plan
}

func overlay(slot **Field, f *Field) {
	if f != nil {
		*slot = f
	}
}

// fieldValue evaluates a slot, honoring its guard. Returns Unavailable
// for empty or guarded-off slots.
func fieldValue(f *Field, env *Env) Value {
	if f == nil {
		return Unavailable
	}
	if f.Cond != nil && !f.Cond.Eval(env).IsTrue() {
		return Unavailable
	}
	return f.Value.Eval(env)
}

func stringField(f *Field, env *Env) *string {
	v := fieldValue(f, env)
	if v.Kind != KindString {
		return nil
	}
	s := v.S
	return &s
}

func numberField(f *Field, env *Env) *float64 {
	v := fieldValue(f, env)
	if v.Kind != KindNumber {
		return nil
	}
	n := v.N
	return &n
}

func boolField(f *Field, env *Env) *bool {
	v := fieldValue(f, env)
	if v.Kind != KindBool {
		return nil
	}
	b := v.B
	return &b
}

package config

import (
	"fmt"
	"sort"

	"gitlab.com/tinyland/lab/watt/rules"
)

// compile turns the raw TOML rules into checked engine rules, sorted by
// ascending priority. Any error here is a configuration error and fatal
// at startup.
func compile(raw *rawConfig) ([]rules.Rule, error) {
	compiled := make([]rules.Rule, 0, len(raw.Rules))

	for i := range raw.Rules {
		rr := &raw.Rules[i]
		if rr.Name == "" {
			return nil, fmt.Errorf("rule %d has no name", i)
		}

		r := rules.Rule{
			Name:     rr.Name,
			Priority: rr.Priority,
		}

		var err error
		if rr.If != nil {
			if r.When, err = compileExpr(rr.If); err != nil {
				return nil, fmt.Errorf("rule %q: if: %w", rr.Name, err)
			}
		}

		for _, id := range rr.Cpu.For {
			if id < 0 {
				return nil, fmt.Errorf("rule %q: cpu.for contains negative id %d", rr.Name, id)
			}
			r.Cpu.For = append(r.Cpu.For, int(id))
		}
		r.Power.For = rr.Power.For

		fields := []struct {
			name string
			raw  any
			dst  **rules.Field
			// divideBy100 converts percent-valued settings to fractions.
			divideBy100 bool
		}{
			{"cpu.governor", rr.Cpu.Governor, &r.Cpu.Governor, false},
			{"cpu.energy-performance-preference", rr.Cpu.EnergyPerformancePreference, &r.Cpu.EPP, false},
			{"cpu.energy-perf-bias", rr.Cpu.EnergyPerfBias, &r.Cpu.EPB, false},
			{"cpu.frequency-mhz-minimum", rr.Cpu.FrequencyMhzMinimum, &r.Cpu.MinFreqMHz, false},
			{"cpu.frequency-mhz-maximum", rr.Cpu.FrequencyMhzMaximum, &r.Cpu.MaxFreqMHz, false},
			{"cpu.turbo", rr.Cpu.Turbo, &r.Cpu.Turbo, false},
			{"power.platform-profile", rr.Power.PlatformProfile, &r.Power.PlatformProfile, false},
			{"power.charge-threshold-start", rr.Power.ChargeThresholdStart, &r.Power.ChargeStart, true},
			{"power.charge-threshold-end", rr.Power.ChargeThresholdEnd, &r.Power.ChargeEnd, true},
		}

		for _, f := range fields {
			if f.raw == nil {
				continue
			}
			expr, err := compileExpr(f.raw)
			if err != nil {
				return nil, fmt.Errorf("rule %q: %s: %w", rr.Name, f.name, err)
			}
			if f.divideBy100 {
				expr = rules.Arithmetic(expr, rules.ArithDivide, rules.ConstNumber(100))
			}
			*f.dst = &rules.Field{Value: expr}
		}

		compiled = append(compiled, r)
	}

	if err := rules.CheckRules(compiled); err != nil {
		return nil, err
	}

	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].Priority < compiled[j].Priority
	})
	return compiled, nil
}

// binaryOps maps the operator key that accompanies "value".
var binaryOps = map[string]func(lhs, rhs *rules.Expr) *rules.Expr{
	"plus": func(l, r *rules.Expr) *rules.Expr {
		return rules.Arithmetic(l, rules.ArithPlus, r)
	},
	"minus": func(l, r *rules.Expr) *rules.Expr {
		return rules.Arithmetic(l, rules.ArithMinus, r)
	},
	"multiply": func(l, r *rules.Expr) *rules.Expr {
		return rules.Arithmetic(l, rules.ArithMultiply, r)
	},
	"divide": func(l, r *rules.Expr) *rules.Expr {
		return rules.Arithmetic(l, rules.ArithDivide, r)
	},
	"power": func(l, r *rules.Expr) *rules.Expr {
		return rules.Arithmetic(l, rules.ArithPower, r)
	},
	"is-less-than": func(l, r *rules.Expr) *rules.Expr {
		return rules.Compare(l, rules.CmpLess, r, nil)
	},
	"is-more-than": func(l, r *rules.Expr) *rules.Expr {
		return rules.Compare(l, rules.CmpMore, r, nil)
	},
	"and": func(l, r *rules.Expr) *rules.Expr {
		return rules.Logical(rules.LogicAnd, l, r)
	},
	"or": func(l, r *rules.Expr) *rules.Expr {
		return rules.Logical(rules.LogicOr, l, r)
	},
}

// predicateKeys maps the capability predicate table keys.
var predicateKeys = map[string]rules.PredKind{
	"is-governor-available":                      rules.PredGovernor,
	"is-energy-performance-preference-available": rules.PredEPP,
	"is-energy-perf-bias-available":              rules.PredEPB,
	"is-platform-profile-available":              rules.PredPlatformProfile,
	"is-driver-loaded":                           rules.PredDriverLoaded,
}

// compileExpr builds one expression node from its decoded TOML value.
func compileExpr(v any) (*rules.Expr, error) {
	switch value := v.(type) {
	case bool:
		return rules.ConstBool(value), nil
	case int64:
		return rules.ConstNumber(float64(value)), nil
	case float64:
		return rules.ConstNumber(value), nil
	case string:
		return compileString(value)
	case map[string]any:
		return compileTable(value)
	case []any:
		return nil, fmt.Errorf("a bare list is not an expression")
	default:
		return nil, fmt.Errorf("unsupported expression value %v (%T)", v, v)
	}
}

func compileString(s string) (*rules.Expr, error) {
	if s == "" {
		return rules.ConstString(s), nil
	}
	switch s[0] {
	case '$', '%', '?':
		if s == "%cpu-usage" {
			return nil, fmt.Errorf(
				"`%%cpu-usage` has been removed; use `cpu-usage-since = \"<duration>\"` instead, " +
					"for example `cpu-usage-since = \"1sec\"` for usage over the last second")
		}
		return rules.Var(s), nil
	default:
		return rules.ConstString(s), nil
	}
}

func compileTable(m map[string]any) (*rules.Expr, error) {
	if inner, ok := m["value"]; ok {
		return compileValueTable(m, inner)
	}

	if len(m) > 1 {
		// The only multi-key tables are value-tables and if/then/else.
		if _, ok := m["if"]; !ok {
			return nil, fmt.Errorf("ambiguous expression table with keys %v", keys(m))
		}
	}

	if cond, ok := m["if"]; ok {
		return compileIf(m, cond)
	}

	for key, kind := range predicateKeys {
		if inner, ok := m[key]; ok {
			arg, err := compileExpr(inner)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			return rules.Predicate(kind, arg), nil
		}
	}

	if inner, ok := m["cpu-usage-since"]; ok {
		s, isString := inner.(string)
		if !isString {
			return nil, fmt.Errorf("cpu-usage-since takes a duration string")
		}
		d, err := parseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("cpu-usage-since: %w", err)
		}
		return rules.UsageSince(d), nil
	}

	if inner, ok := m["is-unset"]; ok {
		arg, err := compileExpr(inner)
		if err != nil {
			return nil, fmt.Errorf("is-unset: %w", err)
		}
		return rules.IsUnset(arg), nil
	}

	if inner, ok := m["not"]; ok {
		arg, err := compileExpr(inner)
		if err != nil {
			return nil, fmt.Errorf("not: %w", err)
		}
		return rules.Logical(rules.LogicNot, arg), nil
	}

	listForms := []struct {
		key   string
		build func(args ...*rules.Expr) *rules.Expr
	}{
		{"all", func(args ...*rules.Expr) *rules.Expr { return rules.Logical(rules.LogicAll, args...) }},
		{"any", func(args ...*rules.Expr) *rules.Expr { return rules.Logical(rules.LogicAny, args...) }},
		{"minimum", func(args ...*rules.Expr) *rules.Expr { return rules.Aggregate(rules.AggMin, args...) }},
		{"maximum", func(args ...*rules.Expr) *rules.Expr { return rules.Aggregate(rules.AggMax, args...) }},
	}
	for _, form := range listForms {
		inner, ok := m[form.key]
		if !ok {
			continue
		}
		items, isList := inner.([]any)
		if !isList {
			return nil, fmt.Errorf("%s takes a list of expressions", form.key)
		}
		args := make([]*rules.Expr, len(items))
		for i, item := range items {
			arg, err := compileExpr(item)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", form.key, i, err)
			}
			args[i] = arg
		}
		return form.build(args...), nil
	}

	return nil, fmt.Errorf("unrecognized expression table with keys %v", keys(m))
}

// compileValueTable handles {value = X, <op> = Y} operator tables.
func compileValueTable(m map[string]any, inner any) (*rules.Expr, error) {
	lhs, err := compileExpr(inner)
	if err != nil {
		return nil, fmt.Errorf("value: %w", err)
	}

	if rhsRaw, ok := m["is-equal"]; ok {
		rhs, err := compileExpr(rhsRaw)
		if err != nil {
			return nil, fmt.Errorf("is-equal: %w", err)
		}
		var leeway *rules.Expr
		if leewayRaw, hasLeeway := m["leeway"]; hasLeeway {
			if leeway, err = compileExpr(leewayRaw); err != nil {
				return nil, fmt.Errorf("leeway: %w", err)
			}
		}
		if extra := extraKeys(m, "value", "is-equal", "leeway"); len(extra) > 0 {
			return nil, fmt.Errorf("unexpected keys %v alongside is-equal", extra)
		}
		return rules.Compare(lhs, rules.CmpEqual, rhs, leeway), nil
	}

	if _, hasLeeway := m["leeway"]; hasLeeway {
		return nil, fmt.Errorf("leeway is only valid alongside is-equal")
	}

	for op, build := range binaryOps {
		rhsRaw, ok := m[op]
		if !ok {
			continue
		}
		if len(m) != 2 {
			return nil, fmt.Errorf("unexpected keys %v alongside %s", extraKeys(m, "value", op), op)
		}
		rhs, err := compileExpr(rhsRaw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return build(lhs, rhs), nil
	}

	return nil, fmt.Errorf("value table needs an operator key, got %v", keys(m))
}

func compileIf(m map[string]any, cond any) (*rules.Expr, error) {
	condExpr, err := compileExpr(cond)
	if err != nil {
		return nil, fmt.Errorf("if: %w", err)
	}

	thenRaw, ok := m["then"]
	if !ok {
		return nil, fmt.Errorf("if without then")
	}
	thenExpr, err := compileExpr(thenRaw)
	if err != nil {
		return nil, fmt.Errorf("then: %w", err)
	}

	var elseExpr *rules.Expr
	if elseRaw, hasElse := m["else"]; hasElse {
		if elseExpr, err = compileExpr(elseRaw); err != nil {
			return nil, fmt.Errorf("else: %w", err)
		}
	}

	if extra := extraKeys(m, "if", "then", "else"); len(extra) > 0 {
		return nil, fmt.Errorf("unexpected keys %v alongside if", extra)
	}
	return rules.IfThen(condExpr, thenExpr, elseExpr), nil
}

func keys(m map[string]any) []string {
	ks := make([]string, 0, len(m))
	for k := range m {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	return ks
}

func extraKeys(m map[string]any, allowed ...string) []string {
	var extra []string
	for k := range m {
		found := false
		for _, a := range allowed {
			if k == a {
				found = true
				break
			}
		}
		if !found {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return extra
}

package rules

import (
	"math"
)

// Eval evaluates a checked expression against the environment. It never
// returns an error: anything the system cannot answer becomes
// Unavailable and propagates.
func (e *Expr) Eval(env *Env) Value {
	switch e.Op {
	case OpConstBool:
		return BoolValue(e.B)
	case OpConstNumber:
		return NumberValue(e.N)
	case OpConstString:
		return StringValue(e.S)

	case OpVar:
		return env.Lookup(e.S)

	case OpUsageSince:
		if env.MeanUsageSince == nil {
			return Unavailable
		}
		if u, ok := env.MeanUsageSince(e.Dur); ok {
			return NumberValue(u)
		}
		return Unavailable

	case OpPredicate:
		return e.evalPredicate(env)

	case OpCmp:
		return e.evalCmp(env)

	case OpArith:
		return e.evalArith(env)

	case OpAgg:
		return e.evalAgg(env)

	case OpLogic:
		return e.evalLogic(env)

	case OpIfThen:
		cond := e.Args[0].Eval(env)
		if cond.Kind == KindUnavailable {
			return Unavailable
		}
		if cond.IsTrue() {
			return e.Args[1].Eval(env)
		}
		if len(e.Args) == 3 {
			return e.Args[2].Eval(env)
		}
		return Unavailable

	case OpIsUnset:
		inner := e.Args[0].Eval(env)
		return BoolValue(inner.Kind == KindUnavailable)

	default:
		return Unavailable
	}
}

func (e *Expr) evalPredicate(env *Env) Value {
	arg := e.Args[0].Eval(env)
	if arg.Kind != KindString {
		return Unavailable
	}

	switch e.Pred {
	case PredGovernor:
		return BoolValue(env.Caps.HasGovernor(arg.S))
	case PredEPP:
		return BoolValue(env.Caps.HasEPP(arg.S))
	case PredEPB:
		return BoolValue(env.Caps.HasEPB(arg.S))
	case PredPlatformProfile:
		return BoolValue(env.Caps.HasPlatformProfile(arg.S))
	case PredDriverLoaded:
		if env.DriverLoaded == nil {
			return Unavailable
		}
		return BoolValue(env.DriverLoaded(arg.S))
	default:
		return Unavailable
	}
}

func (e *Expr) evalCmp(env *Env) Value {
	lhs := e.Args[0].Eval(env)
	if lhs.Kind != KindNumber {
		return Unavailable
	}
	rhs := e.Args[1].Eval(env)
	if rhs.Kind != KindNumber {
		return Unavailable
	}
	if math.IsNaN(lhs.N) || math.IsNaN(rhs.N) {
		return Unavailable
	}

	switch e.Cmp {
	case CmpLess:
		return BoolValue(lhs.N < rhs.N)
	case CmpMore:
		return BoolValue(lhs.N > rhs.N)
	case CmpEqual:
		leeway := 0.0
		if e.Leeway != nil {
			lv := e.Leeway.Eval(env)
			if lv.Kind != KindNumber || math.IsNaN(lv.N) {
				return Unavailable
			}
			leeway = lv.N
		}
		return BoolValue(math.Abs(lhs.N-rhs.N) <= leeway)
	default:
		return Unavailable
	}
}

func (e *Expr) evalArith(env *Env) Value {
	lhs := e.Args[0].Eval(env)
	if lhs.Kind != KindNumber {
		return Unavailable
	}
	rhs := e.Args[1].Eval(env)
	if rhs.Kind != KindNumber {
		return Unavailable
	}

	var n float64
	switch e.Arith {
	case ArithPlus:
		n = lhs.N + rhs.N
	case ArithMinus:
		n = lhs.N - rhs.N
	case ArithMultiply:
		n = lhs.N * rhs.N
	case ArithDivide:
		if rhs.N == 0 {
			return Unavailable
		}
		n = lhs.N / rhs.N
	case ArithPower:
		n = math.Pow(lhs.N, rhs.N)
	default:
		return Unavailable
	}

	if math.IsNaN(n) || math.IsInf(n, 0) {
		return Unavailable
	}
	return NumberValue(n)
}

func (e *Expr) evalAgg(env *Env) Value {
	var best float64
	for i, arg := range e.Args {
		v := arg.Eval(env)
		if v.Kind != KindNumber || math.IsNaN(v.N) {
			return Unavailable
		}
		if i == 0 {
			best = v.N
			continue
		}
		switch e.Agg {
		case AggMin:
			best = math.Min(best, v.N)
		case AggMax:
			best = math.Max(best, v.N)
		}
	}
	return NumberValue(best)
}

// evalLogic short-circuits left to right: and stops on the first
// non-true operand, or stops on the first true one. An Unavailable
// operand counts as false in this boolean position; only not propagates
// Unavailable.
func (e *Expr) evalLogic(env *Env) Value {
	switch e.Logic {
	case LogicNot:
		v := e.Args[0].Eval(env)
		if v.Kind != KindBool {
			return Unavailable
		}
		return BoolValue(!v.B)

	case LogicAnd, LogicAll:
		for _, arg := range e.Args {
			if !arg.Eval(env).IsTrue() {
				return BoolValue(false)
			}
		}
		return BoolValue(true)

	case LogicOr, LogicAny:
		for _, arg := range e.Args {
			if arg.Eval(env).IsTrue() {
				return BoolValue(true)
			}
		}
		return BoolValue(false)

	default:
		return Unavailable
	}
}

package rules

import (
	"fmt"
	"time"
)

// Op is the expression node discriminator.
type Op int

const (
	OpConstBool Op = iota
	OpConstNumber
	OpConstString
	OpVar
	OpUsageSince
	OpPredicate
	OpCmp
	OpArith
	OpAgg
	OpLogic
	OpIfThen
	OpIsUnset
)

// PredKind selects which capability set a predicate consults.
type PredKind int

const (
	PredGovernor PredKind = iota
	PredEPP
	PredEPB
	PredPlatformProfile
	PredDriverLoaded
)

// CmpOp is a comparison operator.
type CmpOp int

const (
	CmpLess CmpOp = iota
	CmpMore
	CmpEqual
)

// ArithOp is an arithmetic operator.
type ArithOp int

const (
	ArithPlus ArithOp = iota
	ArithMinus
	ArithMultiply
	ArithDivide
	ArithPower
)

// AggOp is a numeric aggregation.
type AggOp int

const (
	AggMin AggOp = iota
	AggMax
)

// LogicOp is a boolean combinator.
type LogicOp int

const (
	LogicAnd LogicOp = iota
	LogicOr
	LogicAll
	LogicAny
	LogicNot
)

// Expr is one node of the expression tree. Exactly the fields relevant
// to Op are populated; construction happens in the config compiler,
// which also typechecks the tree.
type Expr struct {
	Op Op

	B bool    // OpConstBool
	N float64 // OpConstNumber
	S string  // OpConstString, OpVar (name with sigil)

	Dur time.Duration // OpUsageSince

	Pred  PredKind // OpPredicate
	Cmp   CmpOp    // OpCmp
	Arith ArithOp  // OpArith
	Agg   AggOp    // OpAgg
	Logic LogicOp  // OpLogic

	// Leeway is present iff Op == OpCmp && Cmp == CmpEqual.
	Leeway *Expr

	// Args holds operands: [lhs, rhs] for binary nodes, the single
	// operand for not/is-unset, [cond, then] or [cond, then, else]
	// for if, and the member list for all/any/minimum/maximum.
	Args []*Expr
}

// Convenience constructors, used by the compiler and tests.

func ConstBool(b bool) *Expr     { return &Expr{Op: OpConstBool, B: b} }
func ConstNumber(n float64) *Expr { return &Expr{Op: OpConstNumber, N: n} }
func ConstString(s string) *Expr  { return &Expr{Op: OpConstString, S: s} }

// Var references a system variable by its sigil-prefixed name.
func Var(name string) *Expr { return &Expr{Op: OpVar, S: name} }

// UsageSince averages CPU usage over the trailing duration.
func UsageSince(d time.Duration) *Expr { return &Expr{Op: OpUsageSince, Dur: d} }

// Predicate builds a capability test over a string-valued argument.
func Predicate(kind PredKind, arg *Expr) *Expr {
	return &Expr{Op: OpPredicate, Pred: kind, Args: []*Expr{arg}}
}

// Compare builds a comparison. Leeway is only meaningful for CmpEqual;
// the compiler rejects it elsewhere.
func Compare(lhs *Expr, op CmpOp, rhs *Expr, leeway *Expr) *Expr {
	return &Expr{Op: OpCmp, Cmp: op, Args: []*Expr{lhs, rhs}, Leeway: leeway}
}

// Arithmetic builds a binary arithmetic node.
func Arithmetic(lhs *Expr, op ArithOp, rhs *Expr) *Expr {
	return &Expr{Op: OpArith, Arith: op, Args: []*Expr{lhs, rhs}}
}

// Aggregate builds minimum/maximum over one or more numbers.
func Aggregate(op AggOp, args ...*Expr) *Expr {
	return &Expr{Op: OpAgg, Agg: op, Args: args}
}

// Logical builds a boolean combinator node.
func Logical(op LogicOp, args ...*Expr) *Expr {
	return &Expr{Op: OpLogic, Logic: op, Args: args}
}

// IfThen yields then when cond is true, the optional else otherwise, and
// Unavailable when cond is false with no else.
func IfThen(cond, then *Expr, elseExpr *Expr) *Expr {
	args := []*Expr{cond, then}
	if elseExpr != nil {
		args = append(args, elseExpr)
	}
	return &Expr{Op: OpIfThen, Args: args}
}

// IsUnset yields true iff its operand evaluates to Unavailable.
func IsUnset(arg *Expr) *Expr { return &Expr{Op: OpIsUnset, Args: []*Expr{arg}} }

// Type is the static type of an expression, checked at config load.
type Type int

const (
	TypeBool Type = iota
	TypeNumber
	TypeString
)

func (t Type) String() string {
	switch t {
	case TypeBool:
		return "boolean"
	case TypeNumber:
		return "number"
	case TypeString:
		return "string"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// varTypes maps every known variable to its static type. The sigil is
// part of the name and kept for diagnostics; the semantics come from
// this table and the environment.
var varTypes = map[string]Type{
	"$cpu-temperature":            TypeNumber,
	"$cpu-idle-seconds":           TypeNumber,
	"$cpu-usage-volatility":       TypeNumber,
	"$cpu-temperature-volatility": TypeNumber,
	"$cpu-frequency-maximum":      TypeNumber,
	"$cpu-frequency-minimum":      TypeNumber,
	"$cpu-scaling-maximum":        TypeNumber,
	"$load-average-1m":            TypeNumber,
	"$load-average-5m":            TypeNumber,
	"$load-average-15m":           TypeNumber,
	"$hour-of-day":                TypeNumber,
	"%cpu-core-count":             TypeNumber,
	"%power-supply-charge":        TypeNumber,
	"%power-supply-discharge-rate": TypeNumber,
	"?discharging":                TypeBool,
	"?frequency-available":        TypeBool,
	"?turbo-available":            TypeBool,
}

// Check typechecks the tree and returns its static type. A failure here
// is a configuration error; evaluation assumes a checked tree.
func (e *Expr) Check() (Type, error) {
	switch e.Op {
	case OpConstBool:
		return TypeBool, nil
	case OpConstNumber:
		return TypeNumber, nil
	case OpConstString:
		return TypeString, nil

	case OpVar:
		t, ok := varTypes[e.S]
		if !ok {
			return 0, fmt.Errorf("unknown variable %q", e.S)
		}
		return t, nil

	case OpUsageSince:
		if e.Dur <= 0 {
			return 0, fmt.Errorf("cpu-usage-since requires a positive duration")
		}
		return TypeNumber, nil

	case OpPredicate:
		t, err := e.Args[0].Check()
		if err != nil {
			return 0, err
		}
		if t != TypeString {
			return 0, fmt.Errorf("predicate argument must be a string, got %s", t)
		}
		return TypeBool, nil

	case OpCmp:
		if err := e.checkOperands(TypeNumber); err != nil {
			return 0, err
		}
		if e.Leeway != nil {
			if e.Cmp != CmpEqual {
				return 0, fmt.Errorf("leeway is only valid on is-equal")
			}
			t, err := e.Leeway.Check()
			if err != nil {
				return 0, err
			}
			if t != TypeNumber {
				return 0, fmt.Errorf("leeway must be a number, got %s", t)
			}
		}
		return TypeBool, nil

	case OpArith:
		if err := e.checkOperands(TypeNumber); err != nil {
			return 0, err
		}
		return TypeNumber, nil

	case OpAgg:
		if len(e.Args) == 0 {
			return 0, fmt.Errorf("minimum/maximum require at least one expression")
		}
		if err := e.checkOperands(TypeNumber); err != nil {
			return 0, err
		}
		return TypeNumber, nil

	case OpLogic:
		if e.Logic == LogicNot && len(e.Args) != 1 {
			return 0, fmt.Errorf("not takes exactly one expression")
		}
		if err := e.checkOperands(TypeBool); err != nil {
			return 0, err
		}
		return TypeBool, nil

	case OpIfThen:
		condType, err := e.Args[0].Check()
		if err != nil {
			return 0, err
		}
		if condType != TypeBool {
			return 0, fmt.Errorf("if condition must be a boolean, got %s", condType)
		}
		thenType, err := e.Args[1].Check()
		if err != nil {
			return 0, err
		}
		if len(e.Args) == 3 {
			elseType, err := e.Args[2].Check()
			if err != nil {
				return 0, err
			}
			if elseType != thenType {
				return 0, fmt.Errorf("if branches disagree: then is %s, else is %s", thenType, elseType)
			}
		}
		return thenType, nil

	case OpIsUnset:
		if _, err := e.Args[0].Check(); err != nil {
			return 0, err
		}
		return TypeBool, nil

	default:
		return 0, fmt.Errorf("invalid expression node (op=%d)", e.Op)
	}
}

func (e *Expr) checkOperands(want Type) error {
	for _, arg := range e.Args {
		t, err := arg.Check()
		if err != nil {
			return err
		}
		if t != want {
			return fmt.Errorf("operand must be a %s, got %s", want, t)
		}
	}
	return nil
}

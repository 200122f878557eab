// Package rules implements the watt expression language and the rule
// engine that turns matched rules into an applied plan.
//
// Expressions are a tagged sum evaluated by a recursive switch. Values
// carry availability as a first-class state: a rule may reference
// hardware-optional data (battery charge on a desktop, volatility before
// the history warms up) and the unavailability propagates through
// arithmetic and comparison instead of erroring.
package rules

import (
	"fmt"
	"strconv"
)

// ValueKind discriminates Value.
type ValueKind int

const (
	KindUnavailable ValueKind = iota
	KindBool
	KindNumber
	KindString
)

// Value is the result of evaluating an expression. Comparable, so tests
// and the engine can use equality directly.
type Value struct {
	Kind ValueKind

	B bool
	N float64
	S string
}

// Unavailable is the absent value. It propagates through arithmetic and
// comparison and never matches a rule.
var Unavailable = Value{Kind: KindUnavailable}

// BoolValue wraps a bool.
func BoolValue(b bool) Value { return Value{Kind: KindBool, B: b} }

// NumberValue wraps a float64.
func NumberValue(n float64) Value { return Value{Kind: KindNumber, N: n} }

// StringValue wraps a string.
func StringValue(s string) Value { return Value{Kind: KindString, S: s} }

// IsTrue reports whether the value is exactly Bool(true). Unavailable,
// false, and non-boolean values all report false.
func (v Value) IsTrue() bool { return v.Kind == KindBool && v.B }

// String renders the value for diagnostics.
func (v Value) String() string {
	switch v.Kind {
	case KindUnavailable:
		return "unavailable"
	case KindBool:
		return strconv.FormatBool(v.B)
	case KindNumber:
		return strconv.FormatFloat(v.N, 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.S)
	default:
		return fmt.Sprintf("value(kind=%d)", v.Kind)
	}
}

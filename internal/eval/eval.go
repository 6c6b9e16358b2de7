// Package eval scores a single item's user input against the boolean
// response-condition trees of its scoring rules. Evaluators are pure
// functions; condition operators form a closed set dispatched through a
// table built at load time, never by name lookup at evaluation time.
package eval

import (
	"strconv"
	"strings"

	"github.com/openassess/qti-runtime/internal/qti"
)

// ItemInput is the user's submitted answer(s) for one item, keyed by response
// identifier. A missing key or empty value list means no answer was given.
type ItemInput map[string][]string

func (in ItemInput) IsEmpty() bool {
	for _, vs := range in {
		for _, v := range vs {
			if strings.TrimSpace(v) != "" {
				return false
			}
		}
	}
	return true
}

// Single returns the first submitted value for a response identifier.
func (in ItemInput) Single(respID string) (string, bool) {
	vs, ok := in[respID]
	if !ok || len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// Evaluate interprets a condition tree against one item's input. Definitions
// are validated at load (qti.Assessment.Validate), so every operator reaching
// here is known; an unknown one is a corrupted definition and panics.
func Evaluate(c *qti.Condition, in ItemInput) bool {
	switch c.Op {
	case qti.OpAnd:
		for _, ch := range c.Children {
			if !Evaluate(ch, in) {
				return false
			}
		}
		return true // and over no children is true
	case qti.OpOr:
		for _, ch := range c.Children {
			if Evaluate(ch, in) {
				return true
			}
		}
		return false // or over no children is false
	case qti.OpNot:
		return !Evaluate(c.Children[0], in)
	case qti.OpVarEqual:
		v, ok := in.Single(c.Var)
		return ok && v == c.Value
	case qti.OpVarGT, qti.OpVarGTE, qti.OpVarLT, qti.OpVarLTE:
		return compareNumeric(c, in)
	default:
		panic("eval: unvalidated condition operator " + string(c.Op))
	}
}

// compareNumeric implements the var{gt,gte,lt,lte} comparisons. An absent
// response is false without attempting a parse; a malformed number on either
// side is false rather than an error, so one broken authored condition can
// never take down an otherwise valid attempt.
func compareNumeric(c *qti.Condition, in ItemInput) bool {
	if in.IsEmpty() {
		return false
	}
	raw, ok := in.Single(c.Var)
	if !ok {
		return false
	}
	resp, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return false
	}
	ref, err := strconv.ParseFloat(strings.TrimSpace(c.Value), 64)
	if err != nil {
		return false
	}
	switch c.Op {
	case qti.OpVarGT:
		return resp > ref
	case qti.OpVarGTE:
		return resp >= ref
	case qti.OpVarLT:
		return resp < ref
	case qti.OpVarLTE:
		return resp <= ref
	}
	return false
}

package eval

import (
	"github.com/openassess/qti-runtime/internal/qti"
)

// Predicate is a compiled selection test over one item's input.
type Predicate func(in ItemInput) bool

// Compile resolves a condition tree into a predicate at load time. The
// negated flag is threaded explicitly: a not node flips it and compiles its
// child with the flipped polarity. Callers pass the polarity accumulated so
// far; it is not carried by the tree itself.
func Compile(c *qti.Condition, negated bool) Predicate {
	switch c.Op {
	case qti.OpNot:
		return Compile(c.Children[0], !negated)
	case qti.OpAnd, qti.OpOr:
		children := make([]Predicate, len(c.Children))
		for i, ch := range c.Children {
			children[i] = Compile(ch, false)
		}
		// no De Morgan rewrite: the polarity flip wraps the whole junction
		all := c.Op == qti.OpAnd
		return func(in ItemInput) bool {
			got := evalJunction(children, all, in)
			if negated {
				return !got
			}
			return got
		}
	default:
		leaf := c
		return func(in ItemInput) bool {
			got := Evaluate(leaf, in)
			if negated {
				return !got
			}
			return got
		}
	}
}

func evalJunction(children []Predicate, all bool, in ItemInput) bool {
	if all {
		for _, p := range children {
			if !p(in) {
				return false
			}
		}
		return true
	}
	for _, p := range children {
		if p(in) {
			return true
		}
	}
	return false
}

type compiledRule struct {
	score float64
	pred  Predicate
}

// Scorer holds the compiled scoring rules of one assessment definition.
// Build it once per definition load and share it read-only across sessions.
type Scorer struct {
	rules map[string][]compiledRule // itemID -> rules
}

func NewScorer(def *qti.Assessment) *Scorer {
	s := &Scorer{rules: make(map[string][]compiledRule)}
	for si := range def.Sections {
		for ii := range def.Sections[si].Items {
			it := &def.Sections[si].Items[ii]
			rs := make([]compiledRule, 0, len(it.Rules))
			for _, r := range it.Rules {
				rs = append(rs, compiledRule{score: r.Score, pred: Compile(r.Condition, false)})
			}
			s.rules[it.ID] = rs
		}
	}
	return s
}

// Score sums the score values of all rules whose condition holds for the
// given input. Unknown item IDs score zero.
func (s *Scorer) Score(itemID string, in ItemInput) float64 {
	total := 0.0
	for _, r := range s.rules[itemID] {
		if r.pred(in) {
			total += r.score
		}
	}
	return total
}

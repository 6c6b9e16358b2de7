package qti

import (
	"fmt"
	"time"
)

// NavigationMode is fixed per assessment at authoring time and selects the
// navigator variant that drives a session.
type NavigationMode string

const (
	NavMenuSection   NavigationMode = "menuSection"   // user picks sections from a menu
	NavLinearSection NavigationMode = "linearSection" // sections in authored order
	NavItemPage      NavigationMode = "itemPage"      // one item per page, strictly linear
)

// Op is the closed set of condition operators. The evaluator dispatch table in
// internal/eval is keyed by Op; Validate rejects anything outside this set at
// load time.
type Op string

const (
	OpAnd      Op = "and"
	OpOr       Op = "or"
	OpNot      Op = "not"
	OpVarEqual Op = "varequal"
	OpVarGT    Op = "vargt"
	OpVarGTE   Op = "vargte"
	OpVarLT    Op = "varlt"
	OpVarLTE   Op = "varlte"
)

// Condition is one node of a boolean response-condition tree.
// And/Or/Not carry Children; the var* comparisons carry Var (response
// identifier) and Value (reference literal from the authoring package).
type Condition struct {
	Op       Op           `json:"op"`
	Var      string       `json:"var,omitempty"`
	Value    string       `json:"value,omitempty"`
	Children []*Condition `json:"children,omitempty"`
}

// ScoringRule awards Score when its condition evaluates true.
type ScoringRule struct {
	Score     float64    `json:"score"`
	Condition *Condition `json:"condition"`
}

type Item struct {
	ID        string        `json:"id"`
	Title     string        `json:"title,omitempty"`
	Responses []string      `json:"responses"` // declared response identifiers
	Required  bool          `json:"required,omitempty"`
	Rules     []ScoringRule `json:"rules"`
}

type Section struct {
	ID            string         `json:"id"`
	Title         string         `json:"title,omitempty"`
	DurationLimit *time.Duration `json:"duration_limit,omitempty"` // nil = unlimited
	Items         []Item         `json:"items"`
}

// Assessment is the immutable definition tree, parsed once per test package
// and shared read-only across concurrent sessions.
type Assessment struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	Mode          NavigationMode `json:"mode"`
	DurationLimit *time.Duration `json:"duration_limit,omitempty"`
	CutValue      *float64       `json:"cut_value,omitempty"` // pass threshold, nil = ungraded
	Sections      []Section      `json:"sections"`
}

func (a *Assessment) Section(pos int) *Section {
	return &a.Sections[pos]
}

// Validate checks structural soundness and that every condition operator is in
// the closed Op set, so evaluation never meets an unknown node.
func (a *Assessment) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("assessment: missing identifier")
	}
	switch a.Mode {
	case NavMenuSection, NavLinearSection, NavItemPage:
	default:
		return fmt.Errorf("assessment %s: unknown navigation mode %q", a.ID, a.Mode)
	}
	if len(a.Sections) == 0 {
		return fmt.Errorf("assessment %s: no sections", a.ID)
	}
	for si := range a.Sections {
		s := &a.Sections[si]
		if s.ID == "" {
			return fmt.Errorf("assessment %s: section %d missing identifier", a.ID, si)
		}
		if len(s.Items) == 0 {
			return fmt.Errorf("section %s: no items", s.ID)
		}
		for ii := range s.Items {
			it := &s.Items[ii]
			if it.ID == "" {
				return fmt.Errorf("section %s: item %d missing identifier", s.ID, ii)
			}
			for _, r := range it.Rules {
				if err := validateCondition(it.ID, r.Condition); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func validateCondition(itemID string, c *Condition) error {
	if c == nil {
		return fmt.Errorf("item %s: scoring rule without condition", itemID)
	}
	switch c.Op {
	case OpAnd, OpOr:
		for _, ch := range c.Children {
			if err := validateCondition(itemID, ch); err != nil {
				return err
			}
		}
	case OpNot:
		if len(c.Children) != 1 {
			return fmt.Errorf("item %s: not takes exactly one child, got %d", itemID, len(c.Children))
		}
		return validateCondition(itemID, c.Children[0])
	case OpVarEqual, OpVarGT, OpVarGTE, OpVarLT, OpVarLTE:
		if c.Var == "" {
			return fmt.Errorf("item %s: %s without response identifier", itemID, c.Op)
		}
	default:
		return fmt.Errorf("item %s: unknown condition operator %q", itemID, c.Op)
	}
	return nil
}

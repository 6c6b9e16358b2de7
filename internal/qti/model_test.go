package qti

import (
	"strings"
	"testing"
)

func validAssessment() *Assessment {
	return &Assessment{
		ID:   "a1",
		Mode: NavMenuSection,
		Sections: []Section{
			{ID: "s1", Items: []Item{
				{ID: "i1", Responses: []string{"R"}, Rules: []ScoringRule{{
					Score: 1,
					Condition: &Condition{Op: OpAnd, Children: []*Condition{
						{Op: OpVarGTE, Var: "R", Value: "1"},
						{Op: OpNot, Children: []*Condition{{Op: OpVarGT, Var: "R", Value: "9"}}},
					}},
				}}},
			}},
		},
	}
}

func TestValidate(t *testing.T) {
	if err := validAssessment().Validate(); err != nil {
		t.Fatalf("valid tree rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Assessment)
		want   string
	}{
		{"missing id", func(a *Assessment) { a.ID = "" }, "missing identifier"},
		{"bad mode", func(a *Assessment) { a.Mode = "freeform" }, "unknown navigation mode"},
		{"no sections", func(a *Assessment) { a.Sections = nil }, "no sections"},
		{"empty section", func(a *Assessment) { a.Sections[0].Items = nil }, "no items"},
		{"unknown op", func(a *Assessment) {
			a.Sections[0].Items[0].Rules[0].Condition.Children[0].Op = "varsubset"
		}, "unknown condition operator"},
		{"not arity", func(a *Assessment) {
			a.Sections[0].Items[0].Rules[0].Condition.Children[1].Children = nil
		}, "exactly one child"},
		{"leaf without var", func(a *Assessment) {
			a.Sections[0].Items[0].Rules[0].Condition.Children[0].Var = ""
		}, "without response identifier"},
		{"nil condition", func(a *Assessment) {
			a.Sections[0].Items[0].Rules[0].Condition = nil
		}, "without condition"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := validAssessment()
			tc.mutate(a)
			err := a.Validate()
			if err == nil {
				t.Fatal("want error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

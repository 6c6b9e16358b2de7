package session

import (
	"context"
	"testing"

	"github.com/openassess/qti-runtime/internal/eval"
	"github.com/openassess/qti-runtime/internal/qti"
	"github.com/openassess/qti-runtime/internal/result"
)

type singleDef struct{ def *qti.Assessment }

func (d singleDef) Get(_ context.Context, id string) (*qti.Assessment, error) {
	if id != d.def.ID {
		return nil, qti.ErrNotFound
	}
	return d.def, nil
}

func TestLockEntryDroppedWhenAttemptFinishes(t *testing.T) {
	ctx := context.Background()
	def := &qti.Assessment{
		ID:   "exam-1",
		Mode: qti.NavMenuSection,
		Sections: []qti.Section{
			{ID: "s1", Items: []qti.Item{
				{ID: "i1", Responses: []string{"R1"}, Rules: []qti.ScoringRule{{
					Score:     1,
					Condition: &qti.Condition{Op: qti.OpVarEqual, Var: "R1", Value: "yes"},
				}}},
			}},
		},
	}
	svc := New(singleDef{def: def}, result.NewMemoryStore(), nil)

	att, err := svc.StartAttempt(ctx, "exam-1", "alice", "")
	if err != nil {
		t.Fatalf("StartAttempt: %v", err)
	}
	id := att.ResultSet.ID

	if _, err := svc.GoToSection(ctx, id, 0, ""); err != nil {
		t.Fatalf("GoToSection: %v", err)
	}
	svc.lockMu.Lock()
	held := len(svc.locks)
	svc.lockMu.Unlock()
	if held != 1 {
		t.Fatalf("in-progress attempt should hold one lock entry, got %d", held)
	}

	if _, err := svc.SubmitItems(ctx, id, map[string]eval.ItemInput{"i1": {"R1": {"yes"}}}, ""); err != nil {
		t.Fatalf("SubmitItems: %v", err)
	}
	svc.lockMu.Lock()
	held = len(svc.locks)
	svc.lockMu.Unlock()
	if held != 0 {
		t.Fatalf("finished attempt must release its lock entry, %d left", held)
	}
}

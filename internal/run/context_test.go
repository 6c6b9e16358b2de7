package run

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/openassess/qti-runtime/internal/qti"
)

func minutes(n int) *time.Duration {
	d := time.Duration(n) * time.Minute
	return &d
}

func twoSectionDef() *qti.Assessment {
	return &qti.Assessment{
		ID:   "a1",
		Mode: qti.NavMenuSection,
		Sections: []qti.Section{
			{ID: "s1", DurationLimit: minutes(10), Items: []qti.Item{{ID: "i1"}, {ID: "i2", Required: true}}},
			{ID: "s2", Items: []qti.Item{{ID: "i3"}}},
		},
	}
}

func TestNodeLifecycle(t *testing.T) {
	def := twoSectionDef()
	ctx := NewContext(def)
	now := time.Now()

	if ctx.IsOpen(now) {
		t.Fatal("context must not be open before Start")
	}
	if err := ctx.Start(now); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !ctx.IsOpen(now) {
		t.Fatal("context must be open after Start")
	}
	// starting an open node is a no-op
	if err := ctx.Start(now.Add(time.Second)); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	ctx.Finish(now)
	if err := ctx.Start(now); err != ErrNodeClosed {
		t.Fatalf("Start after close = %v, want ErrNodeClosed", err)
	}
	if ctx.IsOpen(now) {
		t.Fatal("closed context must not be open")
	}
}

func TestStartSectionOpensItemsEagerly(t *testing.T) {
	def := twoSectionDef()
	ctx := NewContext(def)
	now := time.Now()
	if err := ctx.Start(now); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := ctx.StartSection(0, now); err != nil {
		t.Fatalf("StartSection: %v", err)
	}
	for i, it := range ctx.Sections[0].Items {
		if it.State != Open {
			t.Fatalf("item %d not started with its section: state=%v", i, it.State)
		}
	}
	if ctx.Sections[1].State != NotStarted {
		t.Fatal("sibling section must stay untouched")
	}

	ctx.SectionSubmitted(0, now)
	if err := ctx.StartSection(0, now); err == nil {
		t.Fatal("restarting a submitted section must be rejected")
	}
}

func TestSectionWindow(t *testing.T) {
	def := twoSectionDef()
	ctx := NewContext(def)
	start := time.Now()
	_ = ctx.Start(start)
	_ = ctx.StartSection(0, start)

	if !ctx.SectionIsOpen(0, start.Add(9*time.Minute)) {
		t.Fatal("section must be open inside its window")
	}
	if ctx.SectionIsOpen(0, start.Add(11*time.Minute)) {
		t.Fatal("section must be closed past its window")
	}
	if !ctx.SectionExpired(0, start.Add(11*time.Minute)) {
		t.Fatal("SectionExpired must report an elapsed window")
	}
	// s2 has no limit
	_ = ctx.StartSection(1, start)
	if !ctx.SectionIsOpen(1, start.Add(240*time.Hour)) {
		t.Fatal("unlimited section must never expire")
	}
}

func TestRequiredOutstanding(t *testing.T) {
	def := twoSectionDef()
	ctx := NewContext(def)
	now := time.Now()
	_ = ctx.Start(now)
	_ = ctx.StartSection(0, now)

	if !ctx.RequiredOutstanding(0) {
		t.Fatal("required item i2 is unanswered")
	}
	ctx.RecordScore(0, 1, 1.0, false, now) // empty submission: still outstanding
	if !ctx.RequiredOutstanding(0) {
		t.Fatal("unanswered submission must not satisfy a required item")
	}
	ctx.RecordScore(0, 1, 1.0, true, now)
	if ctx.RequiredOutstanding(0) {
		t.Fatal("answered required item still reported outstanding")
	}
}

func TestCursorOutOfRangePanics(t *testing.T) {
	ctx := NewContext(twoSectionDef())
	defer func() {
		if recover() == nil {
			t.Fatal("out-of-range cursor must panic")
		}
	}()
	ctx.SetCurrentSectionPos(5)
}

func TestSnapshotRoundTrip(t *testing.T) {
	def := twoSectionDef()
	ctx := NewContext(def)
	now := time.Now()
	_ = ctx.Start(now)
	_ = ctx.StartSection(0, now)
	ctx.SetCurrentSectionPos(0)
	ctx.RecordScore(0, 0, 2.5, true, now.Add(30*time.Second))
	ctx.SectionSubmitted(0, now.Add(time.Minute))

	snap, err := ctx.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	got, err := Restore(def, snap)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got.State != Open || got.Cur != 0 {
		t.Fatalf("restored state=%v cur=%d", got.State, got.Cur)
	}
	if got.Sections[0].State != Closed {
		t.Fatal("restored section 0 must be closed")
	}
	if got.Sections[0].Items[0].Score != 2.5 || !got.Sections[0].Items[0].Answered {
		t.Fatalf("restored item outcome lost: %+v", got.Sections[0].Items[0])
	}
	if got.TotalScore() != 2.5 {
		t.Fatalf("TotalScore=%v, want 2.5", got.TotalScore())
	}
}

func TestRestoreRejectsMismatchedDefinition(t *testing.T) {
	ctx := NewContext(twoSectionDef())
	snap, _ := ctx.Snapshot()

	other := &qti.Assessment{ID: "other", Mode: qti.NavMenuSection,
		Sections: []qti.Section{{ID: "s1", Items: []qti.Item{{ID: "x"}}}}}
	if _, err := Restore(other, snap); err == nil {
		t.Fatal("restore against a different tree shape must fail")
	}
}

func TestRestoreRejectsCorruptCursor(t *testing.T) {
	def := twoSectionDef()
	for _, tc := range []struct {
		name  string
		patch func(map[string]any)
	}{
		{"section cursor high", func(m map[string]any) { m["cur"] = 99 }},
		{"section cursor low", func(m map[string]any) { m["cur"] = -7 }},
		{"item cursor high", func(m map[string]any) { m["cur"] = 0; m["cur_item"] = 99 }},
		{"item cursor without section", func(m map[string]any) { m["cur"] = -1; m["cur_item"] = 0 }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := NewContext(def)
			_ = ctx.Start(time.Now())
			snap, err := ctx.Snapshot()
			if err != nil {
				t.Fatalf("Snapshot: %v", err)
			}
			var m map[string]any
			if err := json.Unmarshal(snap, &m); err != nil {
				t.Fatalf("decode snapshot: %v", err)
			}
			tc.patch(m)
			corrupted, err := json.Marshal(m)
			if err != nil {
				t.Fatalf("re-encode snapshot: %v", err)
			}
			if _, err := Restore(def, corrupted); err == nil {
				t.Fatal("corrupted cursor must fail restore, not panic later")
			}
		})
	}
}

package nav_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/openassess/qti-runtime/internal/eval"
	"github.com/openassess/qti-runtime/internal/nav"
	"github.com/openassess/qti-runtime/internal/qti"
	"github.com/openassess/qti-runtime/internal/result"
	"github.com/openassess/qti-runtime/internal/run"
)

type fakeClock struct{ t time.Time }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)}
}
func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func durationPtr(d time.Duration) *time.Duration { return &d }

func equalRule(respID, value string, score float64) qti.ScoringRule {
	return qti.ScoringRule{Score: score, Condition: &qti.Condition{Op: qti.OpVarEqual, Var: respID, Value: value}}
}

// two sections, one point per correct answer
func menuDef() *qti.Assessment {
	cut := 2.0
	return &qti.Assessment{
		ID:       "test-1",
		Title:    "Menu test",
		Mode:     qti.NavMenuSection,
		CutValue: &cut,
		Sections: []qti.Section{
			{ID: "s1", Items: []qti.Item{
				{ID: "i1", Responses: []string{"R1"}, Rules: []qti.ScoringRule{equalRule("R1", "A", 1)}},
				{ID: "i2", Responses: []string{"R2"}, Rules: []qti.ScoringRule{equalRule("R2", "B", 1)}},
			}},
			{ID: "s2", Items: []qti.Item{
				{ID: "i3", Responses: []string{"R3"}, Rules: []qti.ScoringRule{equalRule("R3", "C", 1)}},
			}},
		},
	}
}

func newNavigator(t *testing.T, def *qti.Assessment, store result.Store, clock *fakeClock) nav.Navigator {
	t.Helper()
	if err := store.CreateResultSet(context.Background(), result.ResultSet{
		ID: "rs-1", AssessmentID: def.ID, UserID: "u1",
		Status: result.StatusInProgress, StartedAt: clock.Now().UnixMilli(),
	}); err != nil {
		t.Fatalf("create result set: %v", err)
	}
	return nav.New(def, run.NewContext(def), eval.NewScorer(def), store, "rs-1", nav.WithClock(clock.Now))
}

func TestMenuNavigatorFullFlow(t *testing.T) {
	ctx := context.Background()
	def := menuDef()
	store := result.NewMemoryStore()
	clock := newClock()
	n := newNavigator(t, def, store, clock)

	if err := n.StartAssessment(ctx); err != nil {
		t.Fatalf("StartAssessment: %v", err)
	}
	if got := n.Info(); got.Status != nav.StatusRunning || got.RenderItems {
		t.Fatalf("after start: %+v", got)
	}

	if err := n.GoToSection(ctx, 0); err != nil {
		t.Fatalf("GoToSection(0): %v", err)
	}
	if got := n.Info(); got.Status != nav.StatusSectionOpen || !got.RenderItems {
		t.Fatalf("after goToSection: %+v", got)
	}

	clock.Advance(40 * time.Second)
	err := n.SubmitItems(ctx, map[string]eval.ItemInput{
		"i1": {"R1": {"A"}},
		"i2": {"R2": {"wrong"}},
	})
	if err != nil {
		t.Fatalf("SubmitItems: %v", err)
	}
	if got := n.Info(); got.Status != nav.StatusRunning || got.ErrorCode != nav.ErrCodeNone {
		t.Fatalf("after first submit: %+v", got)
	}

	if err := n.GoToSection(ctx, 1); err != nil {
		t.Fatalf("GoToSection(1): %v", err)
	}
	if err := n.SubmitItems(ctx, map[string]eval.ItemInput{"i3": {"R3": {"C"}}}); err != nil {
		t.Fatalf("final SubmitItems: %v", err)
	}
	if got := n.Info(); got.Status != nav.StatusFinished {
		t.Fatalf("after final submit: %+v", got)
	}

	rs, err := store.GetResultSet(ctx, "rs-1")
	if err != nil {
		t.Fatalf("GetResultSet: %v", err)
	}
	if rs.Status != result.StatusFinished || rs.TotalScore != 2 || !rs.Passed {
		t.Fatalf("result set: %+v", rs)
	}
	rows, _ := store.ListResults(ctx, "rs-1")
	if len(rows) != 3 {
		t.Fatalf("want 3 result rows, got %d", len(rows))
	}
	for _, r := range rows {
		if r.ItemID == "i1" && r.DurationMS != 40_000 {
			t.Fatalf("i1 duration=%d, want 40000", r.DurationMS)
		}
	}
}

func TestSubmitAfterZeroDurationWindow(t *testing.T) {
	ctx := context.Background()
	def := menuDef()
	def.Sections[0].DurationLimit = durationPtr(0)
	store := result.NewMemoryStore()
	clock := newClock()
	n := newNavigator(t, def, store, clock)

	if err := n.StartAssessment(ctx); err != nil {
		t.Fatalf("StartAssessment: %v", err)
	}
	if err := n.GoToSection(ctx, 0); err != nil {
		t.Fatalf("GoToSection: %v", err)
	}
	clock.Advance(time.Millisecond)

	if err := n.SubmitItems(ctx, map[string]eval.ItemInput{"i1": {"R1": {"A"}}}); err != nil {
		t.Fatalf("SubmitItems: %v", err)
	}
	got := n.Info()
	if got.ErrorCode != nav.ErrCodeSectionOutOfTime {
		t.Fatalf("error code=%q, want ERROR_SECTION_OUTOFTIME", got.ErrorCode)
	}
	if got.RenderItems {
		t.Fatal("renderItems must be suppressed on an expired section")
	}
	// the late answers are not scored
	if rows, _ := store.ListResults(ctx, "rs-1"); len(rows) != 0 {
		t.Fatalf("expired submission must not score items, got %d rows", len(rows))
	}
	// session stays alive: the untimed section is still reachable
	if err := n.GoToSection(ctx, 1); err != nil {
		t.Fatalf("GoToSection after expiry: %v", err)
	}
}

func TestResubmitUpsertsLatestAnswer(t *testing.T) {
	ctx := context.Background()
	def := menuDef()
	def.Sections[0].Items[1].Required = true
	store := result.NewMemoryStore()
	clock := newClock()
	n := newNavigator(t, def, store, clock)

	if err := n.StartAssessment(ctx); err != nil {
		t.Fatalf("StartAssessment: %v", err)
	}
	if err := n.GoToSection(ctx, 0); err != nil {
		t.Fatalf("GoToSection: %v", err)
	}

	// first pass answers i1 wrong and leaves the required i2 open
	if err := n.SubmitItems(ctx, map[string]eval.ItemInput{"i1": {"R1": {"wrong"}}}); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if got := n.Info(); got.ErrorCode != nav.ErrCodeSectionIncomplete || !got.RenderItems {
		t.Fatalf("incomplete section: %+v", got)
	}

	// second pass corrects i1 and completes i2
	if err := n.SubmitItems(ctx, map[string]eval.ItemInput{
		"i1": {"R1": {"A"}},
		"i2": {"R2": {"B"}},
	}); err != nil {
		t.Fatalf("second submit: %v", err)
	}

	rows, _ := store.ListResults(ctx, "rs-1")
	var i1 *result.Result
	count := 0
	for i := range rows {
		if rows[i].ItemID == "i1" {
			count++
			i1 = &rows[i]
		}
	}
	if count != 1 {
		t.Fatalf("want exactly one row for i1, got %d", count)
	}
	if i1.Score != 1 || !strings.Contains(i1.Answer, "R1=A") {
		t.Fatalf("latest answer must win: %+v", i1)
	}
}

func TestGoToItemIsContractViolationForMenuVariant(t *testing.T) {
	ctx := context.Background()
	store := result.NewMemoryStore()
	clock := newClock()
	n := newNavigator(t, menuDef(), store, clock)

	if err := n.StartAssessment(ctx); err != nil {
		t.Fatalf("StartAssessment: %v", err)
	}
	if err := n.GoToItem(ctx, 0, 0); !errors.Is(err, nav.ErrWrongNavigator) {
		t.Fatalf("GoToItem on menu navigator = %v, want ErrWrongNavigator", err)
	}
}

func TestResumeAfterCrash(t *testing.T) {
	ctx := context.Background()
	def := menuDef()
	store := result.NewMemoryStore()
	clock := newClock()
	n := newNavigator(t, def, store, clock)

	if err := n.StartAssessment(ctx); err != nil {
		t.Fatalf("StartAssessment: %v", err)
	}
	if err := n.GoToSection(ctx, 1); err != nil {
		t.Fatalf("GoToSection(1): %v", err)
	}

	// crash: drop the navigator, rebuild from the store alone
	n2, err := nav.Resume(ctx, def, eval.NewScorer(def), store, "rs-1", nav.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if got := n2.Info(); got.Status != nav.StatusSectionOpen {
		t.Fatalf("resumed status=%q, want section_open", got.Status)
	}
	actx := n2.Context()
	if _, pos := actx.CurrentSection(); pos != 1 {
		t.Fatalf("resumed at section %d, want 1", pos)
	}
	for i, it := range actx.Sections[1].Items {
		if it.State != run.Open {
			t.Fatalf("resumed section 1 item %d not started", i)
		}
	}
	// the resumed navigator finishes the attempt normally
	if err := n2.SubmitItems(ctx, map[string]eval.ItemInput{"i3": {"R3": {"C"}}}); err != nil {
		t.Fatalf("SubmitItems after resume: %v", err)
	}
	if n2.Info().ErrorCode != nav.ErrCodeNone {
		t.Fatalf("unexpected error after resume: %+v", n2.Info())
	}
}

func TestAssessmentWindowBeatsSectionWindow(t *testing.T) {
	ctx := context.Background()
	def := menuDef()
	def.DurationLimit = durationPtr(time.Minute)
	def.Sections[0].DurationLimit = durationPtr(time.Hour)
	store := result.NewMemoryStore()
	clock := newClock()
	n := newNavigator(t, def, store, clock)

	if err := n.StartAssessment(ctx); err != nil {
		t.Fatalf("StartAssessment: %v", err)
	}
	if err := n.GoToSection(ctx, 0); err != nil {
		t.Fatalf("GoToSection: %v", err)
	}
	clock.Advance(2 * time.Minute)

	if err := n.GoToSection(ctx, 1); err != nil {
		t.Fatalf("GoToSection past deadline: %v", err)
	}
	got := n.Info()
	if got.ErrorCode != nav.ErrCodeAssessmentOutOfTime {
		t.Fatalf("error code=%q, want ERROR_ASSESSMENT_OUTOFTIME", got.ErrorCode)
	}
	if got.Status != nav.StatusOutOfTime {
		t.Fatalf("status=%q, want out_of_time", got.Status)
	}
	rs, _ := store.GetResultSet(ctx, "rs-1")
	if rs.Status != result.StatusFinished {
		t.Fatal("assessment timeout must close the result set")
	}
}

// Package nav drives a user's progression through an assessment. Each
// navigator variant is a synchronous state machine over the attempt's context
// tree; every state-changing operation ends by persisting the attempt, since
// the process may not survive between two web requests.
package nav

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/openassess/qti-runtime/internal/eval"
	"github.com/openassess/qti-runtime/internal/qti"
	"github.com/openassess/qti-runtime/internal/result"
	"github.com/openassess/qti-runtime/internal/run"
)

type Status string

const (
	StatusInitial     Status = "initial"
	StatusRunning     Status = "assessment_running"
	StatusSectionOpen Status = "section_open"
	StatusItemOpen    Status = "item_open"
	StatusFinished    Status = "finished"
	StatusOutOfTime   Status = "out_of_time"
)

// ErrorCode reports user-retryable domain conditions through Info rather
// than as errors; the session stays alive.
type ErrorCode string

const (
	ErrCodeNone                ErrorCode = ""
	ErrCodeSectionOutOfTime    ErrorCode = "ERROR_SECTION_OUTOFTIME"
	ErrCodeAssessmentOutOfTime ErrorCode = "ERROR_ASSESSMENT_OUTOFTIME"
	ErrCodeSectionIncomplete   ErrorCode = "ERROR_SECTION_INCOMPLETE"
)

// Info is the read-only status object the UI layer paints from.
type Info struct {
	Status      Status    `json:"status"`
	ErrorCode   ErrorCode `json:"error_code,omitempty"`
	RenderItems bool      `json:"render_items"`
	Message     string    `json:"message,omitempty"`
}

// Contract errors: these indicate a bug in the calling layer, not user input.
var (
	ErrWrongNavigator   = errors.New("nav: operation not supported by this navigator variant")
	ErrNotRunning       = errors.New("nav: assessment not running")
	ErrAlreadyFinished  = errors.New("nav: assessment already finished")
	ErrNoCurrentSection = errors.New("nav: no current section")
	ErrBadPosition      = errors.New("nav: position out of range")
	ErrSectionClosed    = errors.New("nav: section already submitted")
	ErrItemClosed       = errors.New("nav: item already submitted")
)

// Navigator is what the excluded UI layer drives. All methods are synchronous
// and persist before returning.
type Navigator interface {
	StartAssessment(ctx context.Context) error
	SubmitItems(ctx context.Context, inputs map[string]eval.ItemInput) error
	GoToSection(ctx context.Context, pos int) error
	GoToItem(ctx context.Context, sectionPos, itemPos int) error
	Info() Info
	Context() *run.AssessmentContext
}

type Option func(*base)

// WithClock overrides the time source, for window tests.
func WithClock(now func() time.Time) Option { return func(b *base) { b.now = now } }

// WithClientIP attaches the submitting client's address to result rows.
func WithClientIP(ip string) Option { return func(b *base) { b.ip = ip } }

// New builds the navigator variant selected by the definition's navigation
// mode around a fresh or restored context.
func New(def *qti.Assessment, actx *run.AssessmentContext, scorer *eval.Scorer,
	store result.Store, resultSetID string, opts ...Option) Navigator {

	b := base{
		def:    def,
		actx:   actx,
		scorer: scorer,
		store:  store,
		setID:  resultSetID,
		now:    time.Now,
		info:   Info{Status: deriveStatus(def, actx)},
	}
	for _, o := range opts {
		o(&b)
	}
	switch def.Mode {
	case qti.NavLinearSection:
		return &LinearSectionNavigator{base: b}
	case qti.NavItemPage:
		return &ItemNavigator{base: b}
	default:
		return &MenuSectionNavigator{base: b}
	}
}

// Resume rebuilds a navigator mid-attempt from the persisted snapshot. An
// attempt that crashed right after creation, before its first snapshot, comes
// back with a fresh context.
func Resume(ctx context.Context, def *qti.Assessment, scorer *eval.Scorer,
	store result.Store, resultSetID string, opts ...Option) (Navigator, error) {

	snap, err := store.LoadSnapshot(ctx, resultSetID)
	if err != nil {
		return nil, err
	}
	var actx *run.AssessmentContext
	if len(snap) == 0 {
		actx = run.NewContext(def)
	} else {
		actx, err = run.Restore(def, snap)
		if err != nil {
			return nil, err
		}
	}
	return New(def, actx, scorer, store, resultSetID, opts...), nil
}

// deriveStatus reconstructs the display status from persisted context state;
// transient error codes do not survive a restart.
func deriveStatus(def *qti.Assessment, actx *run.AssessmentContext) Status {
	switch actx.State {
	case run.NotStarted:
		return StatusInitial
	case run.Closed:
		return StatusFinished
	}
	if _, pos := actx.CurrentSection(); pos >= 0 && actx.Sections[pos].State == run.Open {
		if def.Mode == qti.NavItemPage {
			return StatusItemOpen
		}
		return StatusSectionOpen
	}
	return StatusRunning
}

// base carries what every variant shares. Variants embed it and add only
// their transition rules.
type base struct {
	def    *qti.Assessment
	actx   *run.AssessmentContext
	scorer *eval.Scorer
	store  result.Store
	setID  string
	ip     string
	info   Info
	now    func() time.Time
}

func (b *base) Info() Info { return b.info }

func (b *base) Context() *run.AssessmentContext { return b.actx }

// checkAssessmentOpen gates every transition. The assessment-level window is
// checked before any section-level one. Returns false when the transition
// must stop: either a contract error (err != nil) or an out-of-time condition
// already reported through Info.
func (b *base) checkAssessmentOpen(ctx context.Context, now time.Time) (bool, error) {
	switch b.actx.State {
	case run.NotStarted:
		return false, ErrNotRunning
	case run.Closed:
		return false, ErrAlreadyFinished
	}
	if !b.actx.IsOpen(now) {
		b.info = Info{Status: StatusOutOfTime, ErrorCode: ErrCodeAssessmentOutOfTime, RenderItems: false,
			Message: "assessment time limit reached"}
		return false, b.finish(ctx, now)
	}
	return true, nil
}

// scoreSection evaluates the provided inputs against the items of one
// section and records outcomes on the context. Inputs naming items outside
// the section are a caller bug.
func (b *base) scoreSection(pos int, inputs map[string]eval.ItemInput, now time.Time) ([]result.Result, error) {
	items := b.def.Sections[pos].Items
	index := make(map[string]int, len(items))
	for i := range items {
		index[items[i].ID] = i
	}
	rows := make([]result.Result, 0, len(inputs))
	for itemID, in := range inputs {
		ii, ok := index[itemID]
		if !ok {
			return nil, fmt.Errorf("nav: item %s not in section %s", itemID, b.def.Sections[pos].ID)
		}
		score := b.scorer.Score(itemID, in)
		b.actx.RecordScore(pos, ii, score, !in.IsEmpty(), now)
		rows = append(rows, result.Result{
			ResultSetID: b.setID,
			ItemID:      itemID,
			Answer:      flattenInput(in),
			Score:       score,
			DurationMS:  b.actx.Sections[pos].Items[ii].DurationMS,
			IP:          b.ip,
			UpdatedAt:   now.UnixMilli(),
		})
	}
	return rows, nil
}

// persist writes scored rows and the context snapshot. Failures propagate to
// the caller: losing a score silently would break the core guarantee, and
// every write is idempotent so the request is safe to retry.
func (b *base) persist(ctx context.Context, scored []result.Result) error {
	for _, r := range scored {
		if err := b.store.UpsertResult(ctx, r); err != nil {
			return err
		}
	}
	snap, err := b.actx.Snapshot()
	if err != nil {
		return err
	}
	return b.store.SaveSnapshot(ctx, b.setID, snap)
}

// finish closes the assessment and writes the aggregate row.
func (b *base) finish(ctx context.Context, now time.Time) error {
	b.actx.Finish(now)
	if err := b.persist(ctx, nil); err != nil {
		return err
	}
	total := b.actx.TotalScore()
	passed := b.def.CutValue != nil && total >= *b.def.CutValue
	if err := b.store.FinishResultSet(ctx, b.setID, total, passed, now.UnixMilli()); err != nil {
		return err
	}
	if b.info.ErrorCode == ErrCodeNone {
		b.info = Info{Status: StatusFinished, RenderItems: false, Message: "assessment finished"}
	} else {
		b.info.Status = StatusOutOfTime
	}
	return nil
}

// enterSection validates and opens a section for the cursor, eagerly starting
// all its items.
func (b *base) enterSection(pos int, now time.Time) error {
	if pos < 0 || pos >= len(b.def.Sections) {
		return fmt.Errorf("%w: section %d of %d", ErrBadPosition, pos, len(b.def.Sections))
	}
	if b.actx.Sections[pos].State == run.Closed {
		return fmt.Errorf("%w: %s", ErrSectionClosed, b.def.Sections[pos].ID)
	}
	if err := b.actx.StartSection(pos, now); err != nil {
		return err
	}
	b.actx.SetCurrentSectionPos(pos)
	return nil
}

// forceCloseSection handles a window that expired mid-transition: the section
// is submitted as-is, item rendering is suppressed, and the session stays
// alive for the UI to re-render.
func (b *base) forceCloseSection(ctx context.Context, pos int, now time.Time) error {
	b.actx.SectionSubmitted(pos, now)
	b.info = Info{Status: StatusRunning, ErrorCode: ErrCodeSectionOutOfTime, RenderItems: false,
		Message: "section time limit reached"}
	if b.actx.AllSectionsClosed() {
		return b.finish(ctx, now)
	}
	return b.persist(ctx, nil)
}

func flattenInput(in eval.ItemInput) string {
	parts := make([]string, 0, len(in))
	for respID, vs := range in {
		for _, v := range vs {
			parts = append(parts, respID+"="+v)
		}
	}
	// deterministic order keeps re-submissions comparable in the store
	sort.Strings(parts)
	return strings.Join(parts, ";")
}

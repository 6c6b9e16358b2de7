package nav

import (
	"context"
	"fmt"
	"time"

	"github.com/openassess/qti-runtime/internal/eval"
	"github.com/openassess/qti-runtime/internal/run"
)

// MenuSectionNavigator serves one section per page; the user picks sections
// from a menu in any order, works linearly within a section, and submits a
// whole section at once. Item-granular jumps are not part of its contract.
type MenuSectionNavigator struct {
	base
}

func (n *MenuSectionNavigator) StartAssessment(ctx context.Context) error {
	return startAssessment(ctx, &n.base, func(now time.Time) error {
		n.info = Info{Status: StatusRunning, RenderItems: false, Message: "choose a section"}
		return nil
	})
}

func (n *MenuSectionNavigator) GoToSection(ctx context.Context, pos int) error {
	return goToSection(ctx, &n.base, pos, StatusSectionOpen)
}

func (n *MenuSectionNavigator) SubmitItems(ctx context.Context, inputs map[string]eval.ItemInput) error {
	return submitCurrentSection(ctx, &n.base, inputs, func(cctx context.Context, now time.Time) error {
		// back to the menu; finish once every section is closed
		if n.actx.AllSectionsClosed() {
			return n.finish(cctx, now)
		}
		n.info = Info{Status: StatusRunning, RenderItems: false, Message: "section submitted"}
		return n.persist(cctx, nil)
	})
}

// GoToItem is a contract violation for a section-granular navigator.
func (n *MenuSectionNavigator) GoToItem(ctx context.Context, sectionPos, itemPos int) error {
	return fmt.Errorf("%w: MenuSectionNavigator.GoToItem", ErrWrongNavigator)
}

// shared transition skeletons: each operation samples one instant and every
// check and mutation within it uses that instant.

func startAssessment(ctx context.Context, b *base, enter func(time.Time) error) error {
	now := b.now()
	if b.actx.State == run.Closed {
		return ErrAlreadyFinished
	}
	if err := b.actx.Start(now); err != nil {
		return err
	}
	if err := enter(now); err != nil {
		return err
	}
	// persist immediately: durability against a crash mid-start
	return b.persist(ctx, nil)
}

// goToSection runs the assessment-level window gate first; variant position
// rules come in as checks and only apply to a still-running assessment.
func goToSection(ctx context.Context, b *base, pos int, openStatus Status, checks ...func(int) error) error {
	now := b.now()
	ok, err := b.checkAssessmentOpen(ctx, now)
	if err != nil || !ok {
		return err
	}
	for _, check := range checks {
		if err := check(pos); err != nil {
			return err
		}
	}
	if pos < 0 || pos >= len(b.def.Sections) {
		return fmt.Errorf("%w: section %d of %d", ErrBadPosition, pos, len(b.def.Sections))
	}
	if b.actx.SectionExpired(pos, now) {
		return b.forceCloseSection(ctx, pos, now)
	}
	if err := b.enterSection(pos, now); err != nil {
		return err
	}
	b.info = Info{Status: openStatus, RenderItems: true}
	return b.persist(ctx, nil)
}

// submitCurrentSection scores all provided items of the current section, then
// hands off to the variant's advance callback once the section closes.
func submitCurrentSection(ctx context.Context, b *base, inputs map[string]eval.ItemInput,
	advance func(context.Context, time.Time) error) error {

	now := b.now()
	ok, err := b.checkAssessmentOpen(ctx, now)
	if err != nil || !ok {
		return err
	}
	_, pos := b.actx.CurrentSection()
	if pos < 0 {
		return ErrNoCurrentSection
	}
	if b.actx.Sections[pos].State == run.Closed {
		return fmt.Errorf("%w: %s", ErrSectionClosed, b.def.Sections[pos].ID)
	}
	if b.actx.SectionExpired(pos, now) {
		// expired before scoring could run: the user sees an error, not a
		// stale form, and may navigate on
		return b.forceCloseSection(ctx, pos, now)
	}
	scored, err := b.scoreSection(pos, inputs, now)
	if err != nil {
		return err
	}
	if b.actx.RequiredOutstanding(pos) {
		b.info = Info{Status: deriveStatus(b.def, b.actx), ErrorCode: ErrCodeSectionIncomplete,
			RenderItems: true, Message: "required answers outstanding"}
		return b.persist(ctx, scored)
	}
	b.actx.SectionSubmitted(pos, now)
	if err := b.persist(ctx, scored); err != nil {
		return err
	}
	return advance(ctx, now)
}

package nav

import (
	"context"
	"fmt"
	"time"

	"github.com/openassess/qti-runtime/internal/eval"
	"github.com/openassess/qti-runtime/internal/run"
)

// LinearSectionNavigator walks sections strictly in authored order: starting
// the assessment enters the first section, submitting one advances to the
// next, and the menu-style jump is only accepted for the section the cursor
// is already due to visit.
type LinearSectionNavigator struct {
	base
}

func (n *LinearSectionNavigator) StartAssessment(ctx context.Context) error {
	return startAssessment(ctx, &n.base, func(now time.Time) error {
		if err := n.enterSection(0, now); err != nil {
			return err
		}
		n.info = Info{Status: StatusSectionOpen, RenderItems: true, Message: "assessment started"}
		return nil
	})
}

func (n *LinearSectionNavigator) GoToSection(ctx context.Context, pos int) error {
	return goToSection(ctx, &n.base, pos, StatusSectionOpen, n.checkDue)
}

// checkDue accepts only the section linear navigation is already at.
func (n *LinearSectionNavigator) checkDue(pos int) error {
	if next := n.nextOpenPos(); pos != next {
		return fmt.Errorf("%w: linear navigation is at section %d, not %d", ErrBadPosition, next, pos)
	}
	return nil
}

func (n *LinearSectionNavigator) SubmitItems(ctx context.Context, inputs map[string]eval.ItemInput) error {
	return submitCurrentSection(ctx, &n.base, inputs, func(cctx context.Context, now time.Time) error {
		next := n.nextOpenPos()
		if next < 0 {
			return n.finish(cctx, now)
		}
		if err := n.enterSection(next, now); err != nil {
			return err
		}
		n.info = Info{Status: StatusSectionOpen, RenderItems: true}
		return n.persist(cctx, nil)
	})
}

func (n *LinearSectionNavigator) GoToItem(ctx context.Context, sectionPos, itemPos int) error {
	return fmt.Errorf("%w: LinearSectionNavigator.GoToItem", ErrWrongNavigator)
}

// nextOpenPos is the first not-yet-closed section, or -1 when all are done.
func (n *LinearSectionNavigator) nextOpenPos() int {
	for i := range n.actx.Sections {
		if n.actx.Sections[i].State != run.Closed {
			return i
		}
	}
	return -1
}

package nav

import (
	"context"
	"fmt"
	"time"

	"github.com/openassess/qti-runtime/internal/eval"
	"github.com/openassess/qti-runtime/internal/run"
)

// ItemNavigator serves one item per page. Submission closes the current item
// and advances to the next one, crossing into the following section when the
// current one runs out of items. GoToItem jumps are accepted at item
// granularity as long as the target is still open.
type ItemNavigator struct {
	base
}

func (n *ItemNavigator) StartAssessment(ctx context.Context) error {
	return startAssessment(ctx, &n.base, func(now time.Time) error {
		if err := n.enterSection(0, now); err != nil {
			return err
		}
		n.actx.CurItem = 0
		n.info = Info{Status: StatusItemOpen, RenderItems: true, Message: "assessment started"}
		return nil
	})
}

// SubmitItems scores the current item only; that is this variant's unit.
// Inputs naming any other item are a caller bug.
func (n *ItemNavigator) SubmitItems(ctx context.Context, inputs map[string]eval.ItemInput) error {
	now := n.now()
	ok, err := n.checkAssessmentOpen(ctx, now)
	if err != nil || !ok {
		return err
	}
	_, pos := n.actx.CurrentSection()
	if pos < 0 || n.actx.CurItem < 0 {
		return ErrNoCurrentSection
	}
	if n.actx.SectionExpired(pos, now) {
		return n.expireAndAdvance(ctx, pos, now)
	}
	itemID := n.def.Sections[pos].Items[n.actx.CurItem].ID
	for id := range inputs {
		if id != itemID {
			return fmt.Errorf("nav: item %s is not the current item %s", id, itemID)
		}
	}
	scored, err := n.scoreSection(pos, inputs, now)
	if err != nil {
		return err
	}
	n.actx.CloseItem(pos, n.actx.CurItem, now)
	if n.actx.SectionAllItemsClosed(pos) {
		n.actx.SectionSubmitted(pos, now)
	}
	if err := n.persist(ctx, scored); err != nil {
		return err
	}
	return n.advance(ctx, pos, now)
}

func (n *ItemNavigator) GoToSection(ctx context.Context, pos int) error {
	if err := goToSection(ctx, &n.base, pos, StatusItemOpen); err != nil {
		return err
	}
	if n.info.ErrorCode != ErrCodeNone {
		return nil // out-of-time reported through Info
	}
	n.actx.CurItem = n.firstOpenItem(pos)
	return n.persist(ctx, nil)
}

// GoToItem moves the cursor to an open item of an open section.
func (n *ItemNavigator) GoToItem(ctx context.Context, sectionPos, itemPos int) error {
	now := n.now()
	ok, err := n.checkAssessmentOpen(ctx, now)
	if err != nil || !ok {
		return err
	}
	if sectionPos < 0 || sectionPos >= len(n.def.Sections) {
		return fmt.Errorf("%w: section %d of %d", ErrBadPosition, sectionPos, len(n.def.Sections))
	}
	if itemPos < 0 || itemPos >= len(n.def.Sections[sectionPos].Items) {
		return fmt.Errorf("%w: item %d of %d in section %s",
			ErrBadPosition, itemPos, len(n.def.Sections[sectionPos].Items), n.def.Sections[sectionPos].ID)
	}
	if n.actx.SectionExpired(sectionPos, now) {
		return n.expireAndAdvance(ctx, sectionPos, now)
	}
	if err := n.enterSection(sectionPos, now); err != nil {
		return err
	}
	if n.actx.Sections[sectionPos].Items[itemPos].State == run.Closed {
		return fmt.Errorf("%w: %s", ErrItemClosed, n.def.Sections[sectionPos].Items[itemPos].ID)
	}
	n.actx.CurItem = itemPos
	n.info = Info{Status: StatusItemOpen, RenderItems: true}
	return n.persist(ctx, nil)
}

// advance finds the next open item after a submission, crossing sections.
func (n *ItemNavigator) advance(ctx context.Context, pos int, now time.Time) error {
	if next := n.firstOpenItem(pos); next >= 0 {
		n.actx.CurItem = next
		n.info = Info{Status: StatusItemOpen, RenderItems: true}
		return n.persist(ctx, nil)
	}
	for sp := range n.actx.Sections {
		if n.actx.Sections[sp].State == run.Closed {
			continue
		}
		if err := n.enterSection(sp, now); err != nil {
			return err
		}
		n.actx.CurItem = n.firstOpenItem(sp)
		n.info = Info{Status: StatusItemOpen, RenderItems: true}
		return n.persist(ctx, nil)
	}
	return n.finish(ctx, now)
}

// expireAndAdvance force-closes an expired section and moves on.
func (n *ItemNavigator) expireAndAdvance(ctx context.Context, pos int, now time.Time) error {
	if err := n.forceCloseSection(ctx, pos, now); err != nil {
		return err
	}
	if n.actx.State == run.Closed {
		return nil
	}
	n.actx.CurItem = -1
	return n.persist(ctx, nil)
}

// firstOpenItem returns the first open item position of a section, -1 if none.
func (n *ItemNavigator) firstOpenItem(pos int) int {
	for i := range n.actx.Sections[pos].Items {
		if n.actx.Sections[pos].Items[i].State == run.Open {
			return i
		}
	}
	return -1
}

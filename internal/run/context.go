// Package run holds the live, per-attempt state mirroring an assessment
// definition: an arena of section and item nodes addressed by position, with
// the cursor kept as indices so the whole context serializes to a flat JSON
// snapshot (no object-graph cycles to persist).
package run

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openassess/qti-runtime/internal/qti"
)

// NodeState is the strict lifecycle of every node: NotStarted -> Open ->
// Closed. Closed is terminal.
type NodeState uint8

const (
	NotStarted NodeState = iota
	Open
	Closed
)

func (s NodeState) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Open:
		return "open"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("NodeState(%d)", uint8(s))
}

// ErrNodeClosed is returned when a closed node is started again.
var ErrNodeClosed = errors.New("node already closed")

type ItemContext struct {
	State      NodeState `json:"state"`
	OpenedAt   int64     `json:"opened_at,omitempty"` // unix millis
	ClosedAt   int64     `json:"closed_at,omitempty"`
	Answered   bool      `json:"answered,omitempty"`
	Score      float64   `json:"score,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
}

type SectionContext struct {
	State    NodeState     `json:"state"`
	OpenedAt int64         `json:"opened_at,omitempty"`
	ClosedAt int64         `json:"closed_at,omitempty"`
	Items    []ItemContext `json:"items"`
}

// AssessmentContext is owned by exactly one attempt; it is never shared
// between sessions and assumes one in-flight transition at a time.
type AssessmentContext struct {
	def *qti.Assessment

	State    NodeState        `json:"state"`
	OpenedAt int64            `json:"opened_at,omitempty"`
	ClosedAt int64            `json:"closed_at,omitempty"`
	Cur      int              `json:"cur"`      // current section position, -1 before entry
	CurItem  int              `json:"cur_item"` // current item within Cur, -1 when section-granular
	Sections []SectionContext `json:"sections"`
}

func NewContext(def *qti.Assessment) *AssessmentContext {
	secs := make([]SectionContext, len(def.Sections))
	for i := range def.Sections {
		secs[i].Items = make([]ItemContext, len(def.Sections[i].Items))
	}
	return &AssessmentContext{def: def, Cur: -1, CurItem: -1, Sections: secs}
}

func (a *AssessmentContext) Definition() *qti.Assessment { return a.def }

// Start opens the assessment node. Starting an already open node is a no-op;
// starting a closed one is rejected.
func (a *AssessmentContext) Start(now time.Time) error {
	return open(&a.State, &a.OpenedAt, now)
}

// IsOpen reports whether the assessment has been started and its time window,
// if any, has not elapsed. This is the authoritative check before any
// transition; windows are polled here, not enforced by a timer.
func (a *AssessmentContext) IsOpen(now time.Time) bool {
	return a.State == Open && windowOpen(a.OpenedAt, a.def.DurationLimit, now)
}

// StartSection opens a section and, eagerly, every item in it. Items start
// together because scoring of one item may read sibling item state within the
// same section.
func (a *AssessmentContext) StartSection(pos int, now time.Time) error {
	sc := &a.Sections[pos]
	if err := open(&sc.State, &sc.OpenedAt, now); err != nil {
		return fmt.Errorf("section %s: %w", a.def.Sections[pos].ID, err)
	}
	for i := range sc.Items {
		it := &sc.Items[i]
		if it.State == NotStarted {
			it.State = Open
			it.OpenedAt = now.UnixMilli()
		}
	}
	return nil
}

func (a *AssessmentContext) SectionIsOpen(pos int, now time.Time) bool {
	sc := &a.Sections[pos]
	return sc.State == Open && windowOpen(sc.OpenedAt, a.def.Sections[pos].DurationLimit, now)
}

// SectionExpired reports an open section whose window has run out.
func (a *AssessmentContext) SectionExpired(pos int, now time.Time) bool {
	sc := &a.Sections[pos]
	return sc.State == Open && !windowOpen(sc.OpenedAt, a.def.Sections[pos].DurationLimit, now)
}

// CurrentSection returns the cursor's section context, or nil before any
// section has been entered.
func (a *AssessmentContext) CurrentSection() (*SectionContext, int) {
	if a.Cur < 0 {
		return nil, -1
	}
	return &a.Sections[a.Cur], a.Cur
}

// SetCurrentSectionPos moves the cursor. An out-of-range position is a bug in
// the caller, not user input, and panics. Navigators validate user-supplied
// positions before coming here.
func (a *AssessmentContext) SetCurrentSectionPos(pos int) {
	if pos < 0 || pos >= len(a.Sections) {
		panic(fmt.Sprintf("run: section position %d out of range [0,%d)", pos, len(a.Sections)))
	}
	a.Cur = pos
}

// SectionSubmitted closes a section and all its items. Terminal: the section
// cannot be reopened.
func (a *AssessmentContext) SectionSubmitted(pos int, now time.Time) {
	sc := &a.Sections[pos]
	ms := now.UnixMilli()
	sc.State = Closed
	sc.ClosedAt = ms
	for i := range sc.Items {
		it := &sc.Items[i]
		if it.State != Closed {
			it.State = Closed
			it.ClosedAt = ms
		}
	}
}

// CloseItem closes a single item node.
func (a *AssessmentContext) CloseItem(secPos, itemPos int, now time.Time) {
	it := &a.Sections[secPos].Items[itemPos]
	if it.State != Closed {
		it.State = Closed
		it.ClosedAt = now.UnixMilli()
	}
}

// SectionAllItemsClosed reports whether every item of a section is closed.
func (a *AssessmentContext) SectionAllItemsClosed(pos int) bool {
	for i := range a.Sections[pos].Items {
		if a.Sections[pos].Items[i].State != Closed {
			return false
		}
	}
	return true
}

// RequiredOutstanding reports whether any required item of the section is
// still unanswered.
func (a *AssessmentContext) RequiredOutstanding(pos int) bool {
	sc := &a.Sections[pos]
	for i := range sc.Items {
		if a.def.Sections[pos].Items[i].Required && !sc.Items[i].Answered {
			return true
		}
	}
	return false
}

// RecordScore attaches the scoring outcome of one item. An empty submission
// scores but does not mark the item answered, so required items stay
// outstanding.
func (a *AssessmentContext) RecordScore(secPos, itemPos int, score float64, answered bool, now time.Time) {
	it := &a.Sections[secPos].Items[itemPos]
	it.Score = score
	if answered {
		it.Answered = true
	}
	if it.OpenedAt > 0 {
		it.DurationMS = now.UnixMilli() - it.OpenedAt
	}
}

func (a *AssessmentContext) AllSectionsClosed() bool {
	for i := range a.Sections {
		if a.Sections[i].State != Closed {
			return false
		}
	}
	return true
}

// Finish closes the assessment node itself.
func (a *AssessmentContext) Finish(now time.Time) {
	a.State = Closed
	a.ClosedAt = now.UnixMilli()
}

// TotalScore sums all item scores recorded so far.
func (a *AssessmentContext) TotalScore() float64 {
	total := 0.0
	for i := range a.Sections {
		for j := range a.Sections[i].Items {
			total += a.Sections[i].Items[j].Score
		}
	}
	return total
}

// Snapshot serializes the context for durable storage between requests.
func (a *AssessmentContext) Snapshot() ([]byte, error) {
	return json.Marshal(a)
}

// Restore rebuilds a context from a snapshot against its definition. The
// definition must be the same tree the snapshot was taken from.
func Restore(def *qti.Assessment, snap []byte) (*AssessmentContext, error) {
	a := &AssessmentContext{def: def}
	if err := json.Unmarshal(snap, a); err != nil {
		return nil, fmt.Errorf("restore context: %w", err)
	}
	if len(a.Sections) != len(def.Sections) {
		return nil, fmt.Errorf("restore context: snapshot has %d sections, definition %d",
			len(a.Sections), len(def.Sections))
	}
	for i := range a.Sections {
		if len(a.Sections[i].Items) != len(def.Sections[i].Items) {
			return nil, fmt.Errorf("restore context: section %d item count mismatch", i)
		}
	}
	// a corrupted row must fail here, not panic at the next cursor read
	if a.Cur < -1 || a.Cur >= len(a.Sections) {
		return nil, fmt.Errorf("restore context: section cursor %d out of range", a.Cur)
	}
	if a.CurItem < -1 {
		return nil, fmt.Errorf("restore context: item cursor %d out of range", a.CurItem)
	}
	if a.CurItem >= 0 && (a.Cur < 0 || a.CurItem >= len(a.Sections[a.Cur].Items)) {
		return nil, fmt.Errorf("restore context: item cursor %d out of range", a.CurItem)
	}
	return a, nil
}

func open(state *NodeState, openedAt *int64, now time.Time) error {
	switch *state {
	case Closed:
		return ErrNodeClosed
	case Open:
		return nil
	}
	*state = Open
	*openedAt = now.UnixMilli()
	return nil
}

// windowOpen is true when no duration limit applies or the limit has not yet
// elapsed since openedAt. A zero limit closes the window immediately.
func windowOpen(openedAt int64, limit *time.Duration, now time.Time) bool {
	if limit == nil {
		return true
	}
	deadline := time.UnixMilli(openedAt).Add(*limit)
	return now.Before(deadline)
}

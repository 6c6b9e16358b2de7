// Package session owns the per-attempt lifecycle: it resolves definitions,
// rebuilds the navigator from the persisted snapshot on every request, and
// serializes concurrent requests against the same attempt.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openassess/qti-runtime/internal/eval"
	"github.com/openassess/qti-runtime/internal/eventlog"
	"github.com/openassess/qti-runtime/internal/nav"
	"github.com/openassess/qti-runtime/internal/qti"
	"github.com/openassess/qti-runtime/internal/result"
	"github.com/openassess/qti-runtime/internal/run"
)

// DefinitionSource resolves immutable assessment definitions.
type DefinitionSource interface {
	Get(ctx context.Context, id string) (*qti.Assessment, error)
}

// EventSink receives the audit trail; nil disables it.
type EventSink interface {
	Append(ctx context.Context, typ, key, dataJSON string) error
}

type compiled struct {
	def    *qti.Assessment
	scorer *eval.Scorer
}

type Service struct {
	defs   DefinitionSource
	store  result.Store
	events EventSink

	mu    sync.RWMutex
	cache map[string]compiled

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

func New(defs DefinitionSource, store result.Store, events EventSink) *Service {
	return &Service{
		defs:   defs,
		store:  store,
		events: events,
		cache:  map[string]compiled{},
		locks:  map[string]*sync.Mutex{},
	}
}

// Attempt is the service's view of one attempt, combining the durable row
// with the navigator's display status.
type Attempt struct {
	ResultSet result.ResultSet `json:"result_set"`
	Info      nav.Info         `json:"info"`
}

// StartAttempt creates the result set and runs the navigator's start
// transition, which persists immediately.
func (s *Service) StartAttempt(ctx context.Context, assessmentID, userID, ip string) (Attempt, error) {
	c, err := s.definition(ctx, assessmentID)
	if err != nil {
		return Attempt{}, err
	}
	rs := result.ResultSet{
		ID:           uuid.NewString(),
		AssessmentID: assessmentID,
		UserID:       userID,
		Status:       result.StatusInProgress,
		StartedAt:    time.Now().UnixMilli(),
	}
	if err := s.store.CreateResultSet(ctx, rs); err != nil {
		return Attempt{}, err
	}
	n := nav.New(c.def, run.NewContext(c.def), c.scorer, s.store, rs.ID, nav.WithClientIP(ip))
	if err := n.StartAssessment(ctx); err != nil {
		return Attempt{}, err
	}
	s.append(ctx, eventlog.TypeAttemptStarted, rs.ID, map[string]any{
		"assessment_id": assessmentID, "user_id": userID,
	})
	return Attempt{ResultSet: rs, Info: n.Info()}, nil
}

func (s *Service) SubmitItems(ctx context.Context, attemptID string, inputs map[string]eval.ItemInput, ip string) (Attempt, error) {
	return s.transition(ctx, attemptID, ip, func(n nav.Navigator) error {
		return n.SubmitItems(ctx, inputs)
	}, eventlog.TypeItemsSubmitted, map[string]any{"items": len(inputs)})
}

func (s *Service) GoToSection(ctx context.Context, attemptID string, pos int, ip string) (Attempt, error) {
	return s.transition(ctx, attemptID, ip, func(n nav.Navigator) error {
		return n.GoToSection(ctx, pos)
	}, eventlog.TypeSectionEntered, map[string]any{"section": pos})
}

func (s *Service) GoToItem(ctx context.Context, attemptID string, sectionPos, itemPos int, ip string) (Attempt, error) {
	return s.transition(ctx, attemptID, ip, func(n nav.Navigator) error {
		return n.GoToItem(ctx, sectionPos, itemPos)
	}, eventlog.TypeSectionEntered, map[string]any{"section": sectionPos, "item": itemPos})
}

// Status resumes the navigator read-only and reports where the attempt is.
func (s *Service) Status(ctx context.Context, attemptID string) (Attempt, error) {
	rs, err := s.store.GetResultSet(ctx, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	c, err := s.definition(ctx, rs.AssessmentID)
	if err != nil {
		return Attempt{}, err
	}
	n, err := nav.Resume(ctx, c.def, c.scorer, s.store, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	return Attempt{ResultSet: rs, Info: n.Info()}, nil
}

// Results lists the per-item rows of an attempt.
func (s *Service) Results(ctx context.Context, attemptID string) ([]result.Result, error) {
	if _, err := s.store.GetResultSet(ctx, attemptID); err != nil {
		return nil, err
	}
	return s.store.ListResults(ctx, attemptID)
}

// transition runs one state-changing operation under the attempt's lock.
// There is no intra-attempt concurrency beyond this: a double-click
// serializes here and the second request replays idempotent writes.
func (s *Service) transition(ctx context.Context, attemptID, ip string,
	op func(nav.Navigator) error, eventType string, eventData map[string]any) (Attempt, error) {

	lock := s.attemptLock(attemptID)
	lock.Lock()
	defer lock.Unlock()

	rs, err := s.store.GetResultSet(ctx, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	c, err := s.definition(ctx, rs.AssessmentID)
	if err != nil {
		return Attempt{}, err
	}
	n, err := nav.Resume(ctx, c.def, c.scorer, s.store, attemptID, nav.WithClientIP(ip))
	if err != nil {
		return Attempt{}, err
	}
	if err := op(n); err != nil {
		return Attempt{}, err
	}
	s.append(ctx, eventType, attemptID, eventData)
	switch {
	case n.Info().ErrorCode == nav.ErrCodeAssessmentOutOfTime:
		s.append(ctx, eventlog.TypeAttemptOutOfTime, attemptID, nil)
	case n.Info().Status == nav.StatusFinished:
		s.append(ctx, eventlog.TypeAttemptFinished, attemptID, nil)
	}
	// re-read: finish transitions update the aggregate row
	rs, err = s.store.GetResultSet(ctx, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	if rs.Status == result.StatusFinished {
		// a finished attempt takes no further transitions; its lock entry can go
		s.releaseLock(attemptID)
	}
	return Attempt{ResultSet: rs, Info: n.Info()}, nil
}

func (s *Service) definition(ctx context.Context, id string) (compiled, error) {
	s.mu.RLock()
	c, ok := s.cache[id]
	s.mu.RUnlock()
	if ok {
		return c, nil
	}
	def, err := s.defs.Get(ctx, id)
	if err != nil {
		return compiled{}, fmt.Errorf("definition %s: %w", id, err)
	}
	c = compiled{def: def, scorer: eval.NewScorer(def)}
	s.mu.Lock()
	s.cache[id] = c
	s.mu.Unlock()
	return c, nil
}

func (s *Service) attemptLock(id string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *Service) releaseLock(id string) {
	s.lockMu.Lock()
	delete(s.locks, id)
	s.lockMu.Unlock()
}

func (s *Service) append(ctx context.Context, typ, key string, data map[string]any) {
	if s.events == nil {
		return
	}
	payload := "{}"
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = string(b)
		}
	}
	// audit only: an append failure must not fail the user transition
	_ = s.events.Append(ctx, typ, key, payload)
}

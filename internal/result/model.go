// Package result is the durable record of an attempt: one ResultSet row per
// attempt and one Result row per submitted item, upserted on re-submission.
// The context snapshot rides on the ResultSet row so a session is resumable
// after a crash between requests.
package result

import (
	"context"
	"errors"
)

const (
	StatusInProgress = "in_progress"
	StatusFinished   = "finished"
)

var ErrNotFound = errors.New("result set not found")

// ResultSet aggregates one attempt.
type ResultSet struct {
	ID           string  `json:"id"`
	AssessmentID string  `json:"assessment_id"`
	UserID       string  `json:"user_id"`
	Status       string  `json:"status"` // in_progress|finished
	TotalScore   float64 `json:"total_score"`
	Passed       bool    `json:"passed"`
	StartedAt    int64   `json:"started_at"`
	FinishedAt   int64   `json:"finished_at,omitempty"`
}

// Result is one item's latest outcome within an attempt, keyed by
// (result set, item). Re-submission updates the row in place.
type Result struct {
	ResultSetID string  `json:"result_set_id"`
	ItemID      string  `json:"item_id"`
	Answer      string  `json:"answer"`
	Score       float64 `json:"score"`
	DurationMS  int64   `json:"duration_ms"`
	IP          string  `json:"ip,omitempty"`
	UpdatedAt   int64   `json:"updated_at"`
}

// Store persists attempts. Every write is idempotent per (attempt, item) so a
// failed request can be retried without duplicating rows.
type Store interface {
	CreateResultSet(ctx context.Context, rs ResultSet) error
	GetResultSet(ctx context.Context, id string) (ResultSet, error)
	FinishResultSet(ctx context.Context, id string, totalScore float64, passed bool, finishedAt int64) error

	UpsertResult(ctx context.Context, r Result) error
	ListResults(ctx context.Context, setID string) ([]Result, error)

	SaveSnapshot(ctx context.Context, setID string, snap []byte) error
	LoadSnapshot(ctx context.Context, setID string) ([]byte, error)
}

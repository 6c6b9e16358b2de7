// Package eventlog keeps an append-only audit trail of attempt transitions.
package eventlog

import (
	"context"
	"database/sql"
	"time"
)

const (
	TypeAttemptStarted   = "AttemptStarted"
	TypeSectionEntered   = "SectionEntered"
	TypeItemsSubmitted   = "ItemsSubmitted"
	TypeAttemptFinished  = "AttemptFinished"
	TypeAttemptOutOfTime = "AttemptOutOfTime"
)

type Event struct {
	Seq       int64
	Type      string
	Key       string // natural key: result set ID
	DataJSON  string
	CreatedAt int64
}

type Repo struct{ db *sql.DB }

func NewRepo(db *sql.DB) *Repo { return &Repo{db: db} }

func (r *Repo) Append(ctx context.Context, typ, key, dataJSON string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO attempt_events (typ, key, data, created_at)
		 VALUES ($1,$2,$3,$4)`,
		typ, key, dataJSON, time.Now().Unix())
	return err
}

// List returns the trail for one attempt in append order.
func (r *Repo) List(ctx context.Context, key string) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT seq, typ, key, data, created_at FROM attempt_events
		 WHERE key=$1 ORDER BY seq`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.Seq, &e.Type, &e.Key, &e.DataJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

package qti

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("assessment not found")

// SQLStore persists definition trees as JSON rows so imported packages
// survive restarts; the tree is parsed and validated before it gets here.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

func (s *SQLStore) Put(ctx context.Context, a *Assessment) error {
	dj, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal assessment %s: %w", a.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO assessments (id,title,mode,def_json,created_at)
		 VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (id) DO UPDATE SET title=EXCLUDED.title, mode=EXCLUDED.mode, def_json=EXCLUDED.def_json`,
		a.ID, a.Title, string(a.Mode), string(dj), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("put assessment %s: %w", a.ID, err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*Assessment, error) {
	var dj string
	err := s.db.QueryRowContext(ctx,
		`SELECT def_json FROM assessments WHERE id=$1`, id).Scan(&dj)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get assessment %s: %w", id, err)
	}
	var a Assessment
	if err := json.Unmarshal([]byte(dj), &a); err != nil {
		return nil, fmt.Errorf("decode assessment %s: %w", id, err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

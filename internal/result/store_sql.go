package result

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SQLStore runs against sqlite (modernc) or postgres (pgx stdlib); the
// queries below are written to work on both.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) CreateResultSet(ctx context.Context, rs ResultSet) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO result_sets (id,assessment_id,user_id,status,total_score,passed,started_at,snapshot_json)
		 VALUES ($1,$2,$3,$4,0,FALSE,$5,'')
		 ON CONFLICT (id) DO NOTHING`,
		rs.ID, rs.AssessmentID, rs.UserID, rs.Status, rs.StartedAt)
	if err != nil {
		return fmt.Errorf("create result set: %w", err)
	}
	return nil
}

func (s *SQLStore) GetResultSet(ctx context.Context, id string) (ResultSet, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id,assessment_id,user_id,status,total_score,passed,started_at,COALESCE(finished_at,0)
		 FROM result_sets WHERE id=$1`, id)
	var rs ResultSet
	if err := row.Scan(&rs.ID, &rs.AssessmentID, &rs.UserID, &rs.Status,
		&rs.TotalScore, &rs.Passed, &rs.StartedAt, &rs.FinishedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ResultSet{}, ErrNotFound
		}
		return ResultSet{}, fmt.Errorf("get result set: %w", err)
	}
	return rs, nil
}

func (s *SQLStore) FinishResultSet(ctx context.Context, id string, totalScore float64, passed bool, finishedAt int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE result_sets SET status=$1, total_score=$2, passed=$3, finished_at=$4 WHERE id=$5`,
		StatusFinished, totalScore, passed, finishedAt, id)
	if err != nil {
		return fmt.Errorf("finish result set: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertResult writes one item's latest outcome. Keyed by (result set, item):
// a double submission updates in place, last write wins.
func (s *SQLStore) UpsertResult(ctx context.Context, r Result) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO results (result_set_id,item_id,answer,score,duration_ms,ip,updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)
		 ON CONFLICT (result_set_id,item_id) DO UPDATE SET
		   answer=EXCLUDED.answer, score=EXCLUDED.score,
		   duration_ms=EXCLUDED.duration_ms, ip=EXCLUDED.ip, updated_at=EXCLUDED.updated_at`,
		r.ResultSetID, r.ItemID, r.Answer, r.Score, r.DurationMS, r.IP, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert result %s/%s: %w", r.ResultSetID, r.ItemID, err)
	}
	return nil
}

func (s *SQLStore) ListResults(ctx context.Context, setID string) ([]Result, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT result_set_id,item_id,answer,score,duration_ms,ip,updated_at
		 FROM results WHERE result_set_id=$1 ORDER BY item_id`, setID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()
	var out []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ResultSetID, &r.ItemID, &r.Answer, &r.Score,
			&r.DurationMS, &r.IP, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) SaveSnapshot(ctx context.Context, setID string, snap []byte) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE result_sets SET snapshot_json=$1 WHERE id=$2`, string(snap), setID)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) LoadSnapshot(ctx context.Context, setID string) ([]byte, error) {
	var snap string
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot_json FROM result_sets WHERE id=$1`, setID).Scan(&snap)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return []byte(snap), nil
}

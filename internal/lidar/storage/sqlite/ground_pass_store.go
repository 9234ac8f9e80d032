package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GroundPass is the record of one ground filter pass over one frame.
type GroundPass struct {
	PassID          string          `json:"pass_id"`
	RunID           string          `json:"run_id"`
	FrameID         string          `json:"frame_id"`
	FrameSeq        int64           `json:"frame_seq"`
	FrameStampNs    int64           `json:"frame_stamp_ns"`
	PointsIn        int             `json:"points_in"`
	PointsNonGround int             `json:"points_non_ground"`
	Sectors         int             `json:"sectors"`
	DurationNs      int64           `json:"duration_ns"`
	ParamsJSON      json.RawMessage `json:"params_json"`
	CreatedAtNs     int64           `json:"created_at_ns"`
}

// RunSummary aggregates the passes of one run.
type RunSummary struct {
	RunID                 string  `json:"run_id"`
	Passes                int     `json:"passes"`
	TotalPoints           int64   `json:"total_points"`
	TotalNonGround        int64   `json:"total_non_ground"`
	MeanNonGroundFraction float64 `json:"mean_non_ground_fraction"` // over passes with at least one point
	MeanDurationNs        float64 `json:"mean_duration_ns"`
}

// GroundPassStore provides persistence for ground filter pass records.
type GroundPassStore struct {
	db *sql.DB
}

// NewGroundPassStore creates a new GroundPassStore.
func NewGroundPassStore(db *sql.DB) *GroundPassStore {
	return &GroundPassStore{db: db}
}

// Insert records a pass. If pass.PassID is empty, a new UUID is generated;
// if CreatedAtNs is zero it is set to the current time.
func (s *GroundPassStore) Insert(pass *GroundPass) error {
	if pass.RunID == "" {
		return fmt.Errorf("insert ground pass: run_id is required")
	}
	if pass.PassID == "" {
		pass.PassID = uuid.New().String()
	}
	if pass.CreatedAtNs == 0 {
		pass.CreatedAtNs = time.Now().UnixNano()
	}
	params := pass.ParamsJSON
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}

	query := `
		INSERT INTO ground_filter_passes (
			pass_id, run_id, frame_id, frame_seq, frame_stamp_ns,
			points_in, points_non_ground, sectors, duration_ns,
			params_json, created_at_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		pass.PassID,
		pass.RunID,
		pass.FrameID,
		pass.FrameSeq,
		pass.FrameStampNs,
		pass.PointsIn,
		pass.PointsNonGround,
		pass.Sectors,
		pass.DurationNs,
		string(params),
		pass.CreatedAtNs,
	)
	if err != nil {
		return fmt.Errorf("insert ground pass: %w", err)
	}
	return nil
}

// ListByRun returns all passes for a run ordered by frame sequence.
func (s *GroundPassStore) ListByRun(runID string) ([]*GroundPass, error) {
	query := `
		SELECT pass_id, run_id, frame_id, frame_seq, frame_stamp_ns,
		       points_in, points_non_ground, sectors, duration_ns,
		       params_json, created_at_ns
		FROM ground_filter_passes
		WHERE run_id = ?
		ORDER BY frame_seq, created_at_ns
	`

	rows, err := s.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("list ground passes: %w", err)
	}
	defer rows.Close()

	var passes []*GroundPass
	for rows.Next() {
		p := &GroundPass{}
		var params string
		err := rows.Scan(
			&p.PassID, &p.RunID, &p.FrameID, &p.FrameSeq, &p.FrameStampNs,
			&p.PointsIn, &p.PointsNonGround, &p.Sectors, &p.DurationNs,
			&params, &p.CreatedAtNs,
		)
		if err != nil {
			return nil, fmt.Errorf("scan ground pass: %w", err)
		}
		p.ParamsJSON = json.RawMessage(params)
		passes = append(passes, p)
	}

	return passes, rows.Err()
}

// Summarize aggregates the passes of a run. It returns sql.ErrNoRows when
// the run has no passes.
func (s *GroundPassStore) Summarize(runID string) (*RunSummary, error) {
	query := `
		SELECT COUNT(*),
		       COALESCE(SUM(points_in), 0),
		       COALESCE(SUM(points_non_ground), 0),
		       AVG(CASE WHEN points_in > 0 THEN CAST(points_non_ground AS REAL) / points_in END),
		       AVG(duration_ns)
		FROM ground_filter_passes
		WHERE run_id = ?
	`

	summary := &RunSummary{RunID: runID}
	var meanFraction, meanDuration sql.NullFloat64
	err := s.db.QueryRow(query, runID).Scan(
		&summary.Passes,
		&summary.TotalPoints,
		&summary.TotalNonGround,
		&meanFraction,
		&meanDuration,
	)
	if err != nil {
		return nil, fmt.Errorf("summarize ground passes: %w", err)
	}
	if summary.Passes == 0 {
		return nil, sql.ErrNoRows
	}
	if meanFraction.Valid {
		summary.MeanNonGroundFraction = meanFraction.Float64
	}
	if meanDuration.Valid {
		summary.MeanDurationNs = meanDuration.Float64
	}
	return summary, nil
}

// DeleteRun removes every pass recorded for a run and returns how many
// were removed.
func (s *GroundPassStore) DeleteRun(runID string) (int64, error) {
	result, err := s.db.Exec("DELETE FROM ground_filter_passes WHERE run_id = ?", runID)
	if err != nil {
		return 0, fmt.Errorf("delete ground passes: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete ground passes rows affected: %w", err)
	}
	return n, nil
}

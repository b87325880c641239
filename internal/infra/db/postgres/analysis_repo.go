package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bryanwahyu/bimwatch/internal/domain/alerts"
	domain "github.com/bryanwahyu/bimwatch/internal/domain/analysis"
)

type AnalysisRepository struct {
	db *sql.DB
}

func NewAnalysisRepository(db *sql.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

// Put inserts the record and its alerts in one transaction.
func (r *AnalysisRepository) Put(ctx context.Context, rec *domain.Analysis, alertList []alerts.Alert) error {
	detectedJSON, err := json.Marshal(rec.DetectedElements)
	if err != nil {
		return fmt.Errorf("marshal detected elements: %w", err)
	}
	alertsJSON, err := json.Marshal(rec.Alerts)
	if err != nil {
		return fmt.Errorf("marshal alert titles: %w", err)
	}
	var comparisonJSON []byte
	if rec.Comparison != nil {
		comparisonJSON, err = json.Marshal(rec.Comparison)
		if err != nil {
			return fmt.Errorf("marshal comparison: %w", err)
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const insertAnalysis = `
INSERT INTO analyses
  (id, project_id, image_key, overall_progress, summary, detected_json, alerts_json, comparison_json, analyzed_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9);
`
	if _, err := tx.ExecContext(ctx, insertAnalysis,
		rec.ID, rec.ProjectID, rec.ImageKey, rec.OverallProgress, rec.Summary,
		detectedJSON, alertsJSON, nullableJSON(comparisonJSON), rec.AnalyzedAt,
	); err != nil {
		return err
	}

	const insertAlert = `
INSERT INTO alerts
  (id, project_id, analysis_id, alert_type, severity, title, description, resolved, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9);
`
	for _, a := range alertList {
		if _, err := tx.ExecContext(ctx, insertAlert,
			a.ID, a.ProjectID, a.AnalysisID, a.Type, a.Severity, a.Title, a.Description, a.Resolved, a.CreatedAt,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const selectColumns = `
id, project_id, image_key, overall_progress, summary, detected_json, alerts_json, comparison_json, analyzed_at`

func (r *AnalysisRepository) Get(ctx context.Context, projectID, analysisID string) (*domain.Analysis, error) {
	q := `SELECT` + selectColumns + `
FROM analyses
WHERE project_id=$1 AND id=$2;`
	return scanOne(r.db.QueryRowContext(ctx, q, projectID, analysisID))
}

func (r *AnalysisRepository) GetLatest(ctx context.Context, projectID string, before time.Time) (*domain.Analysis, error) {
	q := `SELECT` + selectColumns + `
FROM analyses
WHERE project_id=$1 AND analyzed_at < $2
ORDER BY analyzed_at DESC, id DESC
LIMIT 1;`
	return scanOne(r.db.QueryRowContext(ctx, q, projectID, before))
}

func (r *AnalysisRepository) List(ctx context.Context, projectID string, limit int) ([]*domain.Analysis, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT` + selectColumns + `
FROM analyses
WHERE project_id=$1
ORDER BY analyzed_at DESC, id DESC
LIMIT $2;`
	rows, err := r.db.QueryContext(ctx, q, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Analysis
	for rows.Next() {
		rec, err := scanAnalysis(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanOne(row *sql.Row) (*domain.Analysis, error) {
	rec, err := scanAnalysis(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func scanAnalysis(scan func(dest ...any) error) (*domain.Analysis, error) {
	var rec domain.Analysis
	var detectedJSON, alertsJSON []byte
	var comparisonJSON sql.NullString
	if err := scan(
		&rec.ID, &rec.ProjectID, &rec.ImageKey, &rec.OverallProgress, &rec.Summary,
		&detectedJSON, &alertsJSON, &comparisonJSON, &rec.AnalyzedAt,
	); err != nil {
		return nil, err
	}
	if len(detectedJSON) > 0 {
		if err := json.Unmarshal(detectedJSON, &rec.DetectedElements); err != nil {
			return nil, fmt.Errorf("unmarshal detected elements: %w", err)
		}
	}
	if len(alertsJSON) > 0 {
		if err := json.Unmarshal(alertsJSON, &rec.Alerts); err != nil {
			return nil, fmt.Errorf("unmarshal alert titles: %w", err)
		}
	}
	if comparisonJSON.Valid && comparisonJSON.String != "" {
		var comp domain.Comparison
		if err := json.Unmarshal([]byte(comparisonJSON.String), &comp); err != nil {
			return nil, fmt.Errorf("unmarshal comparison: %w", err)
		}
		rec.Comparison = &comp
	}
	return &rec, nil
}

func nullableJSON(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	return data
}

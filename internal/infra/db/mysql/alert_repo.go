package mysql

import (
	"context"
	"database/sql"

	domain "github.com/bryanwahyu/bimwatch/internal/domain/alerts"
)

type AlertRepository struct {
	db *sql.DB
}

func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// Put inserts a single alert outside the analysis commit path.
func (r *AlertRepository) Put(ctx context.Context, a *domain.Alert) error {
	const q = `
INSERT INTO alerts
  (id, project_id, analysis_id, alert_type, severity, title, description, resolved, created_at)
VALUES (?,?,?,?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE
  severity=VALUES(severity), title=VALUES(title), description=VALUES(description), resolved=VALUES(resolved);
`
	_, err := r.db.ExecContext(ctx, q,
		a.ID, a.ProjectID, a.AnalysisID, a.Type, a.Severity, a.Title, a.Description, a.Resolved, a.CreatedAt)
	return err
}

// List returns alerts of the project, unresolved first, newest first.
func (r *AlertRepository) List(ctx context.Context, projectID string, unresolvedOnly bool, limit int) ([]*domain.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `
SELECT id, project_id, analysis_id, alert_type, severity, title, description, resolved, created_at
FROM alerts
WHERE project_id=?`
	if unresolvedOnly {
		q += ` AND resolved=FALSE`
	}
	q += `
ORDER BY resolved ASC, created_at DESC, id DESC
LIMIT ?;`
	rows, err := r.db.QueryContext(ctx, q, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Alert
	for rows.Next() {
		var a domain.Alert
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.AnalysisID, &a.Type, &a.Severity,
			&a.Title, &a.Description, &a.Resolved, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// Resolve marks the alert as handled.
func (r *AlertRepository) Resolve(ctx context.Context, projectID, alertID string) error {
	const q = `UPDATE alerts SET resolved=TRUE WHERE project_id=? AND id=?;`
	res, err := r.db.ExecContext(ctx, q, projectID, alertID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel/chapter-tracker/internal/models"
)

type ScheduledRunRepository struct {
	q Querier
}

func NewScheduledRunRepository(q Querier) *ScheduledRunRepository {
	return &ScheduledRunRepository{q: q}
}

// Create records a request. A repeated request for the same pair keeps the
// original creation time.
func (r *ScheduledRunRepository) Create(ctx context.Context, mangaID int64, serviceID int64, createdBy string, now time.Time) error {
	if _, err := r.q.ExecContext(ctx, `
		INSERT INTO scheduled_runs (manga_id, service_id, created_by, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (manga_id, service_id) DO NOTHING
	`, mangaID, serviceID, strings.TrimSpace(createdBy), DBTime(now)); err != nil {
		return fmt.Errorf("create scheduled run: %w", err)
	}
	return nil
}

func (r *ScheduledRunRepository) List(ctx context.Context) ([]models.ScheduledRun, error) {
	return r.query(ctx, `
		SELECT sr.manga_id, sr.service_id, sr.created_by, sr.created_at, ms.title_id
		FROM scheduled_runs sr
		JOIN manga_service ms ON ms.manga_id = sr.manga_id AND ms.service_id = sr.service_id
		ORDER BY sr.created_at ASC, sr.manga_id ASC
	`)
}

// ListEligible returns the oldest requests of a source whose title was last
// checked at least minInterval ago.
func (r *ScheduledRunRepository) ListEligible(ctx context.Context, serviceID int64, limit int, minInterval time.Duration, now time.Time) ([]models.ScheduledRun, error) {
	if limit <= 0 {
		return nil, nil
	}
	cutoff := DBTime(now.Add(-minInterval))
	return r.query(ctx, `
		SELECT sr.manga_id, sr.service_id, sr.created_by, sr.created_at, ms.title_id
		FROM scheduled_runs sr
		JOIN manga_service ms ON ms.manga_id = sr.manga_id AND ms.service_id = sr.service_id
		WHERE sr.service_id = ?
			AND ms.disabled = 0
			AND (ms.last_check IS NULL OR ms.last_check <= ?)
		ORDER BY sr.created_at ASC, sr.manga_id ASC
		LIMIT ?
	`, serviceID, cutoff, limit)
}

// DeleteDisabled drops the requests of a source whose title is disabled
// there and returns how many were dropped.
func (r *ScheduledRunRepository) DeleteDisabled(ctx context.Context, serviceID int64) (int64, error) {
	result, err := r.q.ExecContext(ctx, `
		DELETE FROM scheduled_runs
		WHERE service_id = ?
			AND EXISTS (
				SELECT 1 FROM manga_service ms
				WHERE ms.manga_id = scheduled_runs.manga_id
					AND ms.service_id = scheduled_runs.service_id
					AND ms.disabled = 1
			)
	`, serviceID)
	if err != nil {
		return 0, fmt.Errorf("delete disabled scheduled runs: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count disabled scheduled runs: %w", err)
	}
	return count, nil
}

// ServiceIDs lists sources that have pending requests.
func (r *ScheduledRunRepository) ServiceIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT DISTINCT service_id FROM scheduled_runs ORDER BY service_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list scheduled run services: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan scheduled run service: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scheduled run services: %w", err)
	}
	return ids, nil
}

func (r *ScheduledRunRepository) Delete(ctx context.Context, mangaID int64, serviceID int64) error {
	if _, err := r.q.ExecContext(ctx, `
		DELETE FROM scheduled_runs WHERE manga_id = ? AND service_id = ?
	`, mangaID, serviceID); err != nil {
		return fmt.Errorf("delete scheduled run: %w", err)
	}
	return nil
}

func (r *ScheduledRunRepository) query(ctx context.Context, query string, args ...any) ([]models.ScheduledRun, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list scheduled runs: %w", err)
	}
	defer rows.Close()

	items := make([]models.ScheduledRun, 0)
	for rows.Next() {
		var run models.ScheduledRun
		if err := rows.Scan(&run.MangaID, &run.ServiceID, &run.CreatedBy, &run.CreatedAt, &run.TitleID); err != nil {
			return nil, fmt.Errorf("scan scheduled run: %w", err)
		}
		run.CreatedAt = run.CreatedAt.UTC()
		items = append(items, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scheduled runs: %w", err)
	}
	return items, nil
}

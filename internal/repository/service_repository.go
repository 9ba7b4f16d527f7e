package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gabriel/chapter-tracker/internal/models"
)

const (
	DefaultDedupWindow   = 400
	DefaultCheckInterval = time.Hour
)

type ServiceRepository struct {
	q Querier
}

func NewServiceRepository(q Querier) *ServiceRepository {
	return &ServiceRepository{q: q}
}

// DueWhole pairs a whole-feed source with its feed state.
type DueWhole struct {
	Service models.Service
	Whole   models.ServiceWhole
}

const serviceColumns = `
	s.service_id, s.key, s.name, s.url, s.chapter_url_format, s.manga_url_format,
	s.disabled, s.last_check, s.disabled_until, s.consecutive_failures, s.last_id`

func scanService(scanner rowScanner, extra ...any) (*models.Service, error) {
	var service models.Service
	var chapterURLFormat sql.NullString
	var mangaURLFormat sql.NullString
	var disabled bool
	var lastCheck sql.NullTime
	var disabledUntil sql.NullTime
	var lastID sql.NullString

	dest := []any{
		&service.ID,
		&service.Key,
		&service.Name,
		&service.URL,
		&chapterURLFormat,
		&mangaURLFormat,
		&disabled,
		&lastCheck,
		&disabledUntil,
		&service.ConsecutiveFailures,
		&lastID,
	}
	if err := scanner.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	service.Disabled = disabled
	service.ChapterURLFormat = nullStringPtr(chapterURLFormat)
	service.MangaURLFormat = nullStringPtr(mangaURLFormat)
	service.LastCheck = nullTimePtr(lastCheck)
	service.DisabledUntil = nullTimePtr(disabledUntil)
	service.LastID = nullStringPtr(lastID)
	return &service, nil
}

func (r *ServiceRepository) List(ctx context.Context) ([]models.Service, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+serviceColumns+` FROM services s ORDER BY s.service_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	defer rows.Close()

	items := make([]models.Service, 0)
	for rows.Next() {
		service, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		items = append(items, *service)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate services: %w", err)
	}
	return items, nil
}

func (r *ServiceRepository) GetByID(ctx context.Context, id int64) (*models.Service, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+serviceColumns+` FROM services s WHERE s.service_id = ?`, id)
	service, err := scanService(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get service by id: %w", err)
	}
	return service, nil
}

func (r *ServiceRepository) GetByKey(ctx context.Context, key string) (*models.Service, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+serviceColumns+` FROM services s WHERE s.key = ?`, key)
	service, err := scanService(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get service by key: %w", err)
	}
	return service, nil
}

// GetConfig returns the stored config or the defaults when none exists.
func (r *ServiceRepository) GetConfig(ctx context.Context, serviceID int64) (models.ServiceConfig, error) {
	cfg := models.ServiceConfig{
		ServiceID:               serviceID,
		CheckInterval:           DefaultCheckInterval,
		DedupWindow:             DefaultDedupWindow,
		ScheduledRunsEnabled:    true,
		ScheduledRunLimit:       10,
		ScheduledRunMinInterval: time.Hour,
	}

	var checkSeconds int64
	var minIntervalSeconds int64
	var enabled bool
	err := r.q.QueryRowContext(ctx, `
		SELECT check_interval_seconds, dedup_window, scheduled_runs_enabled,
			scheduled_run_limit, scheduled_run_min_interval_seconds
		FROM service_config
		WHERE service_id = ?
	`, serviceID).Scan(&checkSeconds, &cfg.DedupWindow, &enabled, &cfg.ScheduledRunLimit, &minIntervalSeconds)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("get service config: %w", err)
	}

	cfg.ScheduledRunsEnabled = enabled
	cfg.CheckInterval = time.Duration(checkSeconds) * time.Second
	cfg.ScheduledRunMinInterval = time.Duration(minIntervalSeconds) * time.Second
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = DefaultDedupWindow
	}
	return cfg, nil
}

func (r *ServiceRepository) GetWhole(ctx context.Context, serviceID int64) (*models.ServiceWhole, error) {
	var whole models.ServiceWhole
	var lastUpdate sql.NullTime
	var nextUpdate sql.NullTime
	err := r.q.QueryRowContext(ctx, `
		SELECT service_id, feed_url, last_update, next_update
		FROM service_whole
		WHERE service_id = ?
	`, serviceID).Scan(&whole.ServiceID, &whole.FeedURL, &lastUpdate, &nextUpdate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get service whole: %w", err)
	}
	whole.LastUpdate = nullTimePtr(lastUpdate)
	whole.NextUpdate = nullTimePtr(nextUpdate)
	return &whole, nil
}

// ListDueWhole returns whole-feed sources that are enabled, not backed off
// and past their next update.
func (r *ServiceRepository) ListDueWhole(ctx context.Context, now time.Time) ([]DueWhole, error) {
	now = DBTime(now)
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+serviceColumns+`, w.feed_url, w.last_update, w.next_update
		FROM services s
		JOIN service_whole w ON w.service_id = s.service_id
		WHERE s.disabled = 0
			AND (s.disabled_until IS NULL OR s.disabled_until <= ?)
			AND (w.next_update IS NULL OR w.next_update <= ?)
		ORDER BY s.service_id ASC
	`, now, now)
	if err != nil {
		return nil, fmt.Errorf("list due whole-feed services: %w", err)
	}
	defer rows.Close()

	items := make([]DueWhole, 0)
	for rows.Next() {
		var feedURL string
		var lastUpdate sql.NullTime
		var nextUpdate sql.NullTime
		service, err := scanService(rows, &feedURL, &lastUpdate, &nextUpdate)
		if err != nil {
			return nil, fmt.Errorf("scan due whole-feed service: %w", err)
		}
		items = append(items, DueWhole{
			Service: *service,
			Whole: models.ServiceWhole{
				ServiceID:  service.ID,
				FeedURL:    feedURL,
				LastUpdate: nullTimePtr(lastUpdate),
				NextUpdate: nullTimePtr(nextUpdate),
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due whole-feed services: %w", err)
	}
	return items, nil
}

// ListDuePerTitle returns per-title sources that have at least one due title.
func (r *ServiceRepository) ListDuePerTitle(ctx context.Context, now time.Time) ([]models.Service, error) {
	now = DBTime(now)
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+serviceColumns+`
		FROM services s
		WHERE s.disabled = 0
			AND (s.disabled_until IS NULL OR s.disabled_until <= ?)
			AND s.service_id NOT IN (SELECT service_id FROM service_whole)
			AND EXISTS (
				SELECT 1 FROM manga_service ms
				WHERE ms.service_id = s.service_id
					AND ms.disabled = 0
					AND (ms.next_update IS NULL OR ms.next_update <= ?)
			)
		ORDER BY s.service_id ASC
	`, now, now)
	if err != nil {
		return nil, fmt.Errorf("list due per-title services: %w", err)
	}
	defer rows.Close()

	items := make([]models.Service, 0)
	for rows.Next() {
		service, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due per-title service: %w", err)
		}
		items = append(items, *service)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due per-title services: %w", err)
	}
	return items, nil
}

// RecordFailure backs the source off exponentially and leaves every
// next_update untouched so the work is retried once the backoff ends.
func (r *ServiceRepository) RecordFailure(ctx context.Context, serviceID int64, now time.Time, base time.Duration, max time.Duration) (time.Time, error) {
	var failures int
	if err := r.q.QueryRowContext(ctx, `SELECT consecutive_failures FROM services WHERE service_id = ?`, serviceID).Scan(&failures); err != nil {
		return time.Time{}, fmt.Errorf("read service failures: %w", err)
	}

	until := DBTime(now.Add(BackoffDelay(failures, base, max)))
	if _, err := r.q.ExecContext(ctx, `
		UPDATE services
		SET consecutive_failures = consecutive_failures + 1,
			disabled_until = ?,
			last_check = ?
		WHERE service_id = ?
	`, until, DBTime(now), serviceID); err != nil {
		return time.Time{}, fmt.Errorf("record service failure: %w", err)
	}
	return until, nil
}

// BackoffDelay is base doubled per previous failure, capped at max.
func BackoffDelay(previousFailures int, base time.Duration, max time.Duration) time.Duration {
	delay := base
	for i := 0; i < previousFailures && delay < max; i++ {
		delay *= 2
	}
	if delay > max {
		delay = max
	}
	return delay
}

func (r *ServiceRepository) RecordSuccess(ctx context.Context, serviceID int64, now time.Time) error {
	if _, err := r.q.ExecContext(ctx, `
		UPDATE services
		SET consecutive_failures = 0,
			disabled_until = NULL,
			last_check = ?
		WHERE service_id = ?
	`, DBTime(now), serviceID); err != nil {
		return fmt.Errorf("record service success: %w", err)
	}
	return nil
}

func (r *ServiceRepository) UpdateWholeSchedule(ctx context.Context, serviceID int64, lastUpdate time.Time, nextUpdate time.Time) error {
	if _, err := r.q.ExecContext(ctx, `
		UPDATE service_whole
		SET last_update = ?, next_update = ?
		WHERE service_id = ?
	`, DBTime(lastUpdate), DBTime(nextUpdate), serviceID); err != nil {
		return fmt.Errorf("update whole-feed schedule: %w", err)
	}
	return nil
}

func (r *ServiceRepository) UpdateLastID(ctx context.Context, serviceID int64, lastID string) error {
	if _, err := r.q.ExecContext(ctx, `UPDATE services SET last_id = ? WHERE service_id = ?`, lastID, serviceID); err != nil {
		return fmt.Errorf("update service last id: %w", err)
	}
	return nil
}

// NextTitleWake is the earliest moment a per-title source has due work,
// taking source backoff into account. It is nil when nothing is scheduled.
func (r *ServiceRepository) NextTitleWake(ctx context.Context, now time.Time) (*time.Time, error) {
	return r.nextWake(ctx, now, `
		SELECT ms.next_update, s.disabled_until
		FROM manga_service ms
		JOIN services s ON s.service_id = ms.service_id
		WHERE ms.disabled = 0
			AND s.disabled = 0
			AND s.service_id NOT IN (SELECT service_id FROM service_whole)
		ORDER BY MAX(COALESCE(ms.next_update, ''), COALESCE(s.disabled_until, '')) ASC
		LIMIT 1
	`)
}

// NextWholeWake is NextTitleWake for whole-feed sources.
func (r *ServiceRepository) NextWholeWake(ctx context.Context, now time.Time) (*time.Time, error) {
	return r.nextWake(ctx, now, `
		SELECT w.next_update, s.disabled_until
		FROM service_whole w
		JOIN services s ON s.service_id = w.service_id
		WHERE s.disabled = 0
		ORDER BY MAX(COALESCE(w.next_update, ''), COALESCE(s.disabled_until, '')) ASC
		LIMIT 1
	`)
}

func (r *ServiceRepository) nextWake(ctx context.Context, now time.Time, query string) (*time.Time, error) {
	var nextUpdate sql.NullTime
	var disabledUntil sql.NullTime
	if err := r.q.QueryRowContext(ctx, query).Scan(&nextUpdate, &disabledUntil); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query next wake: %w", err)
	}

	wake := now.UTC()
	if nextUpdate.Valid && nextUpdate.Time.After(wake) {
		wake = nextUpdate.Time.UTC()
	}
	if disabledUntil.Valid && disabledUntil.Time.After(wake) {
		wake = disabledUntil.Time.UTC()
	}
	return &wake, nil
}

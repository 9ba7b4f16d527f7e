package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel/chapter-tracker/internal/models"
	"github.com/gabriel/chapter-tracker/internal/searchutil"
)

type MangaRepository struct {
	q Querier
}

func NewMangaRepository(q Querier) *MangaRepository {
	return &MangaRepository{q: q}
}

// TitleMatch is an existing manga whose case-folded title equals a key.
type TitleMatch struct {
	TitleKey string
	MangaID  int64
}

const mangaColumns = `
	m.manga_id, m.title, m.release_interval_seconds, m.latest_release,
	m.estimated_release, m.latest_chapter, m.views`

func scanManga(scanner rowScanner) (*models.Manga, error) {
	var manga models.Manga
	var interval sql.NullInt64
	var latestRelease sql.NullTime
	var estimatedRelease sql.NullTime
	var latestChapter sql.NullInt64
	if err := scanner.Scan(
		&manga.ID,
		&manga.Title,
		&interval,
		&latestRelease,
		&estimatedRelease,
		&latestChapter,
		&manga.Views,
	); err != nil {
		return nil, err
	}
	manga.ReleaseInterval = nullDurationPtr(interval)
	manga.LatestRelease = nullTimePtr(latestRelease)
	manga.EstimatedRelease = nullTimePtr(estimatedRelease)
	manga.LatestChapter = nullIntPtr(latestChapter)
	return &manga, nil
}

func (r *MangaRepository) GetByID(ctx context.Context, id int64) (*models.Manga, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+mangaColumns+` FROM manga m WHERE m.manga_id = ?`, id)
	manga, err := scanManga(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get manga by id: %w", err)
	}
	return manga, nil
}

// Search matches the query against titles and aliases.
func (r *MangaRepository) Search(ctx context.Context, query string, limit int) ([]models.Manga, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	pattern := "%" + strings.ReplaceAll(searchutil.TitleKey(query), "%", "") + "%"
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+mangaColumns+`
		FROM manga m
		WHERE m.title_key LIKE ?
			OR EXISTS (SELECT 1 FROM manga_alias a WHERE a.manga_id = m.manga_id AND lower(a.title) LIKE ?)
		ORDER BY m.views DESC, m.manga_id ASC
		LIMIT ?
	`, pattern, strings.ToLower(pattern), limit)
	if err != nil {
		return nil, fmt.Errorf("search manga: %w", err)
	}
	defer rows.Close()

	items := make([]models.Manga, 0)
	for rows.Next() {
		manga, err := scanManga(rows)
		if err != nil {
			return nil, fmt.Errorf("scan manga: %w", err)
		}
		items = append(items, *manga)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate manga: %w", err)
	}
	return items, nil
}

// FindTitleMatches looks up manga by title key among manga that are not yet
// present on the given source. Keys with more than one match are returned
// once per match so the caller can reject them.
func (r *MangaRepository) FindTitleMatches(ctx context.Context, serviceID int64, titleKeys []string) ([]TitleMatch, error) {
	if len(titleKeys) == 0 {
		return nil, nil
	}

	placeholders, args := inList(titleKeys, serviceID)
	rows, err := r.q.QueryContext(ctx, `
		SELECT m.title_key, m.manga_id
		FROM manga m
		WHERE m.title_key IN (`+placeholders+`)
			AND NOT EXISTS (
				SELECT 1 FROM manga_service ms
				WHERE ms.manga_id = m.manga_id AND ms.service_id = ?
			)
		ORDER BY m.manga_id ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("find manga by title: %w", err)
	}
	defer rows.Close()

	matches := make([]TitleMatch, 0)
	for rows.Next() {
		var match TitleMatch
		if err := rows.Scan(&match.TitleKey, &match.MangaID); err != nil {
			return nil, fmt.Errorf("scan title match: %w", err)
		}
		matches = append(matches, match)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate title matches: %w", err)
	}
	return matches, nil
}

func (r *MangaRepository) Create(ctx context.Context, title string) (int64, error) {
	var id int64
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO manga (title, title_key) VALUES (?, ?)
		RETURNING manga_id
	`, strings.TrimSpace(title), searchutil.TitleKey(title)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create manga: %w", err)
	}
	return id, nil
}

func (r *MangaRepository) AddService(ctx context.Context, ms models.MangaService) error {
	if _, err := r.q.ExecContext(ctx, `
		INSERT INTO manga_service (manga_id, service_id, title_id, feed_url, next_update)
		VALUES (?, ?, ?, ?, ?)
	`, ms.MangaID, ms.ServiceID, ms.TitleID, stringPtrArg(ms.FeedURL), dbTimePtr(ms.NextUpdate)); err != nil {
		return fmt.Errorf("add manga service: %w", err)
	}
	return nil
}

const mangaServiceColumns = `
	ms.manga_id, ms.service_id, ms.title_id, ms.disabled, ms.last_check,
	ms.next_update, ms.latest_chapter, ms.latest_decimal, ms.feed_url`

func scanMangaService(scanner rowScanner) (*models.MangaService, error) {
	var ms models.MangaService
	var disabled bool
	var lastCheck sql.NullTime
	var nextUpdate sql.NullTime
	var latestChapter sql.NullInt64
	var latestDecimal sql.NullInt64
	var feedURL sql.NullString
	if err := scanner.Scan(
		&ms.MangaID,
		&ms.ServiceID,
		&ms.TitleID,
		&disabled,
		&lastCheck,
		&nextUpdate,
		&latestChapter,
		&latestDecimal,
		&feedURL,
	); err != nil {
		return nil, err
	}
	ms.Disabled = disabled
	ms.LastCheck = nullTimePtr(lastCheck)
	ms.NextUpdate = nullTimePtr(nextUpdate)
	ms.LatestChapter = nullIntPtr(latestChapter)
	ms.LatestDecimal = nullIntPtr(latestDecimal)
	ms.FeedURL = nullStringPtr(feedURL)
	return &ms, nil
}

func (r *MangaRepository) GetService(ctx context.Context, mangaID int64, serviceID int64) (*models.MangaService, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT `+mangaServiceColumns+`
		FROM manga_service ms
		WHERE ms.manga_id = ? AND ms.service_id = ?
	`, mangaID, serviceID)
	ms, err := scanMangaService(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get manga service: %w", err)
	}
	return ms, nil
}

// ServicesByTitleID maps source-native title ids to their manga_service rows.
func (r *MangaRepository) ServicesByTitleID(ctx context.Context, serviceID int64, titleIDs []string) (map[string]models.MangaService, error) {
	result := make(map[string]models.MangaService, len(titleIDs))
	if len(titleIDs) == 0 {
		return result, nil
	}

	placeholders, args := inList(titleIDs, serviceID)
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+mangaServiceColumns+`
		FROM manga_service ms
		WHERE ms.title_id IN (`+placeholders+`) AND ms.service_id = ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list manga services by title id: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		ms, err := scanMangaService(rows)
		if err != nil {
			return nil, fmt.Errorf("scan manga service: %w", err)
		}
		result[ms.TitleID] = *ms
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate manga services: %w", err)
	}
	return result, nil
}

func (r *MangaRepository) ListServices(ctx context.Context, mangaID int64) ([]models.MangaService, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+mangaServiceColumns+`
		FROM manga_service ms
		WHERE ms.manga_id = ?
		ORDER BY ms.service_id ASC
	`, mangaID)
	if err != nil {
		return nil, fmt.Errorf("list manga services: %w", err)
	}
	defer rows.Close()

	items := make([]models.MangaService, 0)
	for rows.Next() {
		ms, err := scanMangaService(rows)
		if err != nil {
			return nil, fmt.Errorf("scan manga service: %w", err)
		}
		items = append(items, *ms)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate manga services: %w", err)
	}
	return items, nil
}

// ListDueServices returns enabled titles of one source whose next update
// has passed, never-checked titles first.
func (r *MangaRepository) ListDueServices(ctx context.Context, serviceID int64, now time.Time) ([]models.MangaService, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+mangaServiceColumns+`
		FROM manga_service ms
		WHERE ms.service_id = ?
			AND ms.disabled = 0
			AND (ms.next_update IS NULL OR ms.next_update <= ?)
		ORDER BY ms.next_update IS NOT NULL, ms.next_update ASC
	`, serviceID, DBTime(now))
	if err != nil {
		return nil, fmt.Errorf("list due manga services: %w", err)
	}
	defer rows.Close()

	items := make([]models.MangaService, 0)
	for rows.Next() {
		ms, err := scanMangaService(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due manga service: %w", err)
		}
		items = append(items, *ms)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due manga services: %w", err)
	}
	return items, nil
}

func (r *MangaRepository) UpdateServiceLatest(ctx context.Context, mangaID int64, serviceID int64, latestChapter int, latestDecimal *int) error {
	if _, err := r.q.ExecContext(ctx, `
		UPDATE manga_service
		SET latest_chapter = ?, latest_decimal = ?
		WHERE manga_id = ? AND service_id = ?
	`, latestChapter, intPtrArg(latestDecimal), mangaID, serviceID); err != nil {
		return fmt.Errorf("update manga service latest chapter: %w", err)
	}
	return nil
}

func (r *MangaRepository) UpdateServiceSchedule(ctx context.Context, mangaID int64, serviceID int64, lastCheck time.Time, nextUpdate time.Time) error {
	if _, err := r.q.ExecContext(ctx, `
		UPDATE manga_service
		SET last_check = ?, next_update = ?
		WHERE manga_id = ? AND service_id = ?
	`, DBTime(lastCheck), DBTime(nextUpdate), mangaID, serviceID); err != nil {
		return fmt.Errorf("update manga service schedule: %w", err)
	}
	return nil
}

func (r *MangaRepository) UpdateReleaseInterval(ctx context.Context, mangaID int64, interval time.Duration) error {
	if _, err := r.q.ExecContext(ctx, `
		UPDATE manga SET release_interval_seconds = ? WHERE manga_id = ?
	`, int64(interval/time.Second), mangaID); err != nil {
		return fmt.Errorf("update release interval: %w", err)
	}
	return nil
}

// SetLatestChapter stores the chapter as the manga's latest only when its
// number is strictly greater than the stored one. A nil estimate keeps the
// stored estimated release.
func (r *MangaRepository) SetLatestChapter(ctx context.Context, mangaID int64, chapterNumber int, release time.Time, estimated *time.Time) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE manga
		SET latest_chapter = ?,
			latest_release = ?,
			estimated_release = COALESCE(?, estimated_release)
		WHERE manga_id = ?
			AND (latest_chapter IS NULL OR latest_chapter < ?)
	`, chapterNumber, DBTime(release), dbTimePtr(estimated), mangaID, chapterNumber)
	if err != nil {
		return false, fmt.Errorf("set latest chapter: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set latest chapter rows: %w", err)
	}
	return affected > 0, nil
}

func (r *MangaRepository) SetEstimatedRelease(ctx context.Context, mangaID int64, estimated time.Time) error {
	if _, err := r.q.ExecContext(ctx, `
		UPDATE manga SET estimated_release = ? WHERE manga_id = ?
	`, DBTime(estimated), mangaID); err != nil {
		return fmt.Errorf("set estimated release: %w", err)
	}
	return nil
}

func (r *MangaRepository) AddAlias(ctx context.Context, mangaID int64, title string) error {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return nil
	}
	if _, err := r.q.ExecContext(ctx, `
		INSERT OR IGNORE INTO manga_alias (manga_id, title) VALUES (?, ?)
	`, mangaID, trimmed); err != nil {
		return fmt.Errorf("add manga alias: %w", err)
	}
	return nil
}

func (r *MangaRepository) ListAliases(ctx context.Context, mangaID int64) ([]string, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT title FROM manga_alias WHERE manga_id = ? ORDER BY title ASC
	`, mangaID)
	if err != nil {
		return nil, fmt.Errorf("list manga aliases: %w", err)
	}
	defer rows.Close()

	items := make([]string, 0)
	for rows.Next() {
		var title string
		if err := rows.Scan(&title); err != nil {
			return nil, fmt.Errorf("scan manga alias: %w", err)
		}
		items = append(items, title)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate manga aliases: %w", err)
	}
	return items, nil
}

func (r *MangaRepository) GetInfo(ctx context.Context, mangaID int64) (*models.MangaInfo, error) {
	var info models.MangaInfo
	var cover, status, mal, anilist, mu, description sql.NullString
	err := r.q.QueryRowContext(ctx, `
		SELECT manga_id, cover, status, mal, anilist, mu, description
		FROM manga_info WHERE manga_id = ?
	`, mangaID).Scan(&info.MangaID, &cover, &status, &mal, &anilist, &mu, &description)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get manga info: %w", err)
	}
	info.Cover = nullStringPtr(cover)
	info.Status = nullStringPtr(status)
	info.MAL = nullStringPtr(mal)
	info.Anilist = nullStringPtr(anilist)
	info.MU = nullStringPtr(mu)
	info.Description = nullStringPtr(description)
	return &info, nil
}

// UpsertInfo keeps existing values and only fills fields that are empty.
func (r *MangaRepository) UpsertInfo(ctx context.Context, info models.MangaInfo) error {
	if _, err := r.q.ExecContext(ctx, `
		INSERT INTO manga_info (manga_id, cover, status, mal, anilist, mu, description)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(manga_id) DO UPDATE SET
			cover = COALESCE(manga_info.cover, excluded.cover),
			status = COALESCE(manga_info.status, excluded.status),
			mal = COALESCE(manga_info.mal, excluded.mal),
			anilist = COALESCE(manga_info.anilist, excluded.anilist),
			mu = COALESCE(manga_info.mu, excluded.mu),
			description = COALESCE(manga_info.description, excluded.description)
	`, info.MangaID, stringPtrArg(info.Cover), stringPtrArg(info.Status), stringPtrArg(info.MAL),
		stringPtrArg(info.Anilist), stringPtrArg(info.MU), stringPtrArg(info.Description)); err != nil {
		return fmt.Errorf("upsert manga info: %w", err)
	}
	return nil
}

// LinkAuthor records an author (or artist when artist is true) for a manga.
func (r *MangaRepository) LinkAuthor(ctx context.Context, mangaID int64, name string, artist bool) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return nil
	}
	var authorID int64
	if err := r.q.QueryRowContext(ctx, `
		INSERT INTO authors (name) VALUES (?)
		ON CONFLICT(name) DO UPDATE SET name = excluded.name
		RETURNING author_id
	`, trimmed).Scan(&authorID); err != nil {
		return fmt.Errorf("upsert author: %w", err)
	}

	table := "manga_author"
	if artist {
		table = "manga_artist"
	}
	if _, err := r.q.ExecContext(ctx, `INSERT OR IGNORE INTO `+table+` (manga_id, author_id) VALUES (?, ?)`, mangaID, authorID); err != nil {
		return fmt.Errorf("link %s: %w", table, err)
	}
	return nil
}

// ListEnabledServices returns every enabled title of one source regardless
// of its schedule.
func (r *MangaRepository) ListEnabledServices(ctx context.Context, serviceID int64) ([]models.MangaService, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+mangaServiceColumns+`
		FROM manga_service ms
		WHERE ms.service_id = ? AND ms.disabled = 0
		ORDER BY ms.manga_id ASC
	`, serviceID)
	if err != nil {
		return nil, fmt.Errorf("list enabled manga services: %w", err)
	}
	defer rows.Close()

	items := make([]models.MangaService, 0)
	for rows.Next() {
		ms, err := scanMangaService(rows)
		if err != nil {
			return nil, fmt.Errorf("scan manga service: %w", err)
		}
		items = append(items, *ms)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate manga services: %w", err)
	}
	return items, nil
}

// ListIDsWithInterval returns manga that have a release interval.
func (r *MangaRepository) ListIDsWithInterval(ctx context.Context) ([]int64, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT manga_id FROM manga WHERE release_interval_seconds IS NOT NULL ORDER BY manga_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list manga with interval: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan manga id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate manga ids: %w", err)
	}
	return ids, nil
}

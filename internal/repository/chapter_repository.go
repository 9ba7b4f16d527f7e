package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel/chapter-tracker/internal/models"
)

type ChapterRepository struct {
	q Querier
}

func NewChapterRepository(q Querier) *ChapterRepository {
	return &ChapterRepository{q: q}
}

// StoredChapter is the part of a persisted chapter the dedup check needs.
type StoredChapter struct {
	ID         int64
	Identifier string
	Title      string
}

// RecentIdentifiers returns up to limit of the most recently inserted
// chapters of a source, optionally scoped to one manga.
func (r *ChapterRepository) RecentIdentifiers(ctx context.Context, serviceID int64, mangaID *int64, limit int) ([]StoredChapter, error) {
	if limit <= 0 {
		limit = DefaultDedupWindow
	}

	query := `
		SELECT chapter_id, chapter_identifier, title
		FROM chapters
		WHERE service_id = ?`
	args := []any{serviceID}
	if mangaID != nil {
		query += ` AND manga_id = ?`
		args = append(args, *mangaID)
	}
	query += ` ORDER BY chapter_id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list recent chapter identifiers: %w", err)
	}
	defer rows.Close()

	items := make([]StoredChapter, 0, limit)
	for rows.Next() {
		var item StoredChapter
		if err := rows.Scan(&item.ID, &item.Identifier, &item.Title); err != nil {
			return nil, fmt.Errorf("scan chapter identifier: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chapter identifiers: %w", err)
	}
	return items, nil
}

// Insert stores a chapter and returns its id. A chapter whose identifier
// already exists for the source is skipped and reported with inserted=false.
func (r *ChapterRepository) Insert(ctx context.Context, chapter models.Chapter) (int64, bool, error) {
	var groupName any
	if chapter.Group != nil && strings.TrimSpace(*chapter.Group) != "" {
		groupName = strings.TrimSpace(*chapter.Group)
	}
	var groupID any
	if chapter.GroupID != nil {
		groupID = *chapter.GroupID
	}

	var id int64
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO chapters (
			manga_id, service_id, title, chapter_number, chapter_decimal,
			release_date, chapter_identifier, group_name, group_id
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (service_id, chapter_identifier) DO NOTHING
		RETURNING chapter_id
	`,
		chapter.MangaID,
		chapter.ServiceID,
		chapter.Title,
		chapter.ChapterNumber,
		intPtrArg(chapter.ChapterDecimal),
		DBTime(chapter.ReleaseDate),
		chapter.ChapterIdentifier,
		groupName,
		groupID,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("insert chapter: %w", err)
	}
	return id, true, nil
}

// BackfillTitle sets the title of a chapter stored without one.
func (r *ChapterRepository) BackfillTitle(ctx context.Context, serviceID int64, identifier string, title string) (int64, bool, error) {
	var id int64
	err := r.q.QueryRowContext(ctx, `
		UPDATE chapters
		SET title = ?
		WHERE service_id = ? AND chapter_identifier = ? AND title = ''
		RETURNING chapter_id
	`, title, serviceID, identifier).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("backfill chapter title: %w", err)
	}
	return id, true, nil
}

func (r *ChapterRepository) EnsureGroup(ctx context.Context, name string) (int64, error) {
	var id int64
	if err := r.q.QueryRowContext(ctx, `
		INSERT INTO groups (name) VALUES (?)
		ON CONFLICT(name) DO UPDATE SET name = excluded.name
		RETURNING group_id
	`, strings.TrimSpace(name)).Scan(&id); err != nil {
		return 0, fmt.Errorf("ensure group: %w", err)
	}
	return id, nil
}

// ReleaseHistory returns the earliest release per integer chapter number,
// newest chapter number first.
func (r *ChapterRepository) ReleaseHistory(ctx context.Context, mangaID int64, limit int) ([]models.ReleasePoint, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT DISTINCT c.chapter_number, c.release_date
		FROM chapters c
		WHERE c.manga_id = ?
			AND c.release_date = (
				SELECT MIN(c2.release_date)
				FROM chapters c2
				WHERE c2.manga_id = c.manga_id AND c2.chapter_number = c.chapter_number
			)
		ORDER BY c.chapter_number DESC
		LIMIT ?
	`, mangaID, limit)
	if err != nil {
		return nil, fmt.Errorf("list release history: %w", err)
	}
	defer rows.Close()

	items := make([]models.ReleasePoint, 0, limit)
	for rows.Next() {
		var point models.ReleasePoint
		if err := rows.Scan(&point.ChapterNumber, &point.ReleaseDate); err != nil {
			return nil, fmt.Errorf("scan release point: %w", err)
		}
		point.ReleaseDate = point.ReleaseDate.UTC()
		items = append(items, point)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate release history: %w", err)
	}
	return items, nil
}

// LatestRelease returns the release date of the highest chapter of a manga,
// taking the highest decimal at that number.
func (r *ChapterRepository) LatestRelease(ctx context.Context, mangaID int64) (*models.ReleasePoint, error) {
	var point models.ReleasePoint
	err := r.q.QueryRowContext(ctx, `
		SELECT c.chapter_number, c.release_date
		FROM chapters c
		WHERE c.manga_id = ?
		ORDER BY c.chapter_number DESC, COALESCE(c.chapter_decimal, 0) DESC, c.release_date ASC
		LIMIT 1
	`, mangaID).Scan(&point.ChapterNumber, &point.ReleaseDate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get latest release: %w", err)
	}
	point.ReleaseDate = point.ReleaseDate.UTC()
	return &point, nil
}

func (r *ChapterRepository) ListByManga(ctx context.Context, mangaID int64, limit int) ([]models.Chapter, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.q.QueryContext(ctx, `
		SELECT chapter_id, manga_id, service_id, title, chapter_number, chapter_decimal,
			release_date, chapter_identifier, group_name, group_id
		FROM chapters
		WHERE manga_id = ?
		ORDER BY chapter_number DESC, COALESCE(chapter_decimal, 0) DESC, release_date DESC
		LIMIT ?
	`, mangaID, limit)
	if err != nil {
		return nil, fmt.Errorf("list chapters: %w", err)
	}
	defer rows.Close()

	items := make([]models.Chapter, 0)
	for rows.Next() {
		var chapter models.Chapter
		var decimal sql.NullInt64
		var groupName sql.NullString
		var groupID sql.NullInt64
		if err := rows.Scan(
			&chapter.ID,
			&chapter.MangaID,
			&chapter.ServiceID,
			&chapter.Title,
			&chapter.ChapterNumber,
			&decimal,
			&chapter.ReleaseDate,
			&chapter.ChapterIdentifier,
			&groupName,
			&groupID,
		); err != nil {
			return nil, fmt.Errorf("scan chapter: %w", err)
		}
		chapter.ChapterDecimal = nullIntPtr(decimal)
		chapter.ReleaseDate = chapter.ReleaseDate.UTC()
		chapter.Group = nullStringPtr(groupName)
		chapter.GroupID = nullInt64Ptr(groupID)
		items = append(items, chapter)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chapters: %w", err)
	}
	return items, nil
}

// MangaIDsForChapters maps chapter ids to the manga they belong to.
func (r *ChapterRepository) MangaIDsForChapters(ctx context.Context, chapterIDs []int64) ([]int64, error) {
	if len(chapterIDs) == 0 {
		return nil, nil
	}
	placeholders, args := inList(chapterIDs)
	rows, err := r.q.QueryContext(ctx, `
		SELECT DISTINCT manga_id FROM chapters
		WHERE chapter_id IN (`+placeholders+`)
		ORDER BY manga_id ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list manga for chapters: %w", err)
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

// StoredIdentity is the number a chapter was stored under.
type StoredIdentity struct {
	Number  int
	Decimal *int
}

// StoredIdentities returns the stored numbers of the given identifiers of
// one manga on one source, keyed by identifier. Unknown identifiers are
// absent from the map.
func (r *ChapterRepository) StoredIdentities(ctx context.Context, serviceID int64, mangaID int64, identifiers []string) (map[string]StoredIdentity, error) {
	items := make(map[string]StoredIdentity, len(identifiers))
	if len(identifiers) == 0 {
		return items, nil
	}
	placeholders, args := inList(identifiers)
	args = append([]any{serviceID, mangaID}, args...)
	rows, err := r.q.QueryContext(ctx, `
		SELECT chapter_identifier, chapter_number, chapter_decimal
		FROM chapters
		WHERE service_id = ? AND manga_id = ? AND chapter_identifier IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list stored chapter identities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var identifier string
		var identity StoredIdentity
		var decimal sql.NullInt64
		if err := rows.Scan(&identifier, &identity.Number, &decimal); err != nil {
			return nil, fmt.Errorf("scan stored chapter identity: %w", err)
		}
		if decimal.Valid {
			d := int(decimal.Int64)
			identity.Decimal = &d
		}
		items[identifier] = identity
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stored chapter identities: %w", err)
	}
	return items, nil
}

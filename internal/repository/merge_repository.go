package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// MergeRepository holds the row moves used when two manga turn out to be
// the same work. Callers run it inside one transaction.
type MergeRepository struct {
	q Querier
}

func NewMergeRepository(q Querier) *MergeRepository {
	return &MergeRepository{q: q}
}

func (r *MergeRepository) CountChapters(ctx context.Context, mangaID int64, serviceID int64) (int64, error) {
	var count int64
	if err := r.q.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM chapters WHERE manga_id = ? AND service_id = ?
	`, mangaID, serviceID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count chapters: %w", err)
	}
	return count, nil
}

// MoveService re-points a manga_service row. Its chapters and scheduled
// runs follow through ON UPDATE CASCADE.
func (r *MergeRepository) MoveService(ctx context.Context, from int64, to int64, serviceID int64) (int64, error) {
	return r.exec(ctx, "move manga service", `
		UPDATE manga_service SET manga_id = ? WHERE manga_id = ? AND service_id = ?
	`, to, from, serviceID)
}

func (r *MergeRepository) MoveChapters(ctx context.Context, from int64, to int64, serviceID int64) (int64, error) {
	return r.exec(ctx, "move chapters", `
		UPDATE chapters SET manga_id = ? WHERE manga_id = ? AND service_id = ?
	`, to, from, serviceID)
}

func (r *MergeRepository) MoveScheduledRuns(ctx context.Context, from int64, to int64, serviceID int64) (int64, error) {
	return r.exec(ctx, "move scheduled runs", `
		UPDATE OR IGNORE scheduled_runs SET manga_id = ? WHERE manga_id = ? AND service_id = ?
	`, to, from, serviceID)
}

func (r *MergeRepository) DeleteService(ctx context.Context, mangaID int64, serviceID int64) error {
	_, err := r.exec(ctx, "delete manga service", `
		DELETE FROM manga_service WHERE manga_id = ? AND service_id = ?
	`, mangaID, serviceID)
	return err
}

// MoveAliases moves every alias the target does not already have and drops
// the rest.
func (r *MergeRepository) MoveAliases(ctx context.Context, from int64, to int64) (int64, error) {
	moved, err := r.exec(ctx, "move aliases", `
		UPDATE OR IGNORE manga_alias SET manga_id = ? WHERE manga_id = ?
	`, to, from)
	if err != nil {
		return 0, err
	}
	if _, err := r.exec(ctx, "delete leftover aliases", `DELETE FROM manga_alias WHERE manga_id = ?`, from); err != nil {
		return 0, err
	}
	return moved, nil
}

func (r *MergeRepository) AddAlias(ctx context.Context, mangaID int64, title string) (int64, error) {
	return r.exec(ctx, "add alias", `
		INSERT OR IGNORE INTO manga_alias (manga_id, title) VALUES (?, ?)
	`, mangaID, title)
}

// MoveAuthorLinks moves manga_author (or manga_artist) links.
func (r *MergeRepository) MoveAuthorLinks(ctx context.Context, from int64, to int64, artist bool) (int64, error) {
	table := "manga_author"
	if artist {
		table = "manga_artist"
	}
	moved, err := r.exec(ctx, "move "+table, `
		UPDATE OR IGNORE `+table+` SET manga_id = ? WHERE manga_id = ?
	`, to, from)
	if err != nil {
		return 0, err
	}
	if _, err := r.exec(ctx, "delete leftover "+table, `DELETE FROM `+table+` WHERE manga_id = ?`, from); err != nil {
		return 0, err
	}
	return moved, nil
}

// MergeInfo folds the metadata of from into to. When to already has a row
// its values win field by field and the row of from is deleted; otherwise
// the row of from is re-pointed. It reports whether a row was deleted.
func (r *MergeRepository) MergeInfo(ctx context.Context, from int64, to int64) (bool, error) {
	var exists int
	err := r.q.QueryRowContext(ctx, `SELECT 1 FROM manga_info WHERE manga_id = ?`, to).Scan(&exists)
	if err != nil && err != sql.ErrNoRows {
		return false, fmt.Errorf("check manga info: %w", err)
	}

	if err == sql.ErrNoRows {
		if _, err := r.exec(ctx, "move manga info", `UPDATE manga_info SET manga_id = ? WHERE manga_id = ?`, to, from); err != nil {
			return false, err
		}
		return false, nil
	}

	if _, err := r.exec(ctx, "coalesce manga info", `
		UPDATE manga_info
		SET cover = COALESCE(manga_info.cover, src.cover),
			status = COALESCE(manga_info.status, src.status),
			mal = COALESCE(manga_info.mal, src.mal),
			anilist = COALESCE(manga_info.anilist, src.anilist),
			mu = COALESCE(manga_info.mu, src.mu),
			description = COALESCE(manga_info.description, src.description)
		FROM (SELECT * FROM manga_info WHERE manga_id = ?) AS src
		WHERE manga_info.manga_id = ?
	`, from, to); err != nil {
		return false, err
	}

	deleted, err := r.exec(ctx, "delete merged manga info", `DELETE FROM manga_info WHERE manga_id = ?`, from)
	if err != nil {
		return false, err
	}
	return deleted > 0, nil
}

func (r *MergeRepository) DeleteManga(ctx context.Context, mangaID int64) error {
	_, err := r.exec(ctx, "delete manga", `DELETE FROM manga WHERE manga_id = ?`, mangaID)
	return err
}

func (r *MergeRepository) exec(ctx context.Context, action string, query string, args ...any) (int64, error) {
	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", action, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s rows: %w", action, err)
	}
	return affected, nil
}

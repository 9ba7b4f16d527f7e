package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gabriel/chapter-tracker/internal/models"
	"github.com/gabriel/chapter-tracker/internal/repository"
)

// Result splits a batch into chapters never seen before and already stored
// chapters whose title can now be filled in.
type Result struct {
	New     []models.Chapter
	Updated []models.Chapter
}

// Stored is the outcome of Store: ids of inserted chapters and of chapters
// whose title was back-filled.
type Stored struct {
	Inserted   []int64
	Backfilled []int64
}

type Engine struct {
	logger *slog.Logger
}

func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

// OnlyLatestEntries returns the candidates whose identifiers are not among
// the most recent window chapters of the source.
func (e *Engine) OnlyLatestEntries(ctx context.Context, q repository.Querier, serviceID int64, candidates []models.Chapter, mangaID *int64, window int) []models.Chapter {
	return e.Split(ctx, q, serviceID, candidates, mangaID, window).New
}

// Split compares candidates against the recent history of the source. When
// the history lookup fails every candidate is reported as new; the unique
// identifier constraint absorbs the resulting duplicate inserts.
func (e *Engine) Split(ctx context.Context, q repository.Querier, serviceID int64, candidates []models.Chapter, mangaID *int64, window int) Result {
	candidates = uniqueCandidates(candidates)
	if len(candidates) == 0 {
		return Result{}
	}

	recent, err := repository.NewChapterRepository(q).RecentIdentifiers(ctx, serviceID, mangaID, window)
	if err != nil {
		e.logger.Warn("dedup lookup failed, treating all chapters as new", "serviceId", serviceID, "chapters", len(candidates), "error", err)
		return Result{New: candidates}
	}

	stored := make(map[string]repository.StoredChapter, len(recent))
	for _, item := range recent {
		stored[item.Identifier] = item
	}

	result := Result{
		New:     make([]models.Chapter, 0, len(candidates)),
		Updated: make([]models.Chapter, 0),
	}
	for _, chapter := range candidates {
		existing, seen := stored[chapter.ChapterIdentifier]
		if !seen {
			result.New = append(result.New, chapter)
			continue
		}
		if existing.Title == "" && strings.TrimSpace(chapter.Title) != "" {
			result.Updated = append(result.Updated, chapter)
		}
	}
	return result
}

// Store inserts the new chapters and back-fills the updated titles. Inserts
// that hit an existing identifier are skipped.
func (e *Engine) Store(ctx context.Context, q repository.Querier, result Result) (Stored, error) {
	chapters := repository.NewChapterRepository(q)
	stored := Stored{
		Inserted:   make([]int64, 0, len(result.New)),
		Backfilled: make([]int64, 0, len(result.Updated)),
	}

	groups := make(map[string]int64)
	for _, chapter := range result.New {
		if chapter.Group != nil && chapter.GroupID == nil {
			name := strings.TrimSpace(*chapter.Group)
			if name != "" {
				groupID, ok := groups[name]
				if !ok {
					id, err := chapters.EnsureGroup(ctx, name)
					if err != nil {
						return stored, err
					}
					groups[name] = id
					groupID = id
				}
				chapter.GroupID = &groupID
			}
		}

		id, inserted, err := chapters.Insert(ctx, chapter)
		if err != nil {
			return stored, fmt.Errorf("store chapter %s: %w", chapter.ChapterIdentifier, err)
		}
		if !inserted {
			e.logger.Debug("chapter already stored", "serviceId", chapter.ServiceID, "chapterIdentifier", chapter.ChapterIdentifier)
			continue
		}
		stored.Inserted = append(stored.Inserted, id)
	}

	for _, chapter := range result.Updated {
		id, ok, err := chapters.BackfillTitle(ctx, chapter.ServiceID, chapter.ChapterIdentifier, strings.TrimSpace(chapter.Title))
		if err != nil {
			return stored, fmt.Errorf("back-fill chapter %s: %w", chapter.ChapterIdentifier, err)
		}
		if ok {
			stored.Backfilled = append(stored.Backfilled, id)
		}
	}
	return stored, nil
}

// uniqueCandidates keeps the first chapter of every identifier.
func uniqueCandidates(candidates []models.Chapter) []models.Chapter {
	seen := make(map[string]struct{}, len(candidates))
	unique := make([]models.Chapter, 0, len(candidates))
	for _, chapter := range candidates {
		if _, ok := seen[chapter.ChapterIdentifier]; ok {
			continue
		}
		seen[chapter.ChapterIdentifier] = struct{}{}
		unique = append(unique, chapter)
	}
	return unique
}

package interval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gabriel/chapter-tracker/internal/repository"
)

// Estimator stores release intervals and estimated releases. All methods
// run on the querier they are given so callers can keep them inside their
// own transaction.
type Estimator struct {
	logger *slog.Logger
}

func NewEstimator(logger *slog.Logger) *Estimator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Estimator{logger: logger}
}

// UpdateInterval recomputes and stores the release interval of a manga. A
// nil interval with a nil error means there was not enough data and nothing
// was written.
func (e *Estimator) UpdateInterval(ctx context.Context, q repository.Querier, mangaID int64) (*time.Duration, error) {
	history, err := repository.NewChapterRepository(q).ReleaseHistory(ctx, mangaID, HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("load release history: %w", err)
	}

	estimate := Estimate(history)
	if estimate == nil {
		e.logger.Debug("not enough data for release interval", "mangaId", mangaID, "chapters", len(history))
		return nil, nil
	}

	if err := repository.NewMangaRepository(q).UpdateReleaseInterval(ctx, mangaID, *estimate); err != nil {
		return nil, err
	}
	e.logger.Debug("release interval updated", "mangaId", mangaID, "interval", estimate.String())
	return estimate, nil
}

// UpdateLatestChapter raises the latest chapter of a manga. Numbers that do
// not exceed the stored one are ignored. When the manga has an interval the
// estimated release becomes release + interval.
func (e *Estimator) UpdateLatestChapter(ctx context.Context, q repository.Querier, mangaID int64, chapterNumber int, release time.Time) (bool, error) {
	mangaRepo := repository.NewMangaRepository(q)
	manga, err := mangaRepo.GetByID(ctx, mangaID)
	if err != nil {
		return false, err
	}
	if manga == nil {
		return false, nil
	}
	if manga.LatestChapter != nil && chapterNumber <= *manga.LatestChapter {
		return false, nil
	}

	var estimated *time.Time
	if manga.ReleaseInterval != nil {
		next := release.Add(*manga.ReleaseInterval)
		estimated = &next
	}

	updated, err := mangaRepo.SetLatestChapter(ctx, mangaID, chapterNumber, release, estimated)
	if err != nil {
		return false, err
	}
	return updated, nil
}

// UpdateEstimatedRelease recomputes the estimated release from the chapters
// table instead of the cached latest chapter.
func (e *Estimator) UpdateEstimatedRelease(ctx context.Context, q repository.Querier, mangaID int64) (*time.Time, error) {
	manga, err := repository.NewMangaRepository(q).GetByID(ctx, mangaID)
	if err != nil {
		return nil, err
	}
	if manga == nil || manga.ReleaseInterval == nil {
		return nil, nil
	}

	latest, err := repository.NewChapterRepository(q).LatestRelease(ctx, mangaID)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, nil
	}

	estimated := latest.ReleaseDate.Add(*manga.ReleaseInterval)
	if err := repository.NewMangaRepository(q).SetEstimatedRelease(ctx, mangaID, estimated); err != nil {
		return nil, err
	}
	return &estimated, nil
}

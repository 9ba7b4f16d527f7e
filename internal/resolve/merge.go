package resolve

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gabriel/chapter-tracker/internal/repository"
)

// MergeResult counts the rows a merge moved.
type MergeResult struct {
	ChaptersMoved   int64 `json:"chaptersMoved"`
	ServicesMoved   int64 `json:"servicesMoved"`
	AliasesMoved    int64 `json:"aliasesMoved"`
	AuthorsMoved    int64 `json:"authorsMoved"`
	ArtistsMoved    int64 `json:"artistsMoved"`
	MetadataDeleted bool  `json:"metadataDeleted"`
}

type Merger struct {
	logger *slog.Logger
}

func NewMerger(logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{logger: logger}
}

// Merge moves everything of toMerge onto base. With a service id only that
// source's presence and chapters move and toMerge itself is kept. Without
// one, aliases, author links and metadata follow, the title of toMerge
// becomes an alias of base and toMerge is deleted. Merging a manga that no
// longer exists is a no-op. q should be a transaction.
func (m *Merger) Merge(ctx context.Context, q repository.Querier, base int64, toMerge int64, serviceID *int64) (MergeResult, error) {
	var result MergeResult
	if base == toMerge {
		return result, fmt.Errorf("merge manga %d into itself", base)
	}

	mangaRepo := repository.NewMangaRepository(q)
	baseManga, err := mangaRepo.GetByID(ctx, base)
	if err != nil {
		return result, err
	}
	if baseManga == nil {
		return result, fmt.Errorf("base manga %d not found", base)
	}
	merged, err := mangaRepo.GetByID(ctx, toMerge)
	if err != nil {
		return result, err
	}
	if merged == nil {
		m.logger.Info("manga already merged", "base", base, "toMerge", toMerge)
		return result, nil
	}

	services, err := mangaRepo.ListServices(ctx, toMerge)
	if err != nil {
		return result, err
	}

	mergeRepo := repository.NewMergeRepository(q)
	for _, service := range services {
		if serviceID != nil && service.ServiceID != *serviceID {
			continue
		}
		chapters, err := mergeRepo.CountChapters(ctx, toMerge, service.ServiceID)
		if err != nil {
			return result, err
		}

		existing, err := mangaRepo.GetService(ctx, base, service.ServiceID)
		if err != nil {
			return result, err
		}
		if existing == nil {
			moved, err := mergeRepo.MoveService(ctx, toMerge, base, service.ServiceID)
			if err != nil {
				return result, err
			}
			result.ServicesMoved += moved
			result.ChaptersMoved += chapters
			continue
		}

		moved, err := mergeRepo.MoveChapters(ctx, toMerge, base, service.ServiceID)
		if err != nil {
			return result, err
		}
		result.ChaptersMoved += moved
		if _, err := mergeRepo.MoveScheduledRuns(ctx, toMerge, base, service.ServiceID); err != nil {
			return result, err
		}
		if err := mergeRepo.DeleteService(ctx, toMerge, service.ServiceID); err != nil {
			return result, err
		}
	}

	if serviceID != nil {
		m.logger.Info("merged manga service", "base", base, "toMerge", toMerge, "serviceId", *serviceID, "chapters", result.ChaptersMoved)
		return result, nil
	}

	if result.AliasesMoved, err = mergeRepo.MoveAliases(ctx, toMerge, base); err != nil {
		return result, err
	}
	if merged.Title != baseManga.Title {
		added, err := mergeRepo.AddAlias(ctx, base, merged.Title)
		if err != nil {
			return result, err
		}
		result.AliasesMoved += added
	}
	if result.AuthorsMoved, err = mergeRepo.MoveAuthorLinks(ctx, toMerge, base, false); err != nil {
		return result, err
	}
	if result.ArtistsMoved, err = mergeRepo.MoveAuthorLinks(ctx, toMerge, base, true); err != nil {
		return result, err
	}
	if result.MetadataDeleted, err = mergeRepo.MergeInfo(ctx, toMerge, base); err != nil {
		return result, err
	}
	if err := mergeRepo.DeleteManga(ctx, toMerge); err != nil {
		return result, err
	}

	m.logger.Info("merged manga",
		"base", base,
		"toMerge", toMerge,
		"chapters", result.ChaptersMoved,
		"aliases", result.AliasesMoved,
		"metadataDeleted", result.MetadataDeleted,
	)
	return result, nil
}

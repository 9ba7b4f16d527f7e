package notifications

import (
	"fmt"
	"strings"
	"time"
)

// Release summarises one scheduler wake.
type Release struct {
	RunID       string
	Finished    time.Time
	NewChapters int
	MangaIDs    []int64
	Failed      []string
}

// ReleaseMessage builds the message sent after a wake that stored new
// chapters. ok is false when there is nothing to announce.
func ReleaseMessage(release Release) (Message, bool) {
	if release.NewChapters == 0 || len(release.MangaIDs) == 0 {
		return Message{}, false
	}

	ids := make([]string, 0, len(release.MangaIDs))
	for _, id := range release.MangaIDs {
		ids = append(ids, fmt.Sprintf("%d", id))
	}

	body := fmt.Sprintf("%d new chapters for %d manga (%s)", release.NewChapters, len(release.MangaIDs), strings.Join(ids, ", "))
	if len(release.Failed) > 0 {
		body += "; failed sources: " + strings.Join(release.Failed, ", ")
	}

	return Message{
		Title: "New chapters released",
		Body:  body,
		Context: map[string]any{
			"runId":       release.RunID,
			"finishedAt":  release.Finished.UTC().Format(time.RFC3339),
			"newChapters": release.NewChapters,
			"mangaIds":    release.MangaIDs,
		},
	}, true
}

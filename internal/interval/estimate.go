package interval

import (
	"sort"
	"time"

	"github.com/gabriel/chapter-tracker/internal/models"
)

const (
	// Bucket absorbs jitter in publishing times. Gaps shorter than one bucket
	// are treated as double releases and ignored.
	Bucket = 4 * time.Hour

	// HistoryLimit is the number of distinct chapter numbers considered.
	HistoryLimit = 30

	// MaxNumberGap stops the history walk when numbering is not contiguous.
	MaxNumberGap = 2
)

// RoundSeconds rounds d to the nearest multiple of bucket. A remainder of
// exactly half a bucket rounds down.
func RoundSeconds(d time.Duration, bucket time.Duration) time.Duration {
	if bucket <= 0 {
		return d
	}
	remainder := d % bucket
	if remainder > bucket/2 {
		return d - remainder + bucket
	}
	return d - remainder
}

// Estimate returns the dominant gap between releases. history holds one
// point per chapter number ordered by number descending. A nil result means
// there is not enough data.
func Estimate(history []models.ReleasePoint) *time.Duration {
	points := contiguous(history)
	if len(points) < 2 {
		return nil
	}

	deltas := make([]time.Duration, 0, len(points)-1)
	for i := 1; i < len(points); i++ {
		delta := points[i-1].ReleaseDate.Sub(points[i].ReleaseDate)
		if delta < 0 {
			delta = -delta
		}
		delta = RoundSeconds(delta, Bucket)
		if delta < Bucket {
			continue
		}
		deltas = append(deltas, delta)
	}
	if len(deltas) == 0 {
		return nil
	}

	result := mode(deltas)
	return &result
}

func contiguous(history []models.ReleasePoint) []models.ReleasePoint {
	if len(history) > HistoryLimit {
		history = history[:HistoryLimit]
	}
	for i := 1; i < len(history); i++ {
		gap := history[i-1].ChapterNumber - history[i].ChapterNumber
		if gap < 0 {
			gap = -gap
		}
		if gap > MaxNumberGap {
			return history[:i]
		}
	}
	return history
}

// mode returns the most common value, or the median when several values
// share the highest count.
func mode(values []time.Duration) time.Duration {
	counts := make(map[time.Duration]int, len(values))
	best := 0
	for _, value := range values {
		counts[value]++
		if counts[value] > best {
			best = counts[value]
		}
	}

	var winner time.Duration
	winners := 0
	for value, count := range counts {
		if count == best {
			winner = value
			winners++
		}
	}
	if winners == 1 {
		return winner
	}
	return median(values)
}

func median(values []time.Duration) time.Duration {
	sorted := append([]time.Duration(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	middle := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[middle]
	}
	return (sorted[middle-1] + sorted[middle]) / 2
}

package interval

import (
	"testing"
	"time"

	"github.com/gabriel/chapter-tracker/internal/models"
)

var epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// history builds points newest first from offsets relative to epoch.
func history(numbers []int, offsets []time.Duration) []models.ReleasePoint {
	points := make([]models.ReleasePoint, 0, len(numbers))
	for i := len(numbers) - 1; i >= 0; i-- {
		points = append(points, models.ReleasePoint{ChapterNumber: numbers[i], ReleaseDate: epoch.Add(offsets[i])})
	}
	return points
}

func TestRoundSeconds(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want time.Duration
	}{
		{in: 0, want: 0},
		{in: time.Hour, want: 0},
		{in: 2 * time.Hour, want: 0},
		{in: 2*time.Hour + time.Second, want: 4 * time.Hour},
		{in: 171 * time.Hour, want: 172 * time.Hour},
		{in: 165 * time.Hour, want: 164 * time.Hour},
	}
	for _, tc := range cases {
		if got := RoundSeconds(tc.in, Bucket); got != tc.want {
			t.Fatalf("RoundSeconds(%s) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestEstimateWeeklyWithJitter(t *testing.T) {
	week := 7 * 24 * time.Hour
	numbers := []int{1, 2, 3, 4, 5, 6}
	offsets := []time.Duration{0, week, 2 * week, 3*week + 3*time.Hour, 4 * week, 5 * week}

	got := Estimate(history(numbers, offsets))
	if got == nil {
		t.Fatalf("expected an interval")
	}
	diff := *got - week
	if diff < 0 {
		diff = -diff
	}
	if diff > Bucket {
		t.Fatalf("expected about one week, got %s", got)
	}
	if *got != week {
		t.Fatalf("expected the mode to be exactly one week, got %s", got)
	}
}

func TestEstimateNotEnoughData(t *testing.T) {
	if got := Estimate(nil); got != nil {
		t.Fatalf("expected nil for empty history, got %s", got)
	}
	one := history([]int{1}, []time.Duration{0})
	if got := Estimate(one); got != nil {
		t.Fatalf("expected nil for one chapter, got %s", got)
	}
	sameDay := history([]int{1, 2, 3}, []time.Duration{0, time.Hour, 90 * time.Minute})
	if got := Estimate(sameDay); got != nil {
		t.Fatalf("expected nil when every gap is below one bucket, got %s", got)
	}
}

func TestEstimateStopsAtNumberGap(t *testing.T) {
	day := 24 * time.Hour
	// 20..22 are daily; 10 is far back in numbering and time.
	points := []models.ReleasePoint{
		{ChapterNumber: 22, ReleaseDate: epoch.Add(2 * day)},
		{ChapterNumber: 21, ReleaseDate: epoch.Add(day)},
		{ChapterNumber: 20, ReleaseDate: epoch},
		{ChapterNumber: 10, ReleaseDate: epoch.Add(-60 * day)},
	}
	got := Estimate(points)
	if got == nil || *got != day {
		t.Fatalf("expected one day, got %v", got)
	}
}

func TestEstimateTieFallsBackToMedian(t *testing.T) {
	day := 24 * time.Hour
	numbers := []int{1, 2, 3, 4, 5}
	offsets := []time.Duration{0, day, 3 * day, 6 * day, 10 * day}

	// gaps: 1d, 2d, 3d, 4d, all unique
	got := Estimate(history(numbers, offsets))
	want := 60 * time.Hour
	if got == nil || *got != want {
		t.Fatalf("expected median %s, got %v", want, got)
	}
}

func TestEstimateUsesAtMostHistoryLimit(t *testing.T) {
	day := 24 * time.Hour
	points := make([]models.ReleasePoint, 0, 40)
	// newest 30 chapters are daily, older ones weekly
	for n := 40; n >= 1; n-- {
		var offset time.Duration
		if n > 10 {
			offset = 10*7*day + time.Duration(n-10)*day
		} else {
			offset = time.Duration(n) * 7 * day
		}
		points = append(points, models.ReleasePoint{ChapterNumber: n, ReleaseDate: epoch.Add(offset)})
	}
	got := Estimate(points)
	if got == nil || *got != day {
		t.Fatalf("expected one day, got %v", got)
	}
}

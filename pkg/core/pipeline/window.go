package pipeline

import (
	"fmt"
	"time"
)

// Window is one inclusive date range submitted as a single bulk-export
// request.
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) String() string {
	return fmt.Sprintf("%s..%s", w.Start.Format("2006-01-02"), w.End.Format("2006-01-02"))
}

// Days is the number of calendar days the window covers, inclusive.
func (w Window) Days() int {
	return int(w.End.Sub(w.Start).Hours()/24) + 1
}

// Windows splits [start, end] into chunkDays-sized windows walking
// backward from end, newest first. Windows never overlap and never
// leave gaps; the earliest window is clipped at start and may be
// shorter than chunkDays.
func Windows(start, end time.Time, chunkDays int) ([]Window, error) {
	if chunkDays < 1 {
		return nil, fmt.Errorf("chunk size must be at least 1 day, got %d", chunkDays)
	}
	start = truncateDay(start)
	end = truncateDay(end)
	if end.Before(start) {
		return nil, fmt.Errorf("end %s is before start %s", end.Format("2006-01-02"), start.Format("2006-01-02"))
	}

	var windows []Window
	for cur := end; !cur.Before(start); {
		winStart := cur.AddDate(0, 0, -(chunkDays - 1))
		if winStart.Before(start) {
			winStart = start
		}
		windows = append(windows, Window{Start: winStart, End: cur})
		cur = winStart.AddDate(0, 0, -1)
	}
	return windows, nil
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

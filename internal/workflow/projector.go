package workflow

import (
	"time"

	"github.com/woodmarket/orderflow/internal/domain"
)

// TimelineEntry is one display row of an order's progress
type TimelineEntry struct {
	Step      domain.OrderStatus `json:"step"`
	Completed bool               `json:"completed"`
	Timestamp *time.Time         `json:"timestamp,omitempty"`
}

// Project merges recorded progress events with the predefined steps.
// A cancelled order shows exactly what happened, in recorded order. Otherwise every
// predefined step is listed in catalog order and marked completed by the first matching event.
func Project(events []domain.ProgressEvent, predefinedSteps []domain.OrderStatus, isCancelled bool) []TimelineEntry {
	if isCancelled {
		out := make([]TimelineEntry, 0, len(events))
		for _, e := range events {
			ts := e.CreatedTime
			out = append(out, TimelineEntry{Step: e.Status, Completed: true, Timestamp: &ts})
		}
		return out
	}

	first := make(map[domain.OrderStatus]time.Time, len(events))
	for _, e := range events {
		if _, seen := first[e.Status]; !seen {
			first[e.Status] = e.CreatedTime
		}
	}

	out := make([]TimelineEntry, 0, len(predefinedSteps))
	for _, step := range predefinedSteps {
		entry := TimelineEntry{Step: step}
		if ts, ok := first[step]; ok {
			entry.Completed = true
			entry.Timestamp = &ts
		}
		out = append(out, entry)
	}
	return out
}

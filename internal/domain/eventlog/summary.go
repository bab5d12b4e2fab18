package eventlog

import (
	"sort"
	"time"

	"github.com/tryouthub/learning-pipeline/internal/domain/shared"
)

// Failure describes the most recent failed execution.
type Failure struct {
	EventType    shared.EventType
	AggregateID  string
	Handler      string
	ErrorMessage string
	At           time.Time
}

// TypeCounters holds processed/failed counts of one event type.
type TypeCounters struct {
	EventType   shared.EventType
	Processed   int
	Failed      int
	LastFailure *Failure
}

// Summary aggregates a scan of recent entries.
type Summary struct {
	Scanned     int
	ByType      []TypeCounters
	LastFailure *Failure
}

// Summarize aggregates entries in memory. Entries are expected newest first,
// so the first failure seen is the most recent one.
func Summarize(entries []Entry) Summary {
	byType := make(map[shared.EventType]*TypeCounters)
	summary := Summary{Scanned: len(entries)}

	for _, e := range entries {
		c, ok := byType[e.EventType]
		if !ok {
			c = &TypeCounters{EventType: e.EventType}
			byType[e.EventType] = c
		}

		switch e.Status {
		case StatusFailed:
			c.Failed++
			f := &Failure{
				EventType:    e.EventType,
				AggregateID:  e.AggregateID,
				Handler:      e.Handler,
				ErrorMessage: e.ErrorMessage,
				At:           e.CreatedAt,
			}
			if c.LastFailure == nil || f.At.After(c.LastFailure.At) {
				c.LastFailure = f
			}
			if summary.LastFailure == nil || f.At.After(summary.LastFailure.At) {
				summary.LastFailure = f
			}
		default:
			c.Processed++
		}
	}

	summary.ByType = make([]TypeCounters, 0, len(byType))
	for _, c := range byType {
		summary.ByType = append(summary.ByType, *c)
	}
	sort.Slice(summary.ByType, func(i, j int) bool {
		return summary.ByType[i].EventType < summary.ByType[j].EventType
	})

	return summary
}

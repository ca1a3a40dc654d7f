// Package timing keeps running averages of how long units of work take so
// callers can estimate the remaining time of a batch.
package timing

import (
	"sync"
	"time"
)

const (
	StatDocument = "document"
	StatChunk    = "chunk"
)

type stat struct {
	amount   int64
	duration time.Duration
}

// Tracker accumulates processing time per stat type. It is safe for
// concurrent use; the zero value is ready.
type Tracker struct {
	mu    sync.Mutex
	stats map[string]stat
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// AddProcessingTime records that amount units of statType took d.
func (t *Tracker) AddProcessingTime(statType string, amount int64, d time.Duration) {
	if amount <= 0 || d < 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stats == nil {
		t.stats = make(map[string]stat)
	}
	s := t.stats[statType]
	s.amount += amount
	s.duration += d
	t.stats[statType] = s
}

// PredictProcessingTime estimates how long amount units of statType take
// from the average so far. ok is false without samples.
func (t *Tracker) PredictProcessingTime(statType string, amount int64) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, found := t.stats[statType]
	if !found || s.amount == 0 {
		return 0, false
	}
	return time.Duration(int64(s.duration) / s.amount * amount), true
}

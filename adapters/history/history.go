// Package history records completed resizes.
//
// Memory keeps entries in process; Journal appends them to a file as
// independent zstd frames. List stops at a torn frame and returns the
// entries before it, so a crash mid-write loses only the entry being written.
package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Skryldev/sizefit/core"
	apperrors "github.com/Skryldev/sizefit/errors"
)

// DefaultLimit is used by List when limit <= 0.
const DefaultLimit = 20

// Memory is an in-process HistoryStore.
type Memory struct {
	mu      sync.RWMutex
	entries []core.HistoryEntry
	now     func() time.Time
}

// NewMemory returns an empty store.
func NewMemory() *Memory { return &Memory{now: time.Now} }

func (m *Memory) Add(ctx context.Context, e core.HistoryEntry) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", apperrors.Wrap(apperrors.CategoryStorage, "history.add", err)
	}
	e = stamp(e, m.now)
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
	return e.ID, nil
}

func (m *Memory) List(ctx context.Context, limit int) ([]core.HistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "history.list", err)
	}
	m.mu.RLock()
	out := make([]core.HistoryEntry, len(m.entries))
	copy(out, m.entries)
	m.mu.RUnlock()
	return newest(out, limit), nil
}

// stamp fills the ID and timestamp when the caller left them empty.
func stamp(e core.HistoryEntry, now func() time.Time) core.HistoryEntry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now().UTC()
	}
	return e
}

// newest sorts entries newest first and trims them to limit.
func newest(entries []core.HistoryEntry, limit int) []core.HistoryEntry {
	if limit <= 0 {
		limit = DefaultLimit
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

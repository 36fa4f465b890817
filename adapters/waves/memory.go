package waves

import (
	"context"
	"fmt"
	"sync"

	"minwage/domain/survey"
	"minwage/internal/errors"
)

// MemoryLoader serves waves held in memory, for tests and synthetic runs
type MemoryLoader struct {
	mu    sync.RWMutex
	order []survey.WaveID
	waves map[string]*survey.RawWave
}

// NewMemoryLoader creates a loader over the given waves, kept in order
func NewMemoryLoader(ws ...*survey.RawWave) *MemoryLoader {
	l := &MemoryLoader{waves: make(map[string]*survey.RawWave)}
	for _, w := range ws {
		l.Add(w)
	}
	return l
}

// Add registers or replaces a wave
func (l *MemoryLoader) Add(w *survey.RawWave) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := w.ID.String()
	if _, ok := l.waves[key]; !ok {
		l.order = append(l.order, w.ID)
	}
	l.waves[key] = w
}

// Waves lists waves in insertion order
func (l *MemoryLoader) Waves(ctx context.Context) ([]survey.WaveID, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]survey.WaveID(nil), l.order...), nil
}

// Load returns the stored wave
func (l *MemoryLoader) Load(ctx context.Context, id survey.WaveID) (*survey.RawWave, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	w, ok := l.waves[id.String()]
	if !ok {
		return nil, errors.WaveLoadError(id.String(), fmt.Errorf("wave not loaded"))
	}
	return w, nil
}

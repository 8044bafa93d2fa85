package store

import (
	"sync"
	"time"

	"github.com/threadctl/threadctl/internal/history"
)

// memoryStore is the "memory" backend: a Store-shaped wrapper over plain
// slices/maps, used when a caller explicitly wants the Store interface
// (e.g. to introspect operation profiles) without opening a real database.
// It is distinct from history.Store's own built-in in-memory fallback,
// which activates automatically when no Store is configured at all.
type memoryStore struct {
	mu        sync.Mutex
	scaling   []history.ScalingDecision
	usage     []UsageRow
	profiles  map[string]*OperationProfile
}

func newMemoryStore() *memoryStore {
	return &memoryStore{profiles: make(map[string]*OperationProfile)}
}

func (s *memoryStore) PersistScaling(d history.ScalingDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scaling = append(s.scaling, d)
	return nil
}

func (s *memoryStore) PersistUsage(row UsageRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = append(s.usage, row)
	return nil
}

func (s *memoryStore) UpsertOperationProfile(opType string, cpu, gpu, mem, temp, duration float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[opType]
	if !ok {
		p = &OperationProfile{OperationType: opType}
		s.profiles[opType] = p
	}
	n := float64(p.Count)
	p.CPUAvg = runningAvg(p.CPUAvg, n, cpu)
	p.GPUAvg = runningAvg(p.GPUAvg, n, gpu)
	p.MemoryAvg = runningAvg(p.MemoryAvg, n, mem)
	p.TemperatureAvg = runningAvg(p.TemperatureAvg, n, temp)
	p.DurationAvg = runningAvg(p.DurationAvg, n, duration)
	p.Count++
	p.LastUpdated = time.Now()
	return nil
}

func runningAvg(prevAvg, prevCount, sample float64) float64 {
	return (prevAvg*prevCount + sample) / (prevCount + 1)
}

func (s *memoryStore) PruneOlderThan(cutoff time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scaling = pruneScaling(s.scaling, cutoff)
	s.usage = pruneUsage(s.usage, cutoff)
	return nil
}

func pruneScaling(in []history.ScalingDecision, cutoff time.Time) []history.ScalingDecision {
	out := in[:0]
	for _, d := range in {
		if d.Timestamp.After(cutoff) {
			out = append(out, d)
		}
	}
	return out
}

func pruneUsage(in []UsageRow, cutoff time.Time) []UsageRow {
	out := in[:0]
	for _, u := range in {
		if u.Timestamp.After(cutoff) {
			out = append(out, u)
		}
	}
	return out
}

func (s *memoryStore) Close() error { return nil }

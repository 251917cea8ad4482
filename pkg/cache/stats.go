package cache

import (
	"sync/atomic"
)

// Statistics tracks cache activity. All methods are safe for concurrent use.
type Statistics struct {
	hits        atomic.Int64
	misses      atomic.Int64
	sets        atomic.Int64
	deletes     atomic.Int64
	evictions   atomic.Int64
	currentSize atomic.Int64
	maxSize     atomic.Int64
}

// NewStatistics creates a zeroed statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{}
}

func (s *Statistics) hit()      { s.hits.Add(1) }
func (s *Statistics) miss()     { s.misses.Add(1) }
func (s *Statistics) set()      { s.sets.Add(1) }
func (s *Statistics) delete()   { s.deletes.Add(1) }
func (s *Statistics) eviction() { s.evictions.Add(1) }

func (s *Statistics) updateSize(size int64) {
	s.currentSize.Store(size)
	for {
		peak := s.maxSize.Load()
		if size <= peak || s.maxSize.CompareAndSwap(peak, size) {
			return
		}
	}
}

// Hits returns the number of cache hits.
func (s *Statistics) Hits() int64 { return s.hits.Load() }

// Misses returns the number of cache misses.
func (s *Statistics) Misses() int64 { return s.misses.Load() }

// Sets returns the number of set operations.
func (s *Statistics) Sets() int64 { return s.sets.Load() }

// Deletes returns the number of delete operations.
func (s *Statistics) Deletes() int64 { return s.deletes.Load() }

// Evictions returns the number of capacity evictions.
func (s *Statistics) Evictions() int64 { return s.evictions.Load() }

// CurrentSize returns the current number of entries.
func (s *Statistics) CurrentSize() int64 { return s.currentSize.Load() }

// MaxSize returns the peak number of entries observed.
func (s *Statistics) MaxSize() int64 { return s.maxSize.Load() }

// HitRatio returns hits over total lookups, 0 when there were none.
func (s *Statistics) HitRatio() float64 {
	hits := s.Hits()
	total := hits + s.Misses()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// StatsSummary is a point-in-time copy of the statistics.
type StatsSummary struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Sets        int64   `json:"sets"`
	Deletes     int64   `json:"deletes"`
	Evictions   int64   `json:"evictions"`
	CurrentSize int64   `json:"current_size"`
	MaxSize     int64   `json:"max_size"`
	HitRatio    float64 `json:"hit_ratio"`
}

// Summary returns a snapshot of all statistics.
func (s *Statistics) Summary() StatsSummary {
	return StatsSummary{
		Hits:        s.Hits(),
		Misses:      s.Misses(),
		Sets:        s.Sets(),
		Deletes:     s.Deletes(),
		Evictions:   s.Evictions(),
		CurrentSize: s.CurrentSize(),
		MaxSize:     s.MaxSize(),
		HitRatio:    s.HitRatio(),
	}
}

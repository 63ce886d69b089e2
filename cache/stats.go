package cache

import "sync/atomic"

// Stats is a point-in-time snapshot of the manager's counters. HitRate is
// derived on read: hits / (hits + misses), or 0 before any lookup.
type Stats struct {
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	Sets          int64   `json:"sets"`
	Deletes       int64   `json:"deletes"`
	Invalidations int64   `json:"invalidations"`
	HitRate       float64 `json:"hitRate"`
}

// counters holds process-lifetime statistics. Hit and miss recording happens
// on every lookup from potentially many goroutines, so all fields are atomic.
type counters struct {
	enabled       bool
	hits          atomic.Int64
	misses        atomic.Int64
	sets          atomic.Int64
	deletes       atomic.Int64
	invalidations atomic.Int64
}

func (c *counters) hit() {
	if c.enabled {
		c.hits.Add(1)
	}
}

func (c *counters) miss() {
	if c.enabled {
		c.misses.Add(1)
	}
}

func (c *counters) set() {
	if c.enabled {
		c.sets.Add(1)
	}
}

func (c *counters) deleted(n int) {
	if c.enabled && n > 0 {
		c.deletes.Add(int64(n))
	}
}

func (c *counters) invalidated(n int) {
	if c.enabled && n > 0 {
		c.invalidations.Add(int64(n))
	}
}

func (c *counters) snapshot() Stats {
	s := Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Sets:          c.sets.Load(),
		Deletes:       c.deletes.Load(),
		Invalidations: c.invalidations.Load(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

func (c *counters) reset() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.sets.Store(0)
	c.deletes.Store(0)
	c.invalidations.Store(0)
}

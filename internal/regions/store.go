package regions

import (
	"sync"

	"github.com/google/uuid"

	"gridmap/internal/grid"
)

// Access is the maturity rating a grid reports for a region
type Access uint8

const (
	AccessUnknown     Access = 0
	AccessTrial       Access = 7
	AccessPG          Access = 13
	AccessMature      Access = 21
	AccessAdult       Access = 42
	AccessDown        Access = 254
	AccessNonExistent Access = 255
)

func (a Access) String() string {
	switch a {
	case AccessTrial:
		return "trial"
	case AccessPG:
		return "pg"
	case AccessMature:
		return "mature"
	case AccessAdult:
		return "adult"
	case AccessDown:
		return "down"
	case AccessNonExistent:
		return "nonexistent"
	default:
		return "unknown"
	}
}

// Region is the metadata the grid reports for one region
type Region struct {
	Handle  grid.RegionHandle `json:"handle"`
	Name    string            `json:"name"`
	ImageID uuid.UUID         `json:"imageId"`
	Access  Access            `json:"access"`
}

// HasMapImage reports whether the region exists and has a map image to fetch
func (r Region) HasMapImage() bool {
	return r.Access != AccessNonExistent && r.ImageID != uuid.Nil
}

// Store holds region metadata as it arrives from the grid. A handle missing
// from the store means its metadata is not known yet.
type Store struct {
	mu      sync.RWMutex
	regions map[grid.RegionHandle]Region

	subMu       sync.RWMutex
	subscribers []func(Region)
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		regions: make(map[grid.RegionHandle]Region),
	}
}

// Put records r, replacing any earlier metadata for its handle, and notifies
// subscribers with no lock held
func (s *Store) Put(r Region) {
	s.mu.Lock()
	s.regions[r.Handle] = r
	s.mu.Unlock()

	s.subMu.RLock()
	subscribers := make([]func(Region), len(s.subscribers))
	copy(subscribers, s.subscribers)
	s.subMu.RUnlock()

	for _, fn := range subscribers {
		fn(r)
	}
}

// Lookup returns the metadata for h
func (s *Store) Lookup(h grid.RegionHandle) (Region, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.regions[h]
	return r, ok
}

// Name returns the region name for h, or "" while unknown
func (s *Store) Name(h grid.RegionHandle) string {
	r, _ := s.Lookup(h)
	return r.Name
}

// Len returns the number of known regions
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.regions)
}

// Subscribe registers fn to be called for every Put
func (s *Store) Subscribe(fn func(Region)) {
	s.subMu.Lock()
	s.subscribers = append(s.subscribers, fn)
	s.subMu.Unlock()
}

// Package meter holds the latest Hydrolink dataset and derives the
// per-meter views exposed to the host application.
package meter

import (
	"slices"
	"sync"

	"github.com/tejusbharadwaj/hydrolink/internal/api"
	"github.com/tejusbharadwaj/hydrolink/internal/models"
)

// snapshot is immutable once published.
type snapshot struct {
	dataset *models.RawDataset
	index   map[string]int
}

// Store holds exactly one dataset generation at a time. Replace swaps the
// whole dataset, so readers never see meters from two different fetches.
type Store struct {
	mu         sync.RWMutex
	current    *snapshot
	generation uint64
}

func NewStore() *Store {
	return &Store{}
}

// Replace publishes dataset as the new generation and returns that
// generation. The store takes ownership of dataset.
func (s *Store) Replace(dataset *models.RawDataset) uint64 {
	index := make(map[string]int, len(dataset.Meters))
	for i, meter := range dataset.Meters {
		index[meter.SecondaryAddress] = i
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	dataset.Generation = s.generation
	s.current = &snapshot{dataset: dataset, index: index}
	return s.generation
}

// Generation returns the generation currently held, 0 before the first Replace.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Dataset returns a copy of the current dataset, or nil if nothing was stored yet.
func (s *Store) Dataset() *models.RawDataset {
	snap := s.snapshot()
	if snap == nil {
		return nil
	}
	meters := make([]models.DeviceRecord, len(snap.dataset.Meters))
	for i, meter := range snap.dataset.Meters {
		meters[i] = cloneRecord(meter)
	}
	return &models.RawDataset{
		Meters:     meters,
		Generation: snap.dataset.Generation,
		FetchedAt:  snap.dataset.FetchedAt,
	}
}

// Devices returns the records of the current dataset in API order.
func (s *Store) Devices() []models.DeviceRecord {
	dataset := s.Dataset()
	if dataset == nil {
		return nil
	}
	return dataset.Meters
}

// Lookup finds a meter by its secondary address in the current dataset.
func (s *Store) Lookup(deviceID string) (models.DeviceRecord, uint64, error) {
	snap := s.snapshot()
	if snap == nil {
		return models.DeviceRecord{}, 0, &api.NotFoundError{DeviceID: deviceID}
	}
	i, ok := snap.index[deviceID]
	if !ok {
		return models.DeviceRecord{}, snap.dataset.Generation, &api.NotFoundError{DeviceID: deviceID}
	}
	return cloneRecord(snap.dataset.Meters[i]), snap.dataset.Generation, nil
}

func (s *Store) snapshot() *snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func cloneRecord(r models.DeviceRecord) models.DeviceRecord {
	r.DailyReadings = slices.Clone(r.DailyReadings)
	return r
}

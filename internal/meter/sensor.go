package meter

import (
	"slices"
	"sync"

	"github.com/tejusbharadwaj/hydrolink/internal/models"
)

// RecordSource is the shared per-account dataset a Sensor reads from.
type RecordSource interface {
	Lookup(deviceID string) (models.DeviceRecord, uint64, error)
}

// Sensor is the live view of one meter.
//
// When its meter disappears from the latest dataset the Sensor keeps the
// last view it derived and is marked stale, rather than being removed.
type Sensor struct {
	source RecordSource
	id     string

	mu         sync.RWMutex
	view       models.DeviceView
	generation uint64
	stale      bool
}

func NewSensor(source RecordSource, record models.DeviceRecord) *Sensor {
	return &Sensor{
		source: source,
		id:     record.SecondaryAddress,
		view:   Project(record),
	}
}

func (s *Sensor) ID() string {
	return s.id
}

// View returns a copy of the current view.
func (s *Sensor) View() models.DeviceView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	view := s.view
	view.RecentHistory = slices.Clone(s.view.RecentHistory)
	return view
}

// Stale reports whether the meter was missing from the last dataset checked.
func (s *Sensor) Stale() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stale
}

// Generation returns the dataset generation the view was last derived from.
func (s *Sensor) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Refresh re-derives the view from record. A nil record leaves the view
// unchanged and marks the sensor stale.
func (s *Sensor) Refresh(record *models.DeviceRecord, generation uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record == nil {
		s.stale = true
		return
	}
	s.view = Project(*record)
	s.generation = generation
	s.stale = false
}

// Update re-reads the meter from the shared dataset without a network call.
// A missing meter yields the source's not-found error and a stale sensor.
func (s *Sensor) Update() error {
	record, generation, err := s.source.Lookup(s.id)
	if err != nil {
		s.Refresh(nil, generation)
		return err
	}
	s.Refresh(&record, generation)
	return nil
}

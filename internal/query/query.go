// Package query exposes read-only projections over the latest snapshot for
// feed and history presentation. It holds nothing but the last published
// snapshot; every view is recomputed on demand.
package query

import (
	"math"
	"sort"
	"sync"

	"github.com/example/ride-ledger/internal/bus"
	"github.com/example/ride-ledger/internal/models"
)

// Source is the subscription slice of the ledger adapter.
type Source interface {
	Subscribe(fn bus.Observer) (unsubscribe func())
}

type Service struct {
	mu   sync.RWMutex
	snap models.Snapshot
}

// New subscribes to src so the service always projects the latest snapshot.
func New(src Source) (*Service, func()) {
	s := &Service{}
	unsubscribe := src.Subscribe(func(snap models.Snapshot) {
		s.mu.Lock()
		s.snap = snap
		s.mu.Unlock()
	})
	return s, unsubscribe
}

// OpenFeed returns Created records newest-first: the candidate pool a
// provider picks from.
func (s *Service) OpenFeed() []models.RideRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.RideRecord
	for _, r := range s.snap {
		if r.Status == models.StatusCreated {
			out = append(out, r)
		}
	}
	return out
}

// OpenFeedNear returns the open feed ordered by pickup distance to the
// given point, closest first.
func (s *Service) OpenFeedNear(lat, lon float64) []models.RideRecord {
	out := s.OpenFeed()
	sort.SliceStable(out, func(i, j int) bool {
		return haversine(lat, lon, out[i].Pickup.Lat, out[i].Pickup.Lon) <
			haversine(lat, lon, out[j].Pickup.Lat, out[j].Pickup.Lon)
	})
	return out
}

// HistoryFor returns every record involving identity, id-descending.
func (s *Service) HistoryFor(identity string) []models.RideRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.RideRecord
	for _, r := range s.snap {
		if r.Involves(identity) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

// haversine distance in meters.
func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180.0 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return R * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

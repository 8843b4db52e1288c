// Package engine reconciles the full record set into the single active
// record and client-visible phase for one identity. Derivation is a pure
// function of the snapshot, recomputed from scratch every time: a dropped
// notification heals on the next full list, with no incremental phase state
// to get stale.
package engine

import "github.com/example/ride-ledger/internal/models"

// Phase is the client-visible lifecycle label.
type Phase string

const (
	PhaseIdle               Phase = "idle"
	PhaseWaitingForProvider Phase = "waiting_for_provider"
	PhaseProviderEnRoute    Phase = "provider_en_route"
	PhaseInTrip             Phase = "in_trip"
	PhaseRating             Phase = "rating"
	PhaseHistory            Phase = "history"
)

// ActiveRecord returns the highest-id non-terminal record involving
// identity. Ids are unique and monotonic, so highest id means most recently
// created; snapshots are newest-first, so the first hit wins.
func ActiveRecord(snap models.Snapshot, identity string) (models.RideRecord, bool) {
	for _, r := range snap {
		if r.Involves(identity) && !r.Status.Terminal() {
			return r, true
		}
	}
	return models.RideRecord{}, false
}

// UnratedCompleted returns the highest-id completed-but-unrated record
// involving identity. Only consulted when no active record exists.
func UnratedCompleted(snap models.Snapshot, identity string) (models.RideRecord, bool) {
	for _, r := range snap {
		if r.Involves(identity) && r.Status == models.StatusCompleted && !r.IsRated {
			return r, true
		}
	}
	return models.RideRecord{}, false
}

// Derive computes the phase and its subject record for identity in role.
//
//	Created   requester -> WaitingForProvider (providers see it in the feed only)
//	Accepted  both      -> ProviderEnRoute
//	Ongoing   both      -> InTrip
//	Completed unrated   -> Rating (requester only, when nothing is active)
//	otherwise           -> Idle
func Derive(snap models.Snapshot, identity string, role models.Role) (Phase, models.RideRecord, bool) {
	if active, ok := ActiveRecord(snap, identity); ok {
		switch active.Status {
		case models.StatusCreated:
			if role == models.RoleRequester {
				return PhaseWaitingForProvider, active, true
			}
			// A Created record never names a provider, so this arm is only
			// reachable for the requester browsing as provider; treat as idle.
			return PhaseIdle, models.RideRecord{}, false
		case models.StatusAccepted:
			return PhaseProviderEnRoute, active, true
		case models.StatusOngoing:
			return PhaseInTrip, active, true
		}
	}
	if role == models.RoleRequester {
		if unrated, ok := UnratedCompleted(snap, identity); ok {
			return PhaseRating, unrated, true
		}
	}
	return PhaseIdle, models.RideRecord{}, false
}

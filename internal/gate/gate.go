// Package gate validates mutation intents against the legal status graph
// before any ledger backend applies them. It is pure: both the in-memory and
// the postgres ledgers run the same checks against a copy of the current row.
package gate

import (
	"errors"
	"fmt"

	"github.com/example/ride-ledger/internal/models"
)

var (
	// ErrAlreadyTaken is returned for an accept that lost the race: the
	// record is no longer Created because another provider got there first.
	ErrAlreadyTaken = errors.New("ride already taken")

	// ErrAlreadyRated is returned for a second rate attempt on a record.
	ErrAlreadyRated = errors.New("ride already rated")
)

// TransitionError reports an edge that is not in the status graph, naming
// the attempted action and the record's actual status.
type TransitionError struct {
	Action models.Action
	Status models.Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s not allowed while %s", e.Action, e.Status)
}

// IsInvalidTransition reports whether err is a gate-level edge rejection.
func IsInvalidTransition(err error) bool {
	var te *TransitionError
	return errors.As(err, &te)
}

// edges maps each action to the statuses it may be applied from.
var edges = map[models.Action][]models.Status{
	models.ActionAccept:   {models.StatusCreated},
	models.ActionStart:    {models.StatusAccepted},
	models.ActionComplete: {models.StatusOngoing},
	models.ActionCancel:   {models.StatusCreated, models.StatusAccepted},
	models.ActionRate:     {models.StatusCompleted},
}

// Validate checks that intent is a legal transition for rec given the
// actor's relationship to the record. It does not mutate anything.
func Validate(rec models.RideRecord, intent models.MutationIntent) error {
	allowed, ok := edges[intent.Action]
	if !ok {
		return &TransitionError{Action: intent.Action, Status: rec.Status}
	}
	legal := false
	for _, s := range allowed {
		if rec.Status == s {
			legal = true
			break
		}
	}
	if !legal {
		// A lost accept race surfaces as "taken", not as a graph violation,
		// so callers can show "offer no longer available".
		if intent.Action == models.ActionAccept && rec.Status == models.StatusAccepted {
			return ErrAlreadyTaken
		}
		return &TransitionError{Action: intent.Action, Status: rec.Status}
	}

	switch intent.Action {
	case models.ActionAccept:
		if intent.Actor == "" || intent.Actor == rec.RequesterID {
			return &TransitionError{Action: intent.Action, Status: rec.Status}
		}
	case models.ActionStart:
		if intent.Actor != rec.ProviderID {
			return &TransitionError{Action: intent.Action, Status: rec.Status}
		}
	case models.ActionComplete:
		if intent.Actor != rec.RequesterID {
			return &TransitionError{Action: intent.Action, Status: rec.Status}
		}
	case models.ActionCancel:
		// From Created only the requester may cancel; from Accepted either
		// party may.
		if rec.Status == models.StatusCreated && intent.Actor != rec.RequesterID {
			return &TransitionError{Action: intent.Action, Status: rec.Status}
		}
		if rec.Status == models.StatusAccepted && intent.Actor != rec.RequesterID && intent.Actor != rec.ProviderID {
			return &TransitionError{Action: intent.Action, Status: rec.Status}
		}
	case models.ActionRate:
		if intent.Actor != rec.RequesterID {
			return &TransitionError{Action: intent.Action, Status: rec.Status}
		}
		if rec.IsRated {
			return ErrAlreadyRated
		}
		if intent.Rating < 1 || intent.Rating > 5 {
			return fmt.Errorf("rating must be 1..5, got %d", intent.Rating)
		}
	}
	return nil
}

// Apply validates intent against rec and, if legal, mutates rec in place:
// status moves along the graph, ProviderID is stamped exactly once on
// accept, and the rating pair is set exactly once on rate.
func Apply(rec *models.RideRecord, intent models.MutationIntent) error {
	if rec == nil {
		return errors.New("record is nil")
	}
	if err := Validate(*rec, intent); err != nil {
		return err
	}
	switch intent.Action {
	case models.ActionAccept:
		rec.Status = models.StatusAccepted
		rec.ProviderID = intent.Actor
	case models.ActionStart:
		rec.Status = models.StatusOngoing
	case models.ActionComplete:
		rec.Status = models.StatusCompleted
	case models.ActionCancel:
		rec.Status = models.StatusCancelled
	case models.ActionRate:
		rec.IsRated = true
		rec.Rating = intent.Rating
	}
	return nil
}

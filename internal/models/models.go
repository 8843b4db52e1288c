package models

import "time"

// Status is the ledger-side lifecycle of a ride record.
// Created -> Accepted -> Ongoing -> Completed, with Cancelled reachable
// from Created and Accepted only. Completed and Cancelled are terminal.
type Status string

const (
	StatusCreated   Status = "created"
	StatusAccepted  Status = "accepted"
	StatusOngoing   Status = "ongoing"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further status transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Action names one of the mutating ledger calls.
type Action string

const (
	ActionCreate   Action = "create"
	ActionAccept   Action = "accept"
	ActionStart    Action = "start"
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"
	ActionRate     Action = "rate"
)

// Role is the side of the transaction the local identity plays.
type Role string

const (
	RoleRequester Role = "requester"
	RoleProvider  Role = "provider"
)

// Location is a named pickup or dropoff point.
type Location struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

// RideRecord is one row of the authoritative record table. Identity fields
// are immutable after creation; only Status, ProviderID (once, on accept)
// and the rating pair ever change.
type RideRecord struct {
	ID          int64     `json:"id"`
	RequesterID string    `json:"requester_id"`
	ProviderID  string    `json:"provider_id,omitempty"` // empty until accepted
	Pickup      Location  `json:"pickup"`
	Dropoff     Location  `json:"dropoff"`
	Amount      float64   `json:"amount"` // escrowed from creation until terminal
	Status      Status    `json:"status"`
	IsRated     bool      `json:"is_rated"`
	Rating      int       `json:"rating,omitempty"` // 1..5, set at most once
	CreatedAt   time.Time `json:"created_at"`
}

// Involves reports whether identity appears on either side of the record.
func (r RideRecord) Involves(identity string) bool {
	return r.RequesterID == identity || (r.ProviderID != "" && r.ProviderID == identity)
}

// MutationIntent is one requested state transition, validated by the gate
// before the ledger applies it. Pickup, Dropoff and Amount are read only for
// create; Rating only for rate.
type MutationIntent struct {
	Action   Action   `json:"action"`
	RecordID int64    `json:"record_id"`
	Actor    string   `json:"actor"`
	Pickup   Location `json:"pickup,omitempty"`
	Dropoff  Location `json:"dropoff,omitempty"`
	Amount   float64  `json:"amount,omitempty"`
	Rating   int      `json:"rating,omitempty"`
}

// Snapshot is a copy of the full record set at one point in time,
// newest-first by id.
type Snapshot []RideRecord

// Clone copies the snapshot so observers can never reach the authoritative
// table through it. RideRecord holds no reference types, so a slice copy is
// a deep copy.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	out := make(Snapshot, len(s))
	copy(out, s)
	return out
}

package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DeviceState is a lifecycle state in the custody chain.
type DeviceState string

const (
	StateActive              DeviceState = "ACTIVE"
	StateRecyclingRequested  DeviceState = "RECYCLING_REQUESTED"
	StateCollectorAssigned   DeviceState = "COLLECTOR_ASSIGNED"
	StateCollected           DeviceState = "COLLECTED"
	StatePickupFailed        DeviceState = "PICKUP_FAILED"
	StateDeliveredToRecycler DeviceState = "DELIVERED_TO_RECYCLER"
	StateRecycled            DeviceState = "RECYCLED"
)

// Known reports whether s is a member of the closed state set.
func (s DeviceState) Known() bool {
	switch s {
	case StateActive, StateRecyclingRequested, StateCollectorAssigned,
		StateCollected, StatePickupFailed, StateDeliveredToRecycler, StateRecycled:
		return true
	}
	return false
}

// Terminal reports whether s permits no further transitions.
func (s DeviceState) Terminal() bool {
	return s == StateRecycled
}

// CustodySensitive reports whether entering s represents a physical
// handover and therefore requires DUC verification.
func (s DeviceState) CustodySensitive() bool {
	return s == StateCollected || s == StateDeliveredToRecycler
}

// IssuesHandoverCode reports whether entering s starts a new handover
// cycle with a fresh code.
func (s DeviceState) IssuesHandoverCode() bool {
	return s == StateRecyclingRequested
}

// Role identifies an actor class in the custody chain.
type Role string

const (
	RoleOwner     Role = "owner"
	RoleCollector Role = "collector"
	RoleRecycler  Role = "recycler"
	RoleRegulator Role = "regulator"
)

// Known reports whether r is a member of the closed role set.
func (r Role) Known() bool {
	switch r {
	case RoleOwner, RoleCollector, RoleRecycler, RoleRegulator:
		return true
	}
	return false
}

// ActingUser is the authenticated identity supplied by the auth
// collaborator. The lifecycle engine trusts the identity but
// re-validates the role against the transition policy.
type ActingUser struct {
	ID   uuid.UUID `json:"id"`
	Role Role      `json:"role"`
}

// DeviceCategory distinguishes regulated e-waste from legacy equipment.
// Informational only; reporting collaborators aggregate over it.
type DeviceCategory string

const (
	CategoryRegulated DeviceCategory = "regulated"
	CategoryLegacy    DeviceCategory = "legacy"
)

// Device is a tracked physical device. Rows are never deleted; all
// mutation goes through the lifecycle engine.
type Device struct {
	ID             uuid.UUID      `json:"id" db:"id"`
	OwnerID        uuid.UUID      `json:"owner_id" db:"owner_id"`
	Name           string         `json:"name" db:"name"`
	Category       DeviceCategory `json:"category" db:"category"`
	State          DeviceState    `json:"state" db:"state"`
	CodeHash       *string        `json:"-" db:"code_hash"`
	CodePlain      *string        `json:"-" db:"code_plain"`
	FailedAttempts int            `json:"-" db:"failed_attempts"`
	Terminal       bool           `json:"terminal" db:"terminal"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
}

// EventKind categorizes lifecycle events.
type EventKind string

const (
	EventRegistration EventKind = "registration"
	EventTransition   EventKind = "transition"
	EventCodeIssued   EventKind = "code_issued"
	EventRewardIssued EventKind = "reward_issued"
)

// LifecycleEvent is one immutable entry in the device audit trail.
// PriorState is nil only for the registration event.
type LifecycleEvent struct {
	ID         uuid.UUID    `json:"id" db:"id"`
	DeviceID   uuid.UUID    `json:"device_id" db:"device_id"`
	PriorState *DeviceState `json:"prior_state" db:"prior_state"`
	NewState   DeviceState  `json:"new_state" db:"new_state"`
	ActorID    uuid.UUID    `json:"actor_id" db:"actor_id"`
	ActorRole  Role         `json:"actor_role" db:"actor_role"`
	Kind       EventKind    `json:"kind" db:"kind"`
	Metadata   Metadata     `json:"metadata" db:"metadata"`
	CreatedAt  time.Time    `json:"created_at" db:"created_at"`
}

// Reward is the incentive granted to a device owner when the device
// arrives at the recycling facility. At most one row per device, ever;
// the unique constraint on DeviceID is what makes issuance exactly-once.
type Reward struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	DeviceID  uuid.UUID       `json:"device_id" db:"device_id"`
	OwnerID   uuid.UUID       `json:"owner_id" db:"owner_id"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Metadata holds arbitrary key-value metadata stored as JSONB.
type Metadata map[string]interface{}

func (m Metadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

func (m *Metadata) Scan(value interface{}) error {
	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(b, &m)
}

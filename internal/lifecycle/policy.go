// Package lifecycle implements the device custody state machine.
package lifecycle

import (
	"ecycle/internal/domain"
	"ecycle/pkg/errors"
)

// transition is a single allowed edge in the custody state machine.
// Role is the one actor class permitted to move a device along it.
type transition struct {
	From domain.DeviceState
	To   domain.DeviceState
	Role domain.Role
}

// transitionTable is the full, fixed custody policy. Each from-state is
// owned by exactly one role; RECYCLED has no outgoing edges.
var transitionTable = []transition{
	{From: domain.StateActive, To: domain.StateRecyclingRequested, Role: domain.RoleOwner},
	{From: domain.StateRecyclingRequested, To: domain.StateCollectorAssigned, Role: domain.RoleRecycler},
	{From: domain.StateCollectorAssigned, To: domain.StateCollected, Role: domain.RoleCollector},
	{From: domain.StateCollectorAssigned, To: domain.StatePickupFailed, Role: domain.RoleCollector},

	// Recovery loop: a failed pickup returns the device to the request
	// queue and a fresh handover cycle.
	{From: domain.StatePickupFailed, To: domain.StateRecyclingRequested, Role: domain.RoleOwner},

	{From: domain.StateCollected, To: domain.StateDeliveredToRecycler, Role: domain.RoleRecycler},
	{From: domain.StateDeliveredToRecycler, To: domain.StateRecycled, Role: domain.RoleRecycler},
}

// Check validates a single-step transition request against the policy.
// It is pure and side-effect free. Rejections are typed so callers can
// map them to distinct HTTP statuses: ErrUnknownState for states outside
// the closed set, ErrIllegalTransition when no edge exists, and
// ErrRoleForbidden when the edge exists but belongs to another role.
func Check(from, to domain.DeviceState, role domain.Role) error {
	if !from.Known() || !to.Known() {
		return errors.ErrUnknownState
	}

	edgeExists := false
	for _, tr := range transitionTable {
		if tr.From != from || tr.To != to {
			continue
		}
		edgeExists = true
		if tr.Role == role {
			return nil
		}
	}

	if edgeExists {
		return errors.ErrRoleForbidden
	}
	return errors.ErrIllegalTransition
}

// NextStates returns the states reachable from the given state in one
// step, in policy order.
func NextStates(from domain.DeviceState) []domain.DeviceState {
	var next []domain.DeviceState
	for _, tr := range transitionTable {
		if tr.From == from {
			next = append(next, tr.To)
		}
	}
	return next
}

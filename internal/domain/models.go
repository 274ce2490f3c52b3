// Package domain re-exports core domain types so internal code can import
// `ecycle/internal/domain` while using definitions from `ecycle/pkg/domain`.
package domain

import pkg "ecycle/pkg/domain"

// Device represents a tracked physical device.
type Device = pkg.Device

// DeviceState represents a lifecycle state.
type DeviceState = pkg.DeviceState

// DeviceCategory distinguishes regulated from legacy equipment.
type DeviceCategory = pkg.DeviceCategory

// Role identifies an actor class.
type Role = pkg.Role

// ActingUser is the authenticated actor identity.
type ActingUser = pkg.ActingUser

// LifecycleEvent is an immutable audit trail entry.
type LifecycleEvent = pkg.LifecycleEvent

// EventKind categorizes lifecycle events.
type EventKind = pkg.EventKind

// Reward is the incentive granted to a device owner.
type Reward = pkg.Reward

// Metadata holds arbitrary key-value metadata.
type Metadata = pkg.Metadata

// Re-exported lifecycle states, in custody order.
const (
	StateActive              = pkg.StateActive
	StateRecyclingRequested  = pkg.StateRecyclingRequested
	StateCollectorAssigned   = pkg.StateCollectorAssigned
	StateCollected           = pkg.StateCollected
	StatePickupFailed        = pkg.StatePickupFailed
	StateDeliveredToRecycler = pkg.StateDeliveredToRecycler
	StateRecycled            = pkg.StateRecycled
)

// Re-exported roles.
const (
	RoleOwner     = pkg.RoleOwner
	RoleCollector = pkg.RoleCollector
	RoleRecycler  = pkg.RoleRecycler
	RoleRegulator = pkg.RoleRegulator
)

// Re-exported device categories.
const (
	CategoryRegulated = pkg.CategoryRegulated
	CategoryLegacy    = pkg.CategoryLegacy
)

// Re-exported event kinds.
const (
	EventRegistration = pkg.EventRegistration
	EventTransition   = pkg.EventTransition
	EventCodeIssued   = pkg.EventCodeIssued
	EventRewardIssued = pkg.EventRewardIssued
)

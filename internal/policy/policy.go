// README: Access policy; pure predicates over (identity, ride), no I/O.
package policy

import "dispatch/internal/types"

// Role values as asserted by the identity provider.
const (
	RoleDriver    = "driver"
	RolePassenger = "passenger"
	RoleOps       = "ops"
)

// Identity is the verified (subject, role) pair handed to the core per
// request. It is treated as opaque and already normalized.
type Identity struct {
	SubjectUID string
	Role       string
}

// RideView is the authorization-relevant slice of a ride snapshot. The
// ride module produces it; this package never reads mutable state.
type RideView struct {
	ID                 types.ID
	AssignedDriverID   types.ID
	AssignedSubjectUID string
	OwnerSubjectUID    string
	OwnerContact       string
}

// CanMutate reports whether the identity may change the ride: the
// assigned driver or operations staff.
func CanMutate(id Identity, r RideView) bool {
	if id.Role == RoleOps {
		return true
	}
	return id.SubjectUID != "" && id.SubjectUID == r.AssignedSubjectUID
}

// CanObserve reports whether the identity may receive events for the
// ride: the assigned driver, operations staff, or the owning party.
func CanObserve(id Identity, r RideView) bool {
	if id.Role == RoleOps {
		return true
	}
	if id.SubjectUID == "" {
		return false
	}
	if id.SubjectUID == r.AssignedSubjectUID {
		return true
	}
	if id.SubjectUID == r.OwnerSubjectUID {
		return true
	}
	return r.OwnerContact != "" && id.SubjectUID == r.OwnerContact
}

// CanAssign reports whether the identity may assign drivers to rides.
// Assignment is an operations-only action.
func CanAssign(id Identity) bool {
	return id.Role == RoleOps
}

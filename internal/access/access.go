// Package access holds the pure rules deciding who may join a ticket chat
// and who may move a ticket through its lifecycle. The client session and the
// backend both evaluate the same rules.
package access

import "github.com/psds-microservice/support-chat/internal/model"

// Relationship is the viewer's standing towards one ticket.
type Relationship int

const (
	// Stranger is a non-staff user looking at somebody else's ticket.
	Stranger Relationship = iota
	Owner
	Admin
	AssignedOperator
	UnassignedOperator
)

func (r Relationship) String() string {
	switch r {
	case Owner:
		return "owner"
	case Admin:
		return "admin"
	case AssignedOperator:
		return "operator-assigned"
	case UnassignedOperator:
		return "operator-unassigned"
	}
	return "stranger"
}

// Viewer identifies who is looking at a ticket.
type Viewer struct {
	ID   uint64
	Role model.Role
}

// Relate classifies viewer against a ticket owned by ownerID and assigned to
// operatorID (nil when unassigned). Ownership wins over role.
func Relate(v Viewer, ownerID uint64, operatorID *uint64) Relationship {
	switch {
	case v.ID == ownerID:
		return Owner
	case v.Role == model.RoleAdmin:
		return Admin
	case v.Role == model.RoleOperator && operatorID != nil && *operatorID == v.ID:
		return AssignedOperator
	case v.Role == model.RoleOperator:
		return UnassignedOperator
	}
	return Stranger
}

// State is the pair the chat view branches on.
type State struct {
	Status       model.TicketStatus
	Relationship Relationship
}

// StateOf builds the state of info as seen by v.
func StateOf(v Viewer, info model.TicketInfo) State {
	return State{Status: info.Status, Relationship: Relate(v, info.UserID, info.OperatorID)}
}

// CanJoin reports whether the viewer may hold the real-time connection. It
// does not depend on the status: closing is what tears a connection down.
func CanJoin(rel Relationship) bool {
	return rel == Owner || rel == Admin || rel == AssignedOperator
}

// CanAssign reports whether the viewer may take the ticket.
func (s State) CanAssign() bool {
	if s.Status != model.TicketStatusNew {
		return false
	}
	return s.Relationship == UnassignedOperator || s.Relationship == AssignedOperator
}

// CanClose reports whether the viewer may close the ticket.
func (s State) CanClose() bool {
	if s.Status != model.TicketStatusActive {
		return false
	}
	return s.Relationship == Owner || s.Relationship == AssignedOperator
}

// ShouldConnect reports whether the chat view should hold a live connection
// in this state.
func (s State) ShouldConnect() bool {
	return s.Status != model.TicketStatusClosed && CanJoin(s.Relationship)
}

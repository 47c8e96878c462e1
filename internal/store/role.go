package store

import "fmt"

// Role identifies which side of a session produced a candidate. It is a
// closed two-value type: anything else is rejected at the wire boundary so a
// third, unintended role string can never be stored.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

// ParseRole validates a wire-level role string.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleInitiator:
		return RoleInitiator, nil
	case RoleResponder:
		return RoleResponder, nil
	default:
		return "", fmt.Errorf("unsupported role %q", s)
	}
}

// Peer returns the opposite role.
func (r Role) Peer() Role {
	if r == RoleInitiator {
		return RoleResponder
	}
	return RoleInitiator
}

// Package auth implements the role registry for the bridge layer. Two roles
// exist: admin (policy updates, breaker control, role management) and
// operator (releases and reserve replenishment). An identity may hold zero,
// one or both.
//
// Role management is itself gated on admin at the service layer. An earlier
// deployment of the bridge left operator enrolment ungated, letting any
// caller grant themselves operator; that was a defect and is not reproduced
// here.
package auth

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Role is an enumerated permission level.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
)

// ErrUnauthorized is returned when an identity lacks the required role.
var ErrUnauthorized = errors.New("unauthorized")

// ParseRole validates a role name.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleOperator:
		return RoleOperator, nil
	default:
		return "", fmt.Errorf("unknown role %q", raw)
	}
}

// Assignment pairs an identity with a role it holds.
type Assignment struct {
	Identity string `json:"identity"`
	Role     Role   `json:"role"`
}

// Registry tracks role membership. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	roles map[Role]map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{roles: map[Role]map[string]struct{}{
		RoleAdmin:    {},
		RoleOperator: {},
	}}
}

// Grant adds the role to the identity. Granting a role already held is a
// deliberate no-op, not an error. Returns true when membership changed.
func (r *Registry) Grant(identity string, role Role) bool {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.roles[role]
	if !ok {
		return false
	}
	if _, held := members[identity]; held {
		return false
	}
	members[identity] = struct{}{}
	return true
}

// Revoke removes the role from the identity. Revoking a role not held is a
// deliberate no-op, not an error. Returns true when membership changed.
func (r *Registry) Revoke(identity string, role Role) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.roles[role]
	if !ok {
		return false
	}
	if _, held := members[identity]; !held {
		return false
	}
	delete(members, identity)
	return true
}

// Has reports whether the identity holds the role.
func (r *Registry) Has(identity string, role Role) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members, ok := r.roles[role]
	if !ok {
		return false
	}
	_, held := members[identity]
	return held
}

// Require fails with ErrUnauthorized unless the identity holds the role.
func (r *Registry) Require(identity string, role Role) error {
	if !r.Has(identity, role) {
		return fmt.Errorf("%w: %s requires role %s", ErrUnauthorized, redactIdentity(identity), role)
	}
	return nil
}

// Assignments returns a stable snapshot of all memberships.
func (r *Registry) Assignments() []Assignment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Assignment
	for role, members := range r.roles {
		for identity := range members {
			out = append(out, Assignment{Identity: identity, Role: role})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Role != out[j].Role {
			return out[i].Role < out[j].Role
		}
		return out[i].Identity < out[j].Identity
	})
	return out
}

// Restore replaces all memberships with the given assignments.
func (r *Registry) Restore(assignments []Assignment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles = map[Role]map[string]struct{}{
		RoleAdmin:    {},
		RoleOperator: {},
	}
	for _, a := range assignments {
		identity := strings.TrimSpace(a.Identity)
		if identity == "" {
			continue
		}
		if members, ok := r.roles[a.Role]; ok {
			members[identity] = struct{}{}
		}
	}
}

// redactIdentity keeps log and error output from leaking full identities.
func redactIdentity(identity string) string {
	if len(identity) <= 8 {
		return identity
	}
	return identity[:8] + "…"
}

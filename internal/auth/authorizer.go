package auth

import (
	"sort"

	"github.com/railbook/apiserver/types"
)

// RoleSet is the set of roles allowed to call an operation.
type RoleSet map[string]struct{}

func Roles(names ...string) RoleSet {
	set := make(RoleSet, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}

func (s RoleSet) Contains(role string) bool {
	_, ok := s[role]
	return ok
}

// Names returns the roles in sorted order.
func (s RoleSet) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Authorize allows the principal iff it holds at least one required role.
// An empty required set allows no one.
func Authorize(p types.Principal, required RoleSet) error {
	for _, role := range p.Roles {
		if required.Contains(role) {
			return nil
		}
	}
	return ErrForbidden
}

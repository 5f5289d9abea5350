package docgate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/oarkflow/docgate/utils"
)

// Action is the kind of access being checked.
type Action string

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionDelete Action = "delete"
)

// Tokens with special meaning in a PermissionRule.
const (
	Wildcard          = "*"
	MarkerOwner       = "*owner"
	MarkerHost        = "*host"
	MarkerParticipant = "*participant"
)

// IsMarker reports whether token is a relational marker such as "*owner".
func IsMarker(token string) bool {
	return len(token) > 1 && token[0] == '*'
}

// PermissionRule lists the tokens allowed to perform each action on a
// collection. A token is a role, the wildcard "*" or a relational marker.
type PermissionRule struct {
	Read   []string `json:"read" yaml:"read"`
	Write  []string `json:"write" yaml:"write"`
	Delete []string `json:"delete" yaml:"delete"`
}

// Tokens returns the tokens for action.
func (r PermissionRule) Tokens(action Action) []string {
	switch action {
	case ActionRead:
		return r.Read
	case ActionWrite:
		return r.Write
	case ActionDelete:
		return r.Delete
	}
	return nil
}

// Permissions maps a collection name, or a collection pattern such as
// "public_*", to its rule.
type Permissions map[string]PermissionRule

// DefaultPermissions returns the permission table of the learning platform.
func DefaultPermissions() Permissions {
	return Permissions{
		"users": {
			Read:   []string{RoleAdmin, MarkerOwner},
			Write:  []string{RoleAdmin, MarkerOwner},
			Delete: []string{RoleAdmin},
		},
		"meetings": {
			Read:   []string{RoleAdmin, RoleProUser, RoleTeacher, RoleStudent, MarkerHost, MarkerParticipant},
			Write:  []string{RoleAdmin, RoleProUser, RoleTeacher, MarkerHost},
			Delete: []string{RoleAdmin, MarkerHost},
		},
		"comments": {
			Read:   []string{RoleAdmin, RoleProUser, RoleTeacher, RoleStudent, MarkerOwner},
			Write:  []string{RoleAdmin, RoleProUser, RoleTeacher, RoleStudent, MarkerOwner},
			Delete: []string{RoleAdmin, MarkerOwner},
		},
		"messages": {
			Read:   []string{RoleAdmin, RoleProUser, RoleTeacher, RoleStudent, MarkerOwner, MarkerParticipant},
			Write:  []string{RoleAdmin, RoleProUser, RoleTeacher, RoleStudent, MarkerOwner},
			Delete: []string{RoleAdmin, MarkerOwner},
		},
		"evaluations": {
			Read:   []string{RoleAdmin, RoleProUser, RoleTeacher, MarkerOwner},
			Write:  []string{RoleAdmin, RoleProUser, RoleTeacher},
			Delete: []string{RoleAdmin, MarkerOwner},
		},
	}
}

// Rule returns the rule governing collection. Exact names win over
// patterns; among patterns the longest one wins, ties go to the
// lexicographically smallest.
func (p Permissions) Rule(collection string) (PermissionRule, string, bool) {
	if r, ok := p[collection]; ok {
		return r, collection, true
	}
	best := ""
	for pattern := range p {
		if !strings.ContainsAny(pattern, "*:") {
			continue
		}
		if !utils.MatchCollection(collection, pattern) {
			continue
		}
		if best == "" || len(pattern) > len(best) || (len(pattern) == len(best) && pattern < best) {
			best = pattern
		}
	}
	if best == "" {
		return PermissionRule{}, "", false
	}
	return p[best], best, true
}

// Clone returns a deep copy of p.
func (p Permissions) Clone() Permissions {
	out := make(Permissions, len(p))
	for k, r := range p {
		out[k] = PermissionRule{
			Read:   append([]string(nil), r.Read...),
			Write:  append([]string(nil), r.Write...),
			Delete: append([]string(nil), r.Delete...),
		}
	}
	return out
}

// Collections returns the table keys in sorted order.
func (p Permissions) Collections() []string {
	out := make([]string, 0, len(p))
	for k := range p {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Markers returns every relational marker the table references.
func (p Permissions) Markers() []string {
	seen := map[string]bool{}
	for _, r := range p {
		for _, list := range [][]string{r.Read, r.Write, r.Delete} {
			for _, t := range list {
				if IsMarker(t) {
					seen[t] = true
				}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Validate checks the table for empty collection names and blank tokens.
func (p Permissions) Validate() error {
	for c, r := range p {
		if strings.TrimSpace(c) == "" {
			return fmt.Errorf("permissions: empty collection name")
		}
		for _, a := range []Action{ActionRead, ActionWrite, ActionDelete} {
			for _, t := range r.Tokens(a) {
				if strings.TrimSpace(t) == "" {
					return fmt.Errorf("permissions %s.%s: blank token", c, a)
				}
			}
		}
	}
	return nil
}

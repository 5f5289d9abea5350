package docgate

import (
	"fmt"
	"time"
)

// Decision represents the authorization decision
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Reason    string    `json:"reason"`
	MatchedBy string    `json:"matched_by"` // role, wildcard, admin or a marker
	Trace     []string  `json:"trace,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Authorizer evaluates the permission table for a session and a document.
// It holds no mutable state of its own and is safe for concurrent use.
type Authorizer struct {
	permissions Permissions
	relations   *Relations
}

// NewAuthorizer returns an authorizer over perms and rels. Nil arguments
// fall back to DefaultPermissions and DefaultRelations.
func NewAuthorizer(perms Permissions, rels *Relations) *Authorizer {
	if perms == nil {
		perms = DefaultPermissions()
	}
	if rels == nil {
		rels = DefaultRelations()
	}
	return &Authorizer{permissions: perms, relations: rels}
}

func (a *Authorizer) Permissions() Permissions { return a.permissions }

func (a *Authorizer) Relations() *Relations { return a.relations }

// Allowed reports whether s may perform action on doc in collection.
func (a *Authorizer) Allowed(s *Session, collection string, action Action, doc Document) bool {
	return a.decide(s, collection, action, doc, false).Allowed
}

// Check returns the decision without a trace.
func (a *Authorizer) Check(s *Session, collection string, action Action, doc Document) *Decision {
	return a.decide(s, collection, action, doc, false)
}

// Explain returns the decision with every evaluation step recorded.
func (a *Authorizer) Explain(s *Session, collection string, action Action, doc Document) *Decision {
	return a.decide(s, collection, action, doc, true)
}

func (a *Authorizer) decide(s *Session, collection string, action Action, doc Document, includeTrace bool) *Decision {
	d := &Decision{Timestamp: time.Now()}
	trace := func(format string, args ...any) {
		if includeTrace {
			d.Trace = append(d.Trace, fmt.Sprintf(format, args...))
		}
	}
	deny := func(reason string) *Decision {
		d.Allowed = false
		d.Reason = reason
		trace("deny: %s", reason)
		return d
	}
	allow := func(by, reason string) *Decision {
		d.Allowed = true
		d.MatchedBy = by
		d.Reason = reason
		trace("allow: %s", reason)
		return d
	}

	if s == nil {
		return deny("no session")
	}
	trace("session uid=%s role=%s", s.UID, s.Role())

	rule, matched, ok := a.permissions.Rule(collection)
	if !ok {
		trace("no rule for collection %s", collection)
		if s.IsAdmin() {
			return allow(RoleAdmin, "collection not governed, admin only")
		}
		return deny("collection not governed, admin only")
	}
	if matched != collection {
		trace("rule %s matches collection %s", matched, collection)
	}

	tokens := rule.Tokens(action)
	trace("tokens for %s: %v", action, tokens)
	for _, t := range tokens {
		if t == Wildcard {
			return allow(Wildcard, "wildcard")
		}
	}
	if s.IsAdmin() {
		return allow(RoleAdmin, "admin")
	}
	role := s.Role()
	if role != "" {
		for _, t := range tokens {
			if t == role {
				return allow(t, "role "+role)
			}
		}
	}

	ctx := &EvalContext{Session: s, Doc: doc, Collection: collection, Action: action}
	for _, t := range tokens {
		if !IsMarker(t) {
			continue
		}
		if doc == nil {
			trace("%s: no document", t)
			continue
		}
		cond, ok := a.relations.Lookup(collection, t)
		if !ok {
			trace("%s: no condition registered", t)
			continue
		}
		ok, err := cond.Evaluate(ctx)
		if err != nil {
			trace("%s: %s: error %v", t, cond.String(), err)
			continue
		}
		trace("%s: %s = %t", t, cond.String(), ok)
		if ok {
			return allow(t, "relation "+t)
		}
	}
	return deny(fmt.Sprintf("%s not permitted to %s %s", describeRole(role), action, collection))
}

func describeRole(role string) string {
	if role == "" {
		return "session without role"
	}
	return "role " + role
}

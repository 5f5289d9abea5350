package docgate

// Builders provide a fluent API for permission rules and sessions

// RuleBuilder builds a PermissionRule
type RuleBuilder struct {
	r PermissionRule
}

func NewRuleBuilder() *RuleBuilder { return &RuleBuilder{} }

func (b *RuleBuilder) Read(tokens ...string) *RuleBuilder {
	b.r.Read = append(b.r.Read, tokens...)
	return b
}
func (b *RuleBuilder) Write(tokens ...string) *RuleBuilder {
	b.r.Write = append(b.r.Write, tokens...)
	return b
}
func (b *RuleBuilder) Delete(tokens ...string) *RuleBuilder {
	b.r.Delete = append(b.r.Delete, tokens...)
	return b
}

// All grants tokens every action.
func (b *RuleBuilder) All(tokens ...string) *RuleBuilder {
	return b.Read(tokens...).Write(tokens...).Delete(tokens...)
}
func (b *RuleBuilder) Build() PermissionRule { return b.r }

// SessionBuilder builds a Session
type SessionBuilder struct {
	s *Session
}

func NewSessionBuilder(uid string) *SessionBuilder {
	return &SessionBuilder{s: &Session{UID: uid, Profile: &UserProfile{ID: uid}}}
}
func (b *SessionBuilder) Role(role string) *SessionBuilder   { b.s.Profile.Role = role; return b }
func (b *SessionBuilder) Email(email string) *SessionBuilder { b.s.Profile.Email = email; return b }
func (b *SessionBuilder) DisplayName(n string) *SessionBuilder {
	b.s.Profile.DisplayName = n
	return b
}
func (b *SessionBuilder) Attr(key string, v any) *SessionBuilder {
	if b.s.Profile.Attrs == nil {
		b.s.Profile.Attrs = map[string]any{}
	}
	b.s.Profile.Attrs[key] = v
	return b
}
func (b *SessionBuilder) Build() *Session { return b.s }

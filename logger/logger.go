package logger

// Logger is the structured logging interface used by the gateway and the
// stores. Implementations accept alternating key/value pairs.
type Logger interface {
	Error(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Debug(msg string, keyvals ...any)
}

// With returns a Logger that prepends keyvals to every call.
func With(l Logger, keyvals ...any) Logger {
	if len(keyvals) == 0 {
		return l
	}
	return &scoped{next: l, keyvals: keyvals}
}

type scoped struct {
	next    Logger
	keyvals []any
}

func (s *scoped) merge(keyvals []any) []any {
	out := make([]any, 0, len(s.keyvals)+len(keyvals))
	out = append(out, s.keyvals...)
	return append(out, keyvals...)
}

func (s *scoped) Error(msg string, keyvals ...any) { s.next.Error(msg, s.merge(keyvals)...) }
func (s *scoped) Warn(msg string, keyvals ...any)  { s.next.Warn(msg, s.merge(keyvals)...) }
func (s *scoped) Info(msg string, keyvals ...any)  { s.next.Info(msg, s.merge(keyvals)...) }
func (s *scoped) Debug(msg string, keyvals ...any) { s.next.Debug(msg, s.merge(keyvals)...) }

package stores

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/oarkflow/squealx"

	"github.com/oarkflow/docgate"
)

// SQLAuditStore persists gateway decisions in the audit_log table.
type SQLAuditStore struct {
	db *squealx.DB
}

var _ docgate.AuditStore = (*SQLAuditStore)(nil)

func NewSQLAuditStore(ctx context.Context, db *squealx.DB) (*SQLAuditStore, error) {
	if err := Migrate(ctx, db); err != nil {
		return nil, err
	}
	return &SQLAuditStore{db: db}, nil
}

func (s *SQLAuditStore) LogDecision(ctx context.Context, entry *docgate.AuditEntry) error {
	decision := entry.Decision
	if decision == nil {
		decision = &docgate.Decision{}
	}
	traceB, _ := json.Marshal(decision.Trace)
	metaB, _ := json.Marshal(entry.Metadata)
	q := `INSERT INTO audit_log(id, timestamp, subject_id, role, action, collection, document_id, allowed, matched_by, reason, trace_json, metadata_json) VALUES(:id, :timestamp, :subject_id, :role, :action, :collection, :document_id, :allowed, :matched_by, :reason, :trace_json, :metadata_json)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":            entry.ID,
		"timestamp":     sqlNullTimeOrNil(entry.Timestamp),
		"subject_id":    entry.SubjectID,
		"role":          entry.Role,
		"action":        string(entry.Action),
		"collection":    entry.Collection,
		"document_id":   entry.DocumentID,
		"allowed":       boolToInt(decision.Allowed),
		"matched_by":    decision.MatchedBy,
		"reason":        decision.Reason,
		"trace_json":    string(traceB),
		"metadata_json": string(metaB),
	})
	return err
}

func (s *SQLAuditStore) GetAccessLog(ctx context.Context, filter docgate.AuditFilter) ([]*docgate.AuditEntry, error) {
	q := `SELECT id, timestamp, subject_id, role, action, collection, document_id, allowed, matched_by, reason, trace_json, metadata_json FROM audit_log WHERE 1=1`
	params := map[string]any{}
	if filter.SubjectID != "" {
		q += " AND subject_id = :subject_id"
		params["subject_id"] = filter.SubjectID
	}
	if filter.Collection != "" {
		q += " AND collection = :collection"
		params["collection"] = filter.Collection
	}
	if filter.Action != "" {
		q += " AND action = :action"
		params["action"] = string(filter.Action)
	}
	if filter.Allowed != nil {
		q += " AND allowed = :allowed"
		params["allowed"] = boolToInt(*filter.Allowed)
	}
	if !filter.StartTime.IsZero() {
		q += " AND timestamp >= :start"
		params["start"] = sqlNullTimeOrNil(filter.StartTime)
	}
	if !filter.EndTime.IsZero() {
		q += " AND timestamp <= :end"
		params["end"] = sqlNullTimeOrNil(filter.EndTime)
	}
	q += " ORDER BY timestamp"
	if filter.Limit > 0 {
		q += " LIMIT :limit"
		params["limit"] = filter.Limit
	} else {
		q += " LIMIT 100"
	}
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*docgate.AuditEntry, 0)
	for r.Next() {
		var id, subject, role, action, collection, documentID, matchedBy, reason, traceJSON, metaJSON string
		var timestampRaw any
		var allowedInt int
		if err := r.Scan(&id, &timestampRaw, &subject, &role, &action, &collection, &documentID, &allowedInt, &matchedBy, &reason, &traceJSON, &metaJSON); err != nil {
			return nil, err
		}
		entry := &docgate.AuditEntry{
			ID:         id,
			SubjectID:  subject,
			Role:       role,
			Action:     docgate.Action(action),
			Collection: collection,
			DocumentID: documentID,
		}
		if t, ok := scanTime(timestampRaw); ok {
			entry.Timestamp = t
		}
		entry.Decision = &docgate.Decision{Allowed: allowedInt != 0, MatchedBy: matchedBy, Reason: reason, Timestamp: entry.Timestamp}
		_ = json.Unmarshal([]byte(traceJSON), &entry.Decision.Trace)
		_ = json.Unmarshal([]byte(metaJSON), &entry.Metadata)
		out = append(out, entry)
	}
	return out, r.Err()
}

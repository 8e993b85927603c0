package models

import (
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Entity is a snapshot of a business record (lease, payment, maintenance request)
// as seen by the automation engine.
type Entity struct {
	ID        string         `json:"id"`
	Type      string         `json:"entity_type"`
	Data      map[string]any `json:"data"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Snapshot returns the entity data enriched with its id and type, as passed to conditions and templates.
func (e Entity) Snapshot() map[string]any {
	snapshot := make(map[string]any, len(e.Data)+2)
	for k, v := range e.Data {
		snapshot[k] = v
	}

	snapshot["id"] = e.ID
	snapshot["entityType"] = e.Type

	return snapshot
}

// Lookup resolves a dotted path ("tenant.email") inside a snapshot.
func Lookup(snapshot map[string]any, path string) (any, bool) {
	if v, ok := snapshot[path]; ok {
		return v, true
	}

	var current any = snapshot

	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

// ParseDate interprets v as an RFC 3339 timestamp or a calendar date.
func ParseDate(v any) (time.Time, bool) {
	switch value := v.(type) {
	case time.Time:
		return value, true
	case string:
		if t, err := time.Parse(time.RFC3339, value); err == nil {
			return t, true
		}

		if t, err := time.Parse(dateLayout, value); err == nil {
			return t, true
		}

		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

// FormatDate renders the calendar date of t.
func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}

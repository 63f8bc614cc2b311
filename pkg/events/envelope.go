// Package events fans out one session's deliberation events to its
// WebSocket observers. Grounded directly on the teacher's
// events.ConnectionManager (subscriber maps, Broadcast, drop-oldest
// enqueue, lock-snapshot-then-send discipline), trimmed of the Postgres
// NOTIFY/LISTEN cross-pod distribution layer: persistence of deliberation
// history is an explicit non-goal, so there is no catchup query and no
// event history retained — late subscribers only see events from
// subscription onward.
package events

import (
	"encoding/json"
	"time"
)

// SchemaVersion is stamped on every envelope by Build, not by callers,
// mirroring how the teacher centrally stamps Timestamp in events/payloads.go.
const SchemaVersion = "1.0"

// Build wraps an engine event's content into the wire envelope: schema
// version, session id, ISO-8601 timestamp, and type discriminant, merged
// with content's own JSON fields (phase, pct, unit, ...).
func Build(sessionID, eventType string, content any) ([]byte, error) {
	contentJSON, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}

	var fields map[string]any
	if err := json.Unmarshal(contentJSON, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = make(map[string]any)
	}

	fields["schema_version"] = SchemaVersion
	fields["session_id"] = sessionID
	fields["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	fields["type"] = eventType

	return json.Marshal(fields)
}

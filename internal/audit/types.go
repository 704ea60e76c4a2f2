package audit

import "time"

// Event is one row of the sandbox_events table.
type Event struct {
	ID        int64     `db:"id" json:"id"`
	SandboxID string    `db:"sandbox_id" json:"sandbox_id"`
	EventType EventType `db:"event_type" json:"event_type"`
	IP        string    `db:"ip" json:"ip"`
	Detail    string    `db:"detail" json:"detail"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

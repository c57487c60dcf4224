package pubsub

import (
	"time"

	"github.com/google/uuid"
)

// Event types published for queue changes.
const (
	EventCreated   = "queue.created"
	EventUpdated   = "queue.updated"
	EventReset     = "queue.reset"
	EventCalled    = "queue.called"
	EventCompleted = "queue.completed"
)

// Event is a queue change as seen by front-desk subscribers.
type Event struct {
	Type          string    `json:"type"`
	ClinicID      uuid.UUID `json:"clinic_id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	QueueEntryID  uuid.UUID `json:"queue_entry_id"`
	From          string    `json:"from,omitempty"`
	To            string    `json:"to"`
	Timestamp     time.Time `json:"timestamp"`
}

// Channel is the per-clinic channel name under prefix.
func Channel(prefix string, clinicID uuid.UUID) string {
	return prefix + ":" + clinicID.String()
}

// SnapshotKey is the key holding the latest snapshot for day (YYYY-MM-DD).
func SnapshotKey(day string) string {
	return "queue:snapshot:" + day
}

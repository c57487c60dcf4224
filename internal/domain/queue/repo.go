package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the storage the Reconciler works against. Appointments are
// read only; queue_status is the only relation written.
type Repository interface {
	// ListAppointments returns ledger rows whose start time falls in w,
	// ordered by start time.
	ListAppointments(ctx context.Context, w Window, s Scope) ([]*AppointmentRecord, error)
	// Upsert creates the entry for e.AppointmentID or moves its status to
	// e.Status. It reports what happened and the previous status. No row is
	// written when the stored status already equals e.Status.
	Upsert(ctx context.Context, e *QueueEntry, now time.Time) (Action, QueueStatus, error)
	// UpdateStatus sets the status of the entry for appointmentID and returns
	// the entry id and its previous status, or ErrNotFound.
	UpdateStatus(ctx context.Context, appointmentID uuid.UUID, status QueueStatus, now time.Time) (uuid.UUID, QueueStatus, error)
	// ResetInProgress moves in_progress entries created in w back to waiting
	// and returns them after the update.
	ResetInProgress(ctx context.Context, w Window, s Scope, now time.Time) ([]*QueueEntry, error)
	MarkCalled(ctx context.Context, appointmentID uuid.UUID, now time.Time) (*QueueEntry, error)
	MarkCompleted(ctx context.Context, appointmentID uuid.UUID, now time.Time) (*QueueEntry, error)
	// ListQueue returns entries created in w joined with patient and
	// appointment data.
	ListQueue(ctx context.Context, w Window, s Scope) ([]*SnapshotRow, error)
}

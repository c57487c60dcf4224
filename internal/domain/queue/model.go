package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when an appointment has no queue entry.
	ErrNotFound = errors.New("queue entry not found")
	// ErrDuplicateEntry is returned when a second entry for the same
	// appointment is rejected by the uniqueness constraint.
	ErrDuplicateEntry = errors.New("queue entry already exists for appointment")
	// ErrInvalidStatus is returned for a queue status outside waiting,
	// in_progress and completed.
	ErrInvalidStatus = errors.New("invalid queue status")
)

// AppointmentStatus is the lifecycle status owned by the appointment ledger.
type AppointmentStatus string

const (
	AppointmentScheduled  AppointmentStatus = "scheduled"
	AppointmentConfirmed  AppointmentStatus = "confirmed"
	AppointmentCheckedIn  AppointmentStatus = "checked_in"
	AppointmentInProgress AppointmentStatus = "in_progress"
	AppointmentCompleted  AppointmentStatus = "completed"
	AppointmentCancelled  AppointmentStatus = "cancelled"
)

// QueueStatus is the status of a patient's queue entry.
type QueueStatus string

const (
	StatusWaiting    QueueStatus = "waiting"
	StatusInProgress QueueStatus = "in_progress"
	StatusCompleted  QueueStatus = "completed"
)

// ParseQueueStatus validates an operator-supplied queue status.
func ParseQueueStatus(s string) (QueueStatus, error) {
	switch qs := QueueStatus(s); qs {
	case StatusWaiting, StatusInProgress, StatusCompleted:
		return qs, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// AppointmentRecord is a read-only row of the appointments ledger joined
// with the patient's display name.
type AppointmentRecord struct {
	ID          uuid.UUID         `db:"id" json:"id"`
	PatientID   uuid.UUID         `db:"patient_id" json:"patient_id"`
	DoctorID    uuid.UUID         `db:"doctor_id" json:"doctor_id"`
	ClinicID    uuid.UUID         `db:"clinic_id" json:"clinic_id"`
	StartTime   time.Time         `db:"start_time" json:"start_time"`
	Status      AppointmentStatus `db:"status" json:"status"`
	PatientName string            `db:"patient_name" json:"patient_name"`
}

// QueueEntry maps to the queue_status table.
type QueueEntry struct {
	ID            uuid.UUID   `db:"id" json:"id"`
	AppointmentID uuid.UUID   `db:"appointment_id" json:"appointment_id"`
	PatientID     uuid.UUID   `db:"patient_id" json:"patient_id"`
	DoctorID      uuid.UUID   `db:"doctor_id" json:"doctor_id"`
	ClinicID      uuid.UUID   `db:"clinic_id" json:"clinic_id"`
	Status        QueueStatus `db:"status" json:"status"`
	Priority      int         `db:"priority" json:"priority"`
	Notes         *string     `db:"notes" json:"notes,omitempty"`
	CalledAt      *time.Time  `db:"called_at" json:"called_at,omitempty"`
	StartedAt     *time.Time  `db:"started_at" json:"started_at,omitempty"`
	CompletedAt   *time.Time  `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time   `db:"updated_at" json:"updated_at"`
}

// Scope narrows an operation to one clinic and/or one doctor. The zero value
// covers the whole operational day.
type Scope struct {
	ClinicID *uuid.UUID
	DoctorID *uuid.UUID
}

// All reports whether the scope covers every clinic and doctor.
func (s Scope) All() bool {
	return s.ClinicID == nil && s.DoctorID == nil
}

// Window is a half-open time range [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// OperationalDay returns the calendar day containing now in loc.
func OperationalDay(now time.Time, loc *time.Location) Window {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return Window{Start: start, End: start.Add(24 * time.Hour)}
}

// Day formats the window start as YYYY-MM-DD.
func (w Window) Day() string {
	return w.Start.Format("2006-01-02")
}

// Action is what a reconciliation pass did to one queue entry.
type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionUnchanged Action = "unchanged"
)

// Change records one write performed by a pass or an operational transition.
type Change struct {
	Action        Action      `json:"action"`
	EntryID       uuid.UUID   `json:"entry_id"`
	AppointmentID uuid.UUID   `json:"appointment_id"`
	PatientID     uuid.UUID   `json:"patient_id"`
	DoctorID      uuid.UUID   `json:"doctor_id"`
	ClinicID      uuid.UUID   `json:"clinic_id"`
	PatientName   string      `json:"patient_name"`
	From          QueueStatus `json:"from,omitempty"`
	To            QueueStatus `json:"to"`
}

// SyncResult summarises one reconciliation pass. When the pass fails midway
// the counters cover the appointments processed before the failure.
type SyncResult struct {
	Day          string    `json:"day"`
	Appointments int       `json:"appointments"`
	Created      int       `json:"created"`
	Updated      int       `json:"updated"`
	Unchanged    int       `json:"unchanged"`
	Fallbacks    int       `json:"fallbacks"`
	Changes      []Change  `json:"changes"`
	Snapshot     *Snapshot `json:"snapshot,omitempty"`
}

// Writes is the number of rows the pass inserted or updated.
func (r *SyncResult) Writes() int {
	return r.Created + r.Updated
}

// ResetResult summarises a stuck-queue reset.
type ResetResult struct {
	Day      string        `json:"day"`
	Reset    []*QueueEntry `json:"reset"`
	Snapshot *Snapshot     `json:"snapshot,omitempty"`
}

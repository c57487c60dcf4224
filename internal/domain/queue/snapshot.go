package queue

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// SnapshotRow is one queue entry as shown to the front desk.
type SnapshotRow struct {
	EntryID           uuid.UUID         `json:"entry_id"`
	AppointmentID     uuid.UUID         `json:"appointment_id"`
	PatientID         uuid.UUID         `json:"patient_id"`
	DoctorID          uuid.UUID         `json:"doctor_id"`
	ClinicID          uuid.UUID         `json:"clinic_id"`
	PatientName       string            `json:"patient_name"`
	Status            QueueStatus       `json:"status"`
	Priority          int               `json:"priority"`
	StartTime         *time.Time        `json:"start_time,omitempty"`
	AppointmentStatus AppointmentStatus `json:"appointment_status"`
	CalledAt          *time.Time        `json:"called_at,omitempty"`
	StartedAt         *time.Time        `json:"started_at,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

// Urgent reports whether the entry jumps the normal order.
func (r *SnapshotRow) Urgent() bool { return r.Priority > 0 }

// Snapshot is the queue for one operational day split into status buckets.
type Snapshot struct {
	Day         string         `json:"day"`
	GeneratedAt time.Time      `json:"generated_at"`
	Waiting     []*SnapshotRow `json:"waiting"`
	InProgress  []*SnapshotRow `json:"in_progress"`
	Completed   []*SnapshotRow `json:"completed"`
}

// Total is the number of entries across all buckets.
func (s *Snapshot) Total() int {
	return len(s.Waiting) + len(s.InProgress) + len(s.Completed)
}

// Bucket returns the rows for one status.
func (s *Snapshot) Bucket(status QueueStatus) []*SnapshotRow {
	switch status {
	case StatusWaiting:
		return s.Waiting
	case StatusInProgress:
		return s.InProgress
	case StatusCompleted:
		return s.Completed
	}
	return nil
}

// Only returns a copy of the snapshot that keeps a single bucket.
func (s *Snapshot) Only(status QueueStatus) *Snapshot {
	out := &Snapshot{
		Day:         s.Day,
		GeneratedAt: s.GeneratedAt,
		Waiting:     []*SnapshotRow{},
		InProgress:  []*SnapshotRow{},
		Completed:   []*SnapshotRow{},
	}
	switch status {
	case StatusWaiting:
		out.Waiting = s.Waiting
	case StatusInProgress:
		out.InProgress = s.InProgress
	case StatusCompleted:
		out.Completed = s.Completed
	}
	return out
}

// SortRows orders rows by status bucket, then priority descending, then
// appointment start ascending. Rows without a start time go last in their
// priority group; creation time breaks any remaining tie.
func SortRows(rows []*SnapshotRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if ra, rb := bucketRank(a.Status), bucketRank(b.Status); ra != rb {
			return ra < rb
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		switch {
		case a.StartTime == nil && b.StartTime != nil:
			return false
		case a.StartTime != nil && b.StartTime == nil:
			return true
		case a.StartTime != nil && b.StartTime != nil && !a.StartTime.Equal(*b.StartTime):
			return a.StartTime.Before(*b.StartTime)
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

// BuildSnapshot sorts rows and partitions them into the three buckets. Rows
// carrying a status outside the three buckets are left out.
func BuildSnapshot(day string, generatedAt time.Time, rows []*SnapshotRow) *Snapshot {
	sorted := make([]*SnapshotRow, len(rows))
	copy(sorted, rows)
	SortRows(sorted)

	s := &Snapshot{
		Day:         day,
		GeneratedAt: generatedAt,
		Waiting:     []*SnapshotRow{},
		InProgress:  []*SnapshotRow{},
		Completed:   []*SnapshotRow{},
	}
	for _, r := range sorted {
		switch r.Status {
		case StatusWaiting:
			s.Waiting = append(s.Waiting, r)
		case StatusInProgress:
			s.InProgress = append(s.InProgress, r)
		case StatusCompleted:
			s.Completed = append(s.Completed, r)
		}
	}
	return s
}

package queue

import "testing"

func TestMapAppointmentStatus(t *testing.T) {
	tests := []struct {
		in    AppointmentStatus
		want  QueueStatus
		known bool
	}{
		{AppointmentScheduled, StatusWaiting, true},
		{AppointmentConfirmed, StatusWaiting, true},
		{AppointmentCheckedIn, StatusInProgress, true},
		{AppointmentInProgress, StatusInProgress, true},
		{AppointmentCompleted, StatusCompleted, true},
		{AppointmentCancelled, StatusCompleted, true},
		{"no_show", StatusWaiting, false},
		{"", StatusWaiting, false},
		{"COMPLETED", StatusWaiting, false},
	}
	for _, tt := range tests {
		got, known := MapAppointmentStatus(tt.in)
		if got != tt.want || known != tt.known {
			t.Errorf("MapAppointmentStatus(%q) = (%s, %v), want (%s, %v)", tt.in, got, known, tt.want, tt.known)
		}
	}
}

func TestMapAppointmentStatus_AlwaysQueueStatus(t *testing.T) {
	for _, s := range []AppointmentStatus{"scheduled", "confirmed", "checked_in", "in_progress", "completed", "cancelled", "no_show", "rescheduled", "x"} {
		got, _ := MapAppointmentStatus(s)
		if _, err := ParseQueueStatus(string(got)); err != nil {
			t.Errorf("status %q mapped to non-queue status %q", s, got)
		}
	}
}

package queue

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestRenderSnapshot(t *testing.T) {
	s := BuildSnapshot("2024-03-05", time.Now(), []*SnapshotRow{
		row("Ana Souza", StatusWaiting, 0, at(9, 0)),
		row("Bruno Lima", StatusWaiting, 1, at(10, 15)),
		row("Carla Dias", StatusInProgress, 0, nil),
	})

	var buf bytes.Buffer
	NewRenderer(&buf).RenderSnapshot(s)
	out := buf.String()

	for _, want := range []string{
		"Queue for 2024-03-05 (3 entries)",
		"WAITING (2):",
		"1. Bruno Lima",
		"| 10:15 | URGENT",
		"2. Ana Souza",
		"| 09:00 | Normal",
		"IN PROGRESS (1):",
		"Carla Dias",
		"| N/A",
		"COMPLETED (0):",
		"(None)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "Bruno Lima") > strings.Index(out, "Ana Souza") {
		t.Error("urgent entry should be listed first")
	}
}

func TestRenderSync(t *testing.T) {
	res := &SyncResult{
		Day:          "2024-03-05",
		Appointments: 2,
		Created:      1,
		Updated:      1,
		Fallbacks:    1,
		Changes: []Change{
			{Action: ActionCreated, AppointmentID: uuid.New(), PatientName: "Ana Souza", To: StatusWaiting},
			{Action: ActionUpdated, AppointmentID: uuid.New(), PatientName: "Bruno Lima", From: StatusWaiting, To: StatusInProgress},
		},
		Snapshot: BuildSnapshot("2024-03-05", time.Now(), nil),
	}

	var buf bytes.Buffer
	NewRenderer(&buf).RenderSync(res)
	out := buf.String()

	for _, want := range []string{
		"Found 2 appointments for 2024-03-05",
		"Created: Ana Souza",
		"Updated: Bruno Lima",
		"waiting -> in_progress",
		"Created: 1, Updated: 1, Unchanged: 0, Unrecognised statuses: 1",
		"Queue for 2024-03-05 (0 entries)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderReset(t *testing.T) {
	id := uuid.New()
	res := &ResetResult{
		Day:   "2024-03-05",
		Reset: []*QueueEntry{{AppointmentID: id, Status: StatusWaiting}},
	}

	var buf bytes.Buffer
	NewRenderer(&buf).RenderReset(res)
	out := buf.String()

	if !strings.Contains(out, "Reset 1 in-progress entries to waiting for 2024-03-05") {
		t.Errorf("unexpected header:\n%s", out)
	}
	if !strings.Contains(out, id.String()) {
		t.Errorf("expected appointment id in output:\n%s", out)
	}
}

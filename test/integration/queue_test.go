//go:build integration

package integration

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/queuesync/internal/domain/queue"
	"github.com/clinic/queuesync/internal/platform/db"
	"github.com/clinic/queuesync/migrations"
)

var day = time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

func clock(h, m int) time.Time { return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }

func newReconciler() *queue.Reconciler {
	return queue.NewReconciler(queue.NewRepoPG(globalPool), zerolog.Nop(),
		queue.WithLocation(time.UTC),
		queue.WithClock(func() time.Time { return clock(10, 0) }),
	)
}

func syncIn(t *testing.T, ctx context.Context, schema string, r *queue.Reconciler) *queue.SyncResult {
	t.Helper()
	var res *queue.SyncResult
	err := db.WithConn(ctx, globalPool, schema, func(ctx context.Context) error {
		var err error
		res, err = r.Sync(ctx, r.Today(), queue.Scope{})
		return err
	})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	return res
}

func statusOf(t *testing.T, ctx context.Context, schema string, appointmentID uuid.UUID) string {
	t.Helper()
	var status string
	err := db.WithConn(ctx, globalPool, schema, func(ctx context.Context) error {
		return db.ConnFromContext(ctx).QueryRow(ctx,
			`SELECT status FROM queue_status WHERE appointment_id = $1`, appointmentID).Scan(&status)
	})
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	return status
}

func TestQueue_SyncExampleScenario(t *testing.T) {
	ctx := context.Background()
	schema := newSchema(t, ctx, 0)
	doctor, clinic := uuid.New(), uuid.New()

	a := insertAppointment(t, ctx, schema, "A", "confirmed", clock(9, 0), doctor, clinic)
	b := insertAppointment(t, ctx, schema, "B", "checked_in", clock(8, 30), doctor, clinic)
	c := insertAppointment(t, ctx, schema, "C", "completed", clock(8, 0), doctor, clinic)
	insertAppointment(t, ctx, schema, "Tomorrow", "confirmed", clock(33, 0), doctor, clinic)

	r := newReconciler()
	res := syncIn(t, ctx, schema, r)

	if res.Appointments != 3 || res.Created != 3 {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := statusOf(t, ctx, schema, a.ID); got != "waiting" {
		t.Errorf("A = %s", got)
	}
	if got := statusOf(t, ctx, schema, b.ID); got != "in_progress" {
		t.Errorf("B = %s", got)
	}
	if got := statusOf(t, ctx, schema, c.ID); got != "completed" {
		t.Errorf("C = %s", got)
	}

	s := res.Snapshot
	if len(s.Waiting) != 1 || s.Waiting[0].PatientName != "A" {
		t.Errorf("waiting = %+v", s.Waiting)
	}
	if len(s.InProgress) != 1 || s.InProgress[0].PatientName != "B" {
		t.Errorf("in_progress = %+v", s.InProgress)
	}
	if len(s.Completed) != 1 || s.Completed[0].PatientName != "C" {
		t.Errorf("completed = %+v", s.Completed)
	}
}

func TestQueue_SyncIdempotent(t *testing.T) {
	ctx := context.Background()
	schema := newSchema(t, ctx, 0)
	doctor, clinic := uuid.New(), uuid.New()
	a := insertAppointment(t, ctx, schema, "A", "scheduled", clock(9, 0), doctor, clinic)
	insertAppointment(t, ctx, schema, "B", "in_progress", clock(9, 30), doctor, clinic)

	r := newReconciler()
	syncIn(t, ctx, schema, r)
	before := queryInt(t, ctx, schema, `SELECT COUNT(*) FROM queue_status WHERE updated_at = $1`, clock(10, 0))

	res := syncIn(t, ctx, schema, r)
	if res.Writes() != 0 || res.Unchanged != 2 {
		t.Errorf("second pass should be a no-op, got %+v", res)
	}
	if after := queryInt(t, ctx, schema, `SELECT COUNT(*) FROM queue_status WHERE updated_at = $1`, clock(10, 0)); after != before {
		t.Errorf("rows touched on second pass: %d -> %d", before, after)
	}

	execIn(t, ctx, schema, `UPDATE appointments SET status = 'cancelled' WHERE id = $1`, a.ID)
	res = syncIn(t, ctx, schema, r)
	if res.Updated != 1 || res.Changes[0].From != queue.StatusWaiting || res.Changes[0].To != queue.StatusCompleted {
		t.Errorf("expected waiting -> completed, got %+v", res.Changes)
	}
}

func TestQueue_ConcurrentPassesKeepOneEntryPerAppointment(t *testing.T) {
	ctx := context.Background()
	schema := newSchema(t, ctx, 0)
	doctor, clinic := uuid.New(), uuid.New()
	for i := 0; i < 10; i++ {
		insertAppointment(t, ctx, schema, "P", "confirmed", clock(8, i*5), doctor, clinic)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := newReconciler()
			errs <- db.WithConn(ctx, globalPool, schema, func(ctx context.Context) error {
				_, err := r.Sync(ctx, r.Today(), queue.Scope{})
				return err
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("concurrent pass failed: %v", err)
		}
	}

	if n := queryInt(t, ctx, schema, `SELECT COUNT(*) FROM queue_status`); n != 10 {
		t.Errorf("expected 10 entries, got %d", n)
	}
	if n := queryInt(t, ctx, schema,
		`SELECT COUNT(*) FROM (SELECT appointment_id FROM queue_status GROUP BY appointment_id HAVING COUNT(*) > 1) d`); n != 0 {
		t.Errorf("found %d appointments with duplicate entries", n)
	}
}

func TestQueue_ResetAndRecover(t *testing.T) {
	ctx := context.Background()
	schema := newSchema(t, ctx, 0)
	doctor, clinic := uuid.New(), uuid.New()
	a := insertAppointment(t, ctx, schema, "A", "checked_in", clock(9, 0), doctor, clinic)
	b := insertAppointment(t, ctx, schema, "B", "scheduled", clock(9, 30), doctor, clinic)

	r := newReconciler()
	syncIn(t, ctx, schema, r)

	err := db.WithConn(ctx, globalPool, schema, func(ctx context.Context) error {
		if _, err := r.Call(ctx, b.ID); err != nil {
			return err
		}
		res, err := r.Reset(ctx, r.Today(), queue.Scope{})
		if err != nil {
			return err
		}
		if len(res.Reset) != 2 {
			t.Errorf("expected 2 entries reset, got %d", len(res.Reset))
		}
		for _, e := range res.Reset {
			if e.Status != queue.StatusWaiting || e.CalledAt != nil || e.StartedAt != nil {
				t.Errorf("entry not cleared: %+v", e)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("call/reset: %v", err)
	}
	if n := queryInt(t, ctx, schema, `SELECT COUNT(*) FROM queue_status WHERE status = 'in_progress'`); n != 0 {
		t.Errorf("%d entries still in progress after reset", n)
	}

	syncIn(t, ctx, schema, r)
	if got := statusOf(t, ctx, schema, a.ID); got != "in_progress" {
		t.Errorf("A should be re-derived as in_progress, got %s", got)
	}
	if got := statusOf(t, ctx, schema, b.ID); got != "waiting" {
		t.Errorf("B should stay waiting, got %s", got)
	}
}

func TestQueue_CallAndComplete(t *testing.T) {
	ctx := context.Background()
	schema := newSchema(t, ctx, 0)
	a := insertAppointment(t, ctx, schema, "A", "confirmed", clock(9, 0), uuid.New(), uuid.New())

	r := newReconciler()
	syncIn(t, ctx, schema, r)

	err := db.WithConn(ctx, globalPool, schema, func(ctx context.Context) error {
		e, err := r.Call(ctx, a.ID)
		if err != nil {
			return err
		}
		if e.Status != queue.StatusInProgress || e.CalledAt == nil || !e.CalledAt.Equal(clock(10, 0)) {
			t.Errorf("unexpected entry after call %+v", e)
		}
		e, err = r.Complete(ctx, a.ID)
		if err != nil {
			return err
		}
		if e.Status != queue.StatusCompleted || e.CompletedAt == nil {
			t.Errorf("unexpected entry after complete %+v", e)
		}
		if _, err := r.Call(ctx, uuid.New()); !errors.Is(err, queue.ErrNotFound) {
			t.Errorf("expected not found, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transitions: %v", err)
	}
}

func TestQueue_SnapshotOrderingAndScope(t *testing.T) {
	ctx := context.Background()
	schema := newSchema(t, ctx, 0)
	drA, drB, clinic := uuid.New(), uuid.New(), uuid.New()
	insertAppointment(t, ctx, schema, "Early", "scheduled", clock(8, 0), drA, clinic)
	urgent := insertAppointment(t, ctx, schema, "Urgent", "scheduled", clock(11, 0), drA, clinic)
	insertAppointment(t, ctx, schema, "Late", "scheduled", clock(12, 0), drA, clinic)
	insertAppointment(t, ctx, schema, "Other doctor", "scheduled", clock(7, 0), drB, clinic)

	r := newReconciler()
	syncIn(t, ctx, schema, r)
	execIn(t, ctx, schema, `UPDATE queue_status SET priority = 1 WHERE appointment_id = $1`, urgent.ID)

	err := db.WithConn(ctx, globalPool, schema, func(ctx context.Context) error {
		s, err := r.Snapshot(ctx, r.Today(), queue.Scope{DoctorID: &drA})
		if err != nil {
			return err
		}
		var got []string
		for _, row := range s.Waiting {
			got = append(got, row.PatientName)
		}
		if strings.Join(got, ",") != "Urgent,Early,Late" {
			t.Errorf("unexpected waiting order %v", got)
		}
		if !s.Waiting[0].Urgent() {
			t.Error("expected first entry to be urgent")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
}

func TestQueue_MissingUniqueConstraint(t *testing.T) {
	ctx := context.Background()
	schema := newSchema(t, ctx, 1)
	insertAppointment(t, ctx, schema, "A", "confirmed", clock(9, 0), uuid.New(), uuid.New())

	r := newReconciler()
	err := db.WithConn(ctx, globalPool, schema, func(ctx context.Context) error {
		_, err := r.Sync(ctx, r.Today(), queue.Scope{})
		return err
	})
	if err == nil || !strings.Contains(err.Error(), "apply migrations") {
		t.Errorf("expected missing constraint error, got %v", err)
	}
}

func TestQueue_MigrationRemovesDuplicates(t *testing.T) {
	ctx := context.Background()
	schema := newSchema(t, ctx, 1)
	a := insertAppointment(t, ctx, schema, "A", "confirmed", clock(9, 0), uuid.New(), uuid.New())

	for i, status := range []string{"waiting", "in_progress"} {
		execIn(t, ctx, schema,
			`INSERT INTO queue_status (appointment_id, patient_id, doctor_id, clinic_id, status, updated_at)
			 SELECT id, patient_id, doctor_id, clinic_id, $2::varchar, $3::timestamp FROM appointments WHERE id = $1`,
			a.ID, status, clock(9, i))
	}

	if _, err := db.NewMigrator(globalPool, migrations.Files).Up(ctx, schema); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if n := queryInt(t, ctx, schema, `SELECT COUNT(*) FROM queue_status`); n != 1 {
		t.Errorf("expected duplicates to be collapsed, got %d rows", n)
	}
	if got := statusOf(t, ctx, schema, a.ID); got != "in_progress" {
		t.Errorf("expected the most recently updated row to survive, got %s", got)
	}
}

func TestQueue_OperationalZoneAheadOfServerClock(t *testing.T) {
	ctx := context.Background()
	schema := newSchema(t, ctx, 0)
	brt := time.FixedZone("BRT", -3*3600)
	a := insertAppointment(t, ctx, schema, "Late visit", "checked_in", time.Date(2024, 3, 5, 22, 0, 0, 0, brt), uuid.New(), uuid.New())

	// 22:30 in the clinic's zone, already the next day in UTC.
	r := queue.NewReconciler(queue.NewRepoPG(globalPool), zerolog.Nop(),
		queue.WithLocation(brt),
		queue.WithClock(func() time.Time { return time.Date(2024, 3, 6, 1, 30, 0, 0, time.UTC) }),
	)

	res := syncIn(t, ctx, schema, r)
	if res.Created != 1 || len(res.Snapshot.InProgress) != 1 {
		t.Fatalf("entry missing from its own snapshot: %+v", res)
	}
	if n := queryInt(t, ctx, schema,
		`SELECT COUNT(*) FROM queue_status WHERE created_at = '2024-03-05 22:30:00'`); n != 1 {
		t.Errorf("created_at not stored in the clinic's wall clock")
	}

	err := db.WithConn(ctx, globalPool, schema, func(ctx context.Context) error {
		reset, err := r.Reset(ctx, r.Today(), queue.Scope{})
		if err != nil {
			return err
		}
		if len(reset.Reset) != 1 {
			t.Errorf("expected 1 entry reset, got %d", len(reset.Reset))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if got := statusOf(t, ctx, schema, a.ID); got != "waiting" {
		t.Errorf("expected waiting after reset, got %s", got)
	}
}

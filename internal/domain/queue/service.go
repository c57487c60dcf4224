package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/queuesync/internal/platform/pubsub"
)

// Publisher receives queue changes after they are written. The database stays
// the source of truth, so publish failures are logged and never returned.
type Publisher interface {
	Publish(ctx context.Context, e pubsub.Event) error
	StoreSnapshot(ctx context.Context, day string, v interface{}) error
}

// Reconciler keeps queue_status consistent with the appointment ledger.
type Reconciler struct {
	repo   Repository
	logger zerolog.Logger
	pub    Publisher
	now    func() time.Time
	loc    *time.Location
}

type Option func(*Reconciler)

func WithPublisher(p Publisher) Option {
	return func(r *Reconciler) { r.pub = p }
}

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithLocation sets the zone used to compute the operational day.
func WithLocation(loc *time.Location) Option {
	return func(r *Reconciler) {
		if loc != nil {
			r.loc = loc
		}
	}
}

func NewReconciler(repo Repository, logger zerolog.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{repo: repo, logger: logger, now: time.Now, loc: time.Local}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// clock is the current time in the operational zone. Stored timestamps carry
// no zone, so every write must use the same wall clock as the day window.
func (r *Reconciler) clock() time.Time {
	return r.now().In(r.loc)
}

// Today is the operational day containing the current time.
func (r *Reconciler) Today() Window {
	return OperationalDay(r.clock(), r.loc)
}

// Sync runs one reconciliation pass over the appointments starting in w.
// On failure the partial result is returned with the error; entries written
// before the failure stay written and a rerun is safe.
func (r *Reconciler) Sync(ctx context.Context, w Window, s Scope) (*SyncResult, error) {
	res := &SyncResult{Day: w.Day(), Changes: []Change{}}

	appts, err := r.repo.ListAppointments(ctx, w, s)
	if err != nil {
		return res, fmt.Errorf("list appointments: %w", err)
	}
	res.Appointments = len(appts)

	for _, a := range appts {
		expected, known := MapAppointmentStatus(a.Status)
		if !known {
			res.Fallbacks++
			r.logger.Warn().
				Str("appointment_id", a.ID.String()).
				Str("status", string(a.Status)).
				Msg("unrecognised appointment status mapped to waiting")
		}

		ch, err := r.apply(ctx, a, expected)
		if err != nil {
			r.publishChanges(ctx, res.Changes)
			return res, fmt.Errorf("appointment %s: %w", a.ID, err)
		}

		r.logger.Debug().
			Str("appointment_id", a.ID.String()).
			Str("patient", a.PatientName).
			Str("from", string(ch.From)).
			Str("to", string(ch.To)).
			Str("action", string(ch.Action)).
			Msg("queue entry reconciled")

		switch ch.Action {
		case ActionCreated:
			res.Created++
		case ActionUpdated:
			res.Updated++
		default:
			res.Unchanged++
			continue
		}
		res.Changes = append(res.Changes, ch)
	}

	r.publishChanges(ctx, res.Changes)

	snap, err := r.Snapshot(ctx, w, s)
	if err != nil {
		return res, err
	}
	res.Snapshot = snap
	r.storeSnapshot(ctx, s, snap)

	r.logger.Info().
		Str("day", res.Day).
		Int("appointments", res.Appointments).
		Int("created", res.Created).
		Int("updated", res.Updated).
		Int("unchanged", res.Unchanged).
		Int("fallbacks", res.Fallbacks).
		Msg("queue reconciled")
	return res, nil
}

func (r *Reconciler) apply(ctx context.Context, a *AppointmentRecord, expected QueueStatus) (Change, error) {
	now := r.clock()
	ch := Change{
		AppointmentID: a.ID,
		PatientID:     a.PatientID,
		DoctorID:      a.DoctorID,
		ClinicID:      a.ClinicID,
		PatientName:   a.PatientName,
		To:            expected,
	}

	e := &QueueEntry{
		AppointmentID: a.ID,
		PatientID:     a.PatientID,
		DoctorID:      a.DoctorID,
		ClinicID:      a.ClinicID,
		Status:        expected,
	}
	action, previous, err := r.repo.Upsert(ctx, e, now)
	if errors.Is(err, ErrDuplicateEntry) {
		// Another pass inserted the entry first; fall back to the update path.
		r.logger.Warn().Str("appointment_id", a.ID.String()).Msg("concurrent insert, retrying as update")
		var id uuid.UUID
		id, previous, err = r.repo.UpdateStatus(ctx, a.ID, expected, now)
		if err != nil {
			return ch, err
		}
		e.ID = id
		action = ActionUpdated
		if previous == expected {
			action = ActionUnchanged
		}
	} else if err != nil {
		return ch, err
	}

	ch.Action = action
	ch.EntryID = e.ID
	if action == ActionUpdated {
		ch.From = previous
	}
	return ch, nil
}

// Reset moves every in_progress entry created in w back to waiting,
// regardless of what the ledger says about the appointment.
func (r *Reconciler) Reset(ctx context.Context, w Window, s Scope) (*ResetResult, error) {
	res := &ResetResult{Day: w.Day(), Reset: []*QueueEntry{}}

	entries, err := r.repo.ResetInProgress(ctx, w, s, r.clock())
	if err != nil {
		return res, fmt.Errorf("reset in-progress entries: %w", err)
	}
	if entries != nil {
		res.Reset = entries
	}

	for _, e := range entries {
		r.publish(ctx, pubsub.EventReset, e, StatusInProgress)
	}

	snap, err := r.Snapshot(ctx, w, s)
	if err != nil {
		return res, err
	}
	res.Snapshot = snap
	r.storeSnapshot(ctx, s, snap)

	r.logger.Info().Str("day", res.Day).Int("reset", len(res.Reset)).Msg("stuck queue entries reset to waiting")
	return res, nil
}

// Call marks the patient as called in and being seen.
func (r *Reconciler) Call(ctx context.Context, appointmentID uuid.UUID) (*QueueEntry, error) {
	e, err := r.repo.MarkCalled(ctx, appointmentID, r.clock())
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", appointmentID, err)
	}
	r.publish(ctx, pubsub.EventCalled, e, "")
	r.logger.Info().Str("appointment_id", appointmentID.String()).Msg("patient called")
	return e, nil
}

// Complete marks the consultation as finished.
func (r *Reconciler) Complete(ctx context.Context, appointmentID uuid.UUID) (*QueueEntry, error) {
	e, err := r.repo.MarkCompleted(ctx, appointmentID, r.clock())
	if err != nil {
		return nil, fmt.Errorf("complete %s: %w", appointmentID, err)
	}
	r.publish(ctx, pubsub.EventCompleted, e, "")
	r.logger.Info().Str("appointment_id", appointmentID.String()).Msg("consultation completed")
	return e, nil
}

// Snapshot reads the queue for w without writing anything.
func (r *Reconciler) Snapshot(ctx context.Context, w Window, s Scope) (*Snapshot, error) {
	rows, err := r.repo.ListQueue(ctx, w, s)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	return BuildSnapshot(w.Day(), r.clock(), rows), nil
}

func (r *Reconciler) publishChanges(ctx context.Context, changes []Change) {
	if r.pub == nil {
		return
	}
	for _, ch := range changes {
		typ := pubsub.EventUpdated
		if ch.Action == ActionCreated {
			typ = pubsub.EventCreated
		}
		r.send(ctx, pubsub.Event{
			Type:          typ,
			ClinicID:      ch.ClinicID,
			AppointmentID: ch.AppointmentID,
			QueueEntryID:  ch.EntryID,
			From:          string(ch.From),
			To:            string(ch.To),
			Timestamp:     r.clock(),
		})
	}
}

func (r *Reconciler) publish(ctx context.Context, typ string, e *QueueEntry, from QueueStatus) {
	if r.pub == nil {
		return
	}
	r.send(ctx, pubsub.Event{
		Type:          typ,
		ClinicID:      e.ClinicID,
		AppointmentID: e.AppointmentID,
		QueueEntryID:  e.ID,
		From:          string(from),
		To:            string(e.Status),
		Timestamp:     r.clock(),
	})
}

func (r *Reconciler) send(ctx context.Context, e pubsub.Event) {
	if err := r.pub.Publish(ctx, e); err != nil {
		r.logger.Warn().Err(err).Str("type", e.Type).Str("appointment_id", e.AppointmentID.String()).Msg("failed to publish queue event")
	}
}

// storeSnapshot caches only unscoped snapshots; the key is per day.
func (r *Reconciler) storeSnapshot(ctx context.Context, s Scope, snap *Snapshot) {
	if r.pub == nil || !s.All() {
		return
	}
	if err := r.pub.StoreSnapshot(ctx, snap.Day, snap); err != nil {
		r.logger.Warn().Err(err).Str("day", snap.Day).Msg("failed to store queue snapshot")
	}
}

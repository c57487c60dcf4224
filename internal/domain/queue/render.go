package queue

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const ruleWidth = 80

// Renderer writes the operator report. Styling degrades to plain text when
// the writer is not a terminal.
type Renderer struct {
	w       io.Writer
	title   lipgloss.Style
	header  lipgloss.Style
	urgent  lipgloss.Style
	muted   lipgloss.Style
	created lipgloss.Style
	updated lipgloss.Style
}

func NewRenderer(w io.Writer) *Renderer {
	lr := lipgloss.NewRenderer(w)
	return &Renderer{
		w:       w,
		title:   lr.NewStyle().Bold(true),
		header:  lr.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		urgent:  lr.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		muted:   lr.NewStyle().Faint(true),
		created: lr.NewStyle().Foreground(lipgloss.Color("10")),
		updated: lr.NewStyle().Foreground(lipgloss.Color("11")),
	}
}

// RenderSync writes the per-appointment decisions of a pass followed by the
// final queue.
func (r *Renderer) RenderSync(res *SyncResult) {
	fmt.Fprintf(r.w, "Found %d appointments for %s\n\n", res.Appointments, res.Day)
	for _, ch := range res.Changes {
		switch ch.Action {
		case ActionCreated:
			fmt.Fprintf(r.w, "  %s %-30s | %s\n", r.created.Render("Created:"), ch.PatientName, ch.To)
		case ActionUpdated:
			fmt.Fprintf(r.w, "  %s %-30s | %s -> %s\n", r.updated.Render("Updated:"), ch.PatientName, ch.From, ch.To)
		}
	}
	fmt.Fprintf(r.w, "\nCreated: %d, Updated: %d, Unchanged: %d", res.Created, res.Updated, res.Unchanged)
	if res.Fallbacks > 0 {
		fmt.Fprintf(r.w, ", Unrecognised statuses: %d", res.Fallbacks)
	}
	fmt.Fprintln(r.w)
	if res.Snapshot != nil {
		fmt.Fprintln(r.w)
		r.RenderSnapshot(res.Snapshot)
	}
}

// RenderReset lists the entries moved back to waiting and the resulting queue.
func (r *Renderer) RenderReset(res *ResetResult) {
	fmt.Fprintf(r.w, "Reset %d in-progress entries to waiting for %s\n", len(res.Reset), res.Day)
	for _, e := range res.Reset {
		fmt.Fprintf(r.w, "  - appointment %s\n", e.AppointmentID)
	}
	if res.Snapshot != nil {
		fmt.Fprintln(r.w)
		r.RenderSnapshot(res.Snapshot)
	}
}

func (r *Renderer) RenderSnapshot(s *Snapshot) {
	fmt.Fprintln(r.w, r.title.Render(fmt.Sprintf("Queue for %s (%d entries)", s.Day, s.Total())))
	fmt.Fprintln(r.w, strings.Repeat("=", ruleWidth))

	r.bucket("WAITING", s.Bucket(StatusWaiting), true)
	r.bucket("IN PROGRESS", s.Bucket(StatusInProgress), false)
	r.bucket("COMPLETED", s.Bucket(StatusCompleted), false)
}

func (r *Renderer) bucket(name string, rows []*SnapshotRow, numbered bool) {
	fmt.Fprintf(r.w, "\n%s\n", r.header.Render(fmt.Sprintf("%s (%d):", name, len(rows))))
	if len(rows) == 0 {
		fmt.Fprintf(r.w, "  %s\n", r.muted.Render("(None)"))
		return
	}
	for i, row := range rows {
		if numbered {
			flag := "Normal"
			if row.Urgent() {
				flag = r.urgent.Render("URGENT")
			}
			fmt.Fprintf(r.w, "  %d. %-30s | %s | %s\n", i+1, row.PatientName, startTime(row), flag)
			continue
		}
		fmt.Fprintf(r.w, "  - %-30s | %s\n", row.PatientName, startTime(row))
	}
}

func startTime(row *SnapshotRow) string {
	if row.StartTime == nil {
		return "N/A"
	}
	return row.StartTime.Format("15:04")
}

// Package lifecycle owns the job status transition rules and derived-field
// recomputation. It is pure: callers hand in the current snapshot plus the
// proposed edit and get back the next snapshot with the audit rows to record,
// or an error and no mutation. Persistence belongs to the caller.
package lifecycle

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"field-dispatch/internal/models"
)

// Mutable field names accepted by ApplyFieldUpdate.
const (
	FieldStatus     = "status"
	FieldMaterials  = "materials"
	FieldPrice      = "price"
	FieldPartsCost  = "parts_cost"
	FieldNotes      = "notes"
	FieldReceiptURL = "receipt_url"
)

// MutableFields is the set of job fields a caller may edit directly.
// Profit is absent on purpose: it is derived and the engine is its sole writer.
var MutableFields = map[string]bool{
	FieldStatus:     true,
	FieldMaterials:  true,
	FieldPrice:      true,
	FieldPartsCost:  true,
	FieldNotes:      true,
	FieldReceiptURL: true,
}

// ComputeProfit returns max(0, price - partsCost) rounded to 2 decimal places.
// A nil operand counts as zero. Total function; never fails.
func ComputeProfit(price, partsCost *float64) float64 {
	var p, c float64
	if price != nil {
		p = *price
	}
	if partsCost != nil {
		c = *partsCost
	}
	profit := math.Round((p-c)*100) / 100
	if profit < 0 {
		return 0
	}
	return profit
}

// CanComplete reports whether job may transition to completed: a receipt
// reference must be on file. The UI uses this to restrict offered statuses,
// but the authoritative check is the one at commit time.
func CanComplete(job models.Job) bool {
	return strings.TrimSpace(job.ReceiptURL) != ""
}

// ApplyFieldUpdate sets one mutable field to the raw form value newValue and
// returns the next snapshot plus the audit rows describing the change.
// Numeric fields are parsed defensively; an empty value clears them. Setting a
// field to its current value is a no-op: no audit row, no updated_at bump.
func ApplyFieldUpdate(job models.Job, field, newValue, actor string, now time.Time) (models.Job, []models.JobUpdate, error) {
	if !MutableFields[field] {
		return job, nil, &ValidationError{Field: field, Reason: "not an editable field"}
	}

	next := job
	var oldVal, newVal *string

	switch field {
	case FieldStatus:
		status := models.Status(newValue)
		if !status.Valid() {
			return job, nil, &ValidationError{Field: field, Reason: fmt.Sprintf("unknown status %q", newValue)}
		}
		if status == models.StatusCompleted && !CanComplete(job) {
			return job, nil, fmt.Errorf("complete job %s without receipt: %w", job.JobNumber, ErrTransitionDenied)
		}
		oldVal, newVal = strPtr(string(job.Status)), strPtr(string(status))
		next.Status = status

	case FieldPrice:
		v, err := parseMoney(field, newValue)
		if err != nil {
			return job, nil, err
		}
		oldVal, newVal = moneyString(job.Price), moneyString(v)
		next.Price = v
		next.Profit = ComputeProfit(next.Price, next.PartsCost)

	case FieldPartsCost:
		v, err := parseMoney(field, newValue)
		if err != nil {
			return job, nil, err
		}
		oldVal, newVal = moneyString(job.PartsCost), moneyString(v)
		next.PartsCost = v
		next.Profit = ComputeProfit(next.Price, next.PartsCost)

	case FieldMaterials:
		oldVal, newVal = strPtr(job.Materials), strPtr(newValue)
		next.Materials = newValue

	case FieldNotes:
		oldVal, newVal = strPtr(job.Notes), strPtr(newValue)
		next.Notes = newValue

	case FieldReceiptURL:
		oldVal, newVal = strPtr(job.ReceiptURL), strPtr(newValue)
		next.ReceiptURL = newValue
	}

	if strEqual(oldVal, newVal) {
		return job, nil, nil
	}

	next.UpdatedAt = now.UTC()
	entry := models.JobUpdate{
		JobID:    job.ID,
		Field:    field,
		Old:      oldVal,
		New:      newVal,
		Actor:    actor,
		Recorded: now.UTC(),
	}
	return next, []models.JobUpdate{entry}, nil
}

// FormSnapshot is a full edit form as submitted. Money fields arrive as raw
// form strings; Profit is accepted but ignored since the engine recomputes it.
type FormSnapshot struct {
	Status    string `json:"status"`
	Materials string `json:"materials"`
	Price     string `json:"price"`
	PartsCost string `json:"parts_cost"`
	Profit    string `json:"job_profit"`
	Notes     string `json:"notes"`
}

// ApplyBulkUpdate reconciles a full form snapshot against the current job.
// All-or-nothing: any validation or guard failure leaves the job untouched and
// produces no audit rows. One audit row per field whose value actually changed.
// The completed guard checks the receipt on the stored job, never the form.
func ApplyBulkUpdate(job models.Job, form FormSnapshot, actor string, now time.Time) (models.Job, []models.JobUpdate, error) {
	status := models.Status(form.Status)
	if !status.Valid() {
		return job, nil, &ValidationError{Field: FieldStatus, Reason: fmt.Sprintf("unknown status %q", form.Status)}
	}
	price, err := parseMoney(FieldPrice, form.Price)
	if err != nil {
		return job, nil, err
	}
	partsCost, err := parseMoney(FieldPartsCost, form.PartsCost)
	if err != nil {
		return job, nil, err
	}
	if status == models.StatusCompleted && !CanComplete(job) {
		return job, nil, fmt.Errorf("complete job %s without receipt: %w", job.JobNumber, ErrTransitionDenied)
	}

	next := job
	next.Status = status
	next.Materials = form.Materials
	next.Price = price
	next.PartsCost = partsCost
	next.Notes = form.Notes
	next.Profit = ComputeProfit(price, partsCost)

	ts := now.UTC()
	var entries []models.JobUpdate
	diff := func(field string, oldVal, newVal *string) {
		if strEqual(oldVal, newVal) {
			return
		}
		entries = append(entries, models.JobUpdate{
			JobID:    job.ID,
			Field:    field,
			Old:      oldVal,
			New:      newVal,
			Actor:    actor,
			Recorded: ts,
		})
	}
	diff(FieldStatus, strPtr(string(job.Status)), strPtr(string(next.Status)))
	diff(FieldMaterials, strPtr(job.Materials), strPtr(next.Materials))
	diff(FieldPrice, moneyString(job.Price), moneyString(next.Price))
	diff(FieldPartsCost, moneyString(job.PartsCost), moneyString(next.PartsCost))
	diff(FieldNotes, strPtr(job.Notes), strPtr(next.Notes))

	if len(entries) == 0 {
		return job, nil, nil
	}
	next.UpdatedAt = ts
	return next, entries, nil
}

// ApplyAssignment hands the job to a subcontractor and moves it to assigned.
// Terminal jobs cannot be reassigned.
func ApplyAssignment(job models.Job, subcontractorID, actor string, now time.Time) (models.Job, []models.JobUpdate, error) {
	if strings.TrimSpace(subcontractorID) == "" {
		return job, nil, &ValidationError{Field: "subcontractor_id", Reason: "must not be empty"}
	}
	if job.Status.Terminal() {
		return job, nil, fmt.Errorf("assign %s job %s: %w", job.Status, job.JobNumber, ErrTransitionDenied)
	}

	next := job
	next.SubcontractorID = strPtr(subcontractorID)
	next.Status = models.StatusAssigned

	ts := now.UTC()
	var entries []models.JobUpdate
	if !strEqual(job.SubcontractorID, next.SubcontractorID) {
		entries = append(entries, models.JobUpdate{
			JobID: job.ID, Field: "subcontractor_id",
			Old: job.SubcontractorID, New: next.SubcontractorID,
			Actor: actor, Recorded: ts,
		})
	}
	if job.Status != next.Status {
		entries = append(entries, models.JobUpdate{
			JobID: job.ID, Field: FieldStatus,
			Old: strPtr(string(job.Status)), New: strPtr(string(next.Status)),
			Actor: actor, Recorded: ts,
		})
	}
	if len(entries) == 0 {
		return job, nil, nil
	}
	next.UpdatedAt = ts
	return next, entries, nil
}

// parseMoney turns a raw form value into an optional non-negative amount,
// rounded to cents. Empty input clears the field.
func parseMoney(field, raw string) (*float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, &ValidationError{Field: field, Reason: fmt.Sprintf("%q is not a number", raw)}
	}
	if v < 0 {
		return nil, &ValidationError{Field: field, Reason: "must not be negative"}
	}
	v = math.Round(v*100) / 100
	return &v, nil
}

// moneyString renders an optional amount the way the audit log stores values.
func moneyString(v *float64) *string {
	if v == nil {
		return nil
	}
	s := strconv.FormatFloat(*v, 'f', 2, 64)
	return &s
}

func strPtr(s string) *string {
	return &s
}

func strEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

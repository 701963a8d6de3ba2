package lifecycle

import (
	"errors"
	"testing"
	"time"

	"field-dispatch/internal/models"
)

func f(v float64) *float64 { return &v }

func baseJob() models.Job {
	return models.Job{
		ID:        "8c2f9a1e-0000-0000-0000-000000000001",
		JobNumber: "JOB-1042",
		Status:    models.StatusInProgress,
		CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestComputeProfit(t *testing.T) {
	cases := []struct {
		name  string
		price *float64
		parts *float64
		want  float64
	}{
		{"both set", f(100.00), f(35.50), 64.50},
		{"clamps to zero", f(20.00), f(50.00), 0},
		{"nil price acts as zero", nil, f(12.00), 0},
		{"nil parts acts as zero", f(75.25), nil, 75.25},
		{"both nil", nil, nil, 0},
		{"rounds to cents", f(10.006), f(0), 10.01},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ComputeProfit(tc.price, tc.parts); got != tc.want {
				t.Fatalf("ComputeProfit = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCompleteRequiresReceipt(t *testing.T) {
	job := baseJob()
	now := time.Now()

	_, entries, err := ApplyFieldUpdate(job, FieldStatus, "completed", "admin", now)
	if !errors.Is(err, ErrTransitionDenied) {
		t.Fatalf("expected ErrTransitionDenied, got %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("denied transition must not produce audit rows, got %d", len(entries))
	}

	job.ReceiptURL = "s3://receipts/JOB-1042.pdf"
	next, entries, err := ApplyFieldUpdate(job, FieldStatus, "completed", "admin", now)
	if err != nil {
		t.Fatalf("completion with receipt: %v", err)
	}
	if next.Status != models.StatusCompleted {
		t.Fatalf("status = %s, want completed", next.Status)
	}
	if len(entries) != 1 || entries[0].Field != FieldStatus {
		t.Fatalf("expected one status audit row, got %+v", entries)
	}
	if *entries[0].Old != "in_progress" || *entries[0].New != "completed" {
		t.Fatalf("audit row old/new = %v/%v", *entries[0].Old, *entries[0].New)
	}
}

func TestApplyFieldUpdatePriceRecomputesProfit(t *testing.T) {
	job := baseJob()
	job.PartsCost = f(35.50)
	now := time.Now()

	next, entries, err := ApplyFieldUpdate(job, FieldPrice, "100.00", "admin", now)
	if err != nil {
		t.Fatalf("set price: %v", err)
	}
	if next.Price == nil || *next.Price != 100.00 {
		t.Fatalf("price = %v, want 100.00", next.Price)
	}
	if next.Profit != 64.50 {
		t.Fatalf("profit = %v, want 64.50", next.Profit)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one audit row, got %d", len(entries))
	}
	if entries[0].Old != nil {
		t.Fatalf("old price should be null, got %q", *entries[0].Old)
	}
	if *entries[0].New != "100.00" {
		t.Fatalf("new price = %q, want 100.00", *entries[0].New)
	}
	if !next.UpdatedAt.After(job.UpdatedAt) {
		t.Fatalf("updated_at not bumped")
	}
}

func TestApplyFieldUpdateClearsMoney(t *testing.T) {
	job := baseJob()
	job.Price = f(100)
	job.PartsCost = f(40)
	job.Profit = 60

	next, entries, err := ApplyFieldUpdate(job, FieldPrice, "", "admin", time.Now())
	if err != nil {
		t.Fatalf("clear price: %v", err)
	}
	if next.Price != nil {
		t.Fatalf("price not cleared: %v", *next.Price)
	}
	if next.Profit != 0 {
		t.Fatalf("profit = %v, want 0 after clearing price", next.Profit)
	}
	if len(entries) != 1 || entries[0].New != nil {
		t.Fatalf("expected one audit row with null new value, got %+v", entries)
	}
}

func TestApplyFieldUpdateRejectsBadInput(t *testing.T) {
	job := baseJob()
	now := time.Now()

	for _, tc := range []struct{ field, value string }{
		{FieldPrice, "abc"},
		{FieldPartsCost, "12,50"},
		{FieldPrice, "-5"},
		{FieldStatus, "done"},
		{"job_profit", "99"},
		{"customer_name", "Eve"},
	} {
		_, entries, err := ApplyFieldUpdate(job, tc.field, tc.value, "admin", now)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("field %s value %q: expected ValidationError, got %v", tc.field, tc.value, err)
		}
		if len(entries) != 0 {
			t.Fatalf("rejected edit must not produce audit rows")
		}
	}
}

func TestApplyFieldUpdateNoOp(t *testing.T) {
	job := baseJob()
	job.Notes = "call before arriving"

	next, entries, err := ApplyFieldUpdate(job, FieldNotes, "call before arriving", "admin", time.Now())
	if err != nil {
		t.Fatalf("no-op edit: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("no-op edit produced %d audit rows", len(entries))
	}
	if !next.UpdatedAt.Equal(job.UpdatedAt) {
		t.Fatalf("no-op edit bumped updated_at")
	}
}

func TestApplyFieldUpdateRoundTrip(t *testing.T) {
	job := baseJob()
	now := time.Now()

	for _, tc := range []struct{ field, value string }{
		{FieldMaterials, "2x copper pipe, solder"},
		{FieldNotes, "tenant has a dog"},
		{FieldReceiptURL, "s3://receipts/JOB-1042.jpg"},
	} {
		next, _, err := ApplyFieldUpdate(job, tc.field, tc.value, "admin", now)
		if err != nil {
			t.Fatalf("set %s: %v", tc.field, err)
		}
		var got string
		switch tc.field {
		case FieldMaterials:
			got = next.Materials
		case FieldNotes:
			got = next.Notes
		case FieldReceiptURL:
			got = next.ReceiptURL
		}
		if got != tc.value {
			t.Fatalf("%s round-trip: got %q, want %q", tc.field, got, tc.value)
		}
	}
}

func TestApplyBulkUpdateDiffSuppression(t *testing.T) {
	job := baseJob()
	job.Materials = "filter"
	job.Notes = "gate code 4411"
	job.Price = f(80)
	job.PartsCost = f(10)
	job.Profit = 70

	form := FormSnapshot{
		Status:    string(job.Status),
		Materials: job.Materials,
		Notes:     job.Notes,
		Price:     "120.00",
		PartsCost: "10",
		Profit:    "9999", // caller-supplied profit is ignored
	}
	next, entries, err := ApplyBulkUpdate(job, form, "admin", time.Now())
	if err != nil {
		t.Fatalf("bulk update: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one audit row, got %d: %+v", len(entries), entries)
	}
	if entries[0].Field != FieldPrice {
		t.Fatalf("audit row field = %s, want price", entries[0].Field)
	}
	if next.Profit != 110.00 {
		t.Fatalf("profit = %v, want engine-computed 110.00", next.Profit)
	}
}

func TestApplyBulkUpdateAllOrNothing(t *testing.T) {
	job := baseJob()
	form := FormSnapshot{
		Status:    "completed", // no receipt on the stored job
		Materials: "everything changed",
		Price:     "500",
		PartsCost: "100",
		Notes:     "done",
	}
	next, entries, err := ApplyBulkUpdate(job, form, "admin", time.Now())
	if !errors.Is(err, ErrTransitionDenied) {
		t.Fatalf("expected ErrTransitionDenied, got %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("denied bulk update produced audit rows")
	}
	if next.Materials != job.Materials || next.Price != nil {
		t.Fatalf("denied bulk update mutated the job: %+v", next)
	}
}

func TestApplyBulkUpdateGuardUsesStoredReceipt(t *testing.T) {
	job := baseJob()
	job.ReceiptURL = "s3://receipts/JOB-1042.pdf"

	form := FormSnapshot{Status: "completed"}
	next, _, err := ApplyBulkUpdate(job, form, "admin", time.Now())
	if err != nil {
		t.Fatalf("bulk completion with stored receipt: %v", err)
	}
	if next.Status != models.StatusCompleted {
		t.Fatalf("status = %s, want completed", next.Status)
	}
}

func TestApplyAssignment(t *testing.T) {
	job := baseJob()
	job.Status = models.StatusPending

	next, entries, err := ApplyAssignment(job, "sub-7", "dispatcher", time.Now())
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if next.Status != models.StatusAssigned {
		t.Fatalf("status = %s, want assigned", next.Status)
	}
	if next.SubcontractorID == nil || *next.SubcontractorID != "sub-7" {
		t.Fatalf("subcontractor = %v, want sub-7", next.SubcontractorID)
	}
	if len(entries) != 2 {
		t.Fatalf("expected subcontractor_id and status audit rows, got %d", len(entries))
	}

	done := baseJob()
	done.Status = models.StatusCancelled
	if _, _, err := ApplyAssignment(done, "sub-7", "dispatcher", time.Now()); !errors.Is(err, ErrTransitionDenied) {
		t.Fatalf("assigning a cancelled job: expected ErrTransitionDenied, got %v", err)
	}
}

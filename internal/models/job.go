package models

import (
	"time"
)

// Status is the lifecycle state of a job as stored in Postgres.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Statuses lists every valid status in conventional lifecycle order.
var Statuses = []Status{StatusPending, StatusAssigned, StatusInProgress, StatusCompleted, StatusCancelled}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAssigned, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether a job in this status is closed out.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Job is a unit of field-service work tracked from intake to completion.
// JobNumber is the human-facing identifier; ID is the store-assigned identity.
// Profit is derived from Price and PartsCost and is only ever written by the
// lifecycle engine.
type Job struct {
	ID              string    `json:"id"`
	JobNumber       string    `json:"job_number"`
	CustomerName    string    `json:"customer_name"`
	CustomerPhone   string    `json:"customer_phone"`
	Address         string    `json:"address"`
	Issue           string    `json:"issue"`
	Status          Status    `json:"status"`
	Price           *float64  `json:"price,omitempty"`
	PartsCost       *float64  `json:"parts_cost,omitempty"`
	Profit          float64   `json:"job_profit"`
	ReceiptURL      string    `json:"receipt_url,omitempty"`
	SubcontractorID *string   `json:"subcontractor_id,omitempty"`
	Materials       string    `json:"materials,omitempty"`
	Notes           string    `json:"notes,omitempty"`
	PublicToken     *string   `json:"public_token,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// JobUpdate is one audit row: a single field's value change on a job.
// Rows are append-only and never mutated.
type JobUpdate struct {
	JobID    string    `json:"job_id"`
	Field    string    `json:"field"`
	Old      *string   `json:"old"`
	New      *string   `json:"new"`
	Actor    string    `json:"actor"`
	Recorded time.Time `json:"recorded_at"`
}

// Subcontractor is the external party a job can be assigned to.
// Read-only from the lifecycle engine's perspective.
type Subcontractor struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Phone  string `json:"phone"`
	Region string `json:"region"`
}

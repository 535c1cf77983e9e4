package submission

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of an activity submission.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSubmitted Status = "submitted"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCompleted Status = "completed"
)

// Submission is one saved activity form for an application. ID increases
// with insertion order.
type Submission struct {
	ID            int64           `db:"id" json:"id"`
	ApplicationID int64           `db:"application_id" json:"application_id"`
	TemplateID    string          `db:"template_id" json:"template_id"`
	ActivityType  string          `db:"activity_type" json:"activity_type"`
	Payload       json.RawMessage `db:"payload" json:"payload"`
	Status        Status          `db:"status" json:"status"`
	SubmittedAt   *time.Time      `db:"submitted_at" json:"submitted_at,omitempty"`
	ReviewedBy    string          `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt    *time.Time      `db:"reviewed_at" json:"reviewed_at,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// Decision is an admin review outcome.
type Decision string

const (
	DecisionApprove  Decision = "approve"
	DecisionReject   Decision = "reject"
	DecisionComplete Decision = "complete"
)

package application

import "time"

// Phase is the coarse workflow phase an application sits in.
type Phase string

const (
	PhaseIntake     Phase = "intake"
	PhaseReview     Phase = "review"
	PhaseAssignment Phase = "contractor_assignment"
	PhaseDelivery   Phase = "implementation"
	PhaseClosed     Phase = "closed"
)

// Status is the stored base status. It is only changed by explicit workflow
// transitions and is distinct from the detailed status derived from
// submission history.
type Status string

const (
	StatusPending  Status = "pending"
	StatusInReview Status = "in_review"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusClosed   Status = "closed"
)

// Application is one energy-program application.
type Application struct {
	ID           int64     `db:"id" json:"id"`
	Identifier   string    `db:"identifier" json:"identifier"`
	CompanyID    int64     `db:"company_id" json:"company_id"`
	FacilityID   int64     `db:"facility_id" json:"facility_id"`
	ActivityType string    `db:"activity_type" json:"activity_type"`
	Phase        Phase     `db:"phase" json:"phase"`
	Status       Status    `db:"status" json:"status"`
	CreatedBy    string    `db:"created_by" json:"created_by"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Filter narrows application listings. Zero values match everything.
type Filter struct {
	CompanyID  int64
	FacilityID int64
}

// ValidPhase reports whether p is a known phase.
func ValidPhase(p Phase) bool {
	switch p {
	case PhaseIntake, PhaseReview, PhaseAssignment, PhaseDelivery, PhaseClosed:
		return true
	}
	return false
}

// ValidStatus reports whether s is a known base status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusInReview, StatusApproved, StatusRejected, StatusClosed:
		return true
	}
	return false
}

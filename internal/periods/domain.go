// Package periods owns the accounting period lifecycle and the posting guard.
package periods

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Status enumerates period states.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// Period is one company-scoped calendar month.
type Period struct {
	ID           int64      `json:"id"`
	CompanyID    int64      `json:"company_id"`
	Year         int        `json:"year"`
	Month        int        `json:"month"`
	StartDate    time.Time  `json:"start_date"`
	EndDate      time.Time  `json:"end_date"`
	Status       Status     `json:"status"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
	ClosedBy     *int64     `json:"closed_by,omitempty"`
	ReopenReason string     `json:"reopen_reason,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Code renders "2024-03".
func (p Period) Code() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// Covers reports start <= date <= end, comparing calendar days.
func (p Period) Covers(date time.Time) bool {
	d := dateOnly(date)
	return !d.Before(dateOnly(p.StartDate)) && !d.After(dateOnly(p.EndDate))
}

// CreatePeriodInput describes a new month.
type CreatePeriodInput struct {
	CompanyID int64
	Year      int
	Month     int
}

// Validate checks the month is sane.
func (in CreatePeriodInput) Validate() error {
	if in.CompanyID == 0 {
		return shared.Errorf(shared.KindValidation, "company required")
	}
	if in.Year < 1900 || in.Year > 9999 {
		return shared.Errorf(shared.KindValidation, "year %d out of range", in.Year)
	}
	if in.Month < 1 || in.Month > 12 {
		return shared.Errorf(shared.KindValidation, "month %d out of range", in.Month)
	}
	return nil
}

// Bounds returns the first and last day of the month.
func (in CreatePeriodInput) Bounds() (time.Time, time.Time) {
	start := time.Date(in.Year, time.Month(in.Month), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, -1)
}

// Policy toggles lifecycle rules per deployment.
type Policy struct {
	AllowReopen bool
}

// DefaultPolicy permits unlimited reopen with a reason.
var DefaultPolicy = Policy{AllowReopen: true}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal records from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

DATES:
  Calendar dates are "YYYY-MM-DD"; instants are RFC 3339.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/payroll-engine/payroll"
)

// RunBatchRequest starts or resumes the batch of a company.
type RunBatchRequest struct {
	Company   string `json:"company"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

type BatchDTO struct {
	ID        string `json:"id"`
	Company   string `json:"company"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// CheckpointDTO is a batch object as shown on the batch page.
type CheckpointDTO struct {
	ID         string `json:"id"`
	Seq        int64  `json:"seq"`
	ObjectType string `json:"object_type"`
	ObjectID   string `json:"object_id"`
	EmployeeID string `json:"employee_id"`
	Status     string `json:"status"`
	Notes      string `json:"notes,omitempty"`
	CreatedAt  string `json:"created_at,omitempty"`
}

type ActionLogDTO struct {
	ID         string `json:"id"`
	Timestamp  string `json:"timestamp"`
	Action     string `json:"action"`
	ActionType string `json:"action_type,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toBatchDTO(b payroll.Batch) BatchDTO {
	return BatchDTO{
		ID:        string(b.ID),
		Company:   string(b.Company),
		StartDate: b.StartDate.String(),
		EndDate:   b.EndDate.String(),
		Status:    string(b.Status),
		CreatedAt: formatTime(b.CreatedAt),
		UpdatedAt: formatTime(b.UpdatedAt),
	}
}

func toCheckpointDTO(c payroll.Checkpoint) CheckpointDTO {
	return CheckpointDTO{
		ID:         c.ID,
		Seq:        c.Seq,
		ObjectType: string(c.ObjectType),
		ObjectID:   c.ObjectID,
		EmployeeID: string(c.EmployeeID),
		Status:     c.Status,
		Notes:      c.Notes,
		CreatedAt:  formatTime(c.CreatedAt),
	}
}

func toActionLogDTO(l payroll.ActionLog) ActionLogDTO {
	return ActionLogDTO{
		ID:         l.ID,
		Timestamp:  formatTime(l.Timestamp),
		Action:     l.Action,
		ActionType: l.ActionType,
		Notes:      l.Notes,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// Package tracker is the general-purpose support-ticket subsystem. It
// is independent of the queue: its own collection, its own lifecycle,
// consumed by a different surface. Live updates come from polling
// ListChangedSince rather than from the queue's snapshot machinery.
package tracker

import (
	"context"
	"errors"
	"time"
)

type Ticket struct {
	TicketID    string    `json:"ticket_id"`
	Subject     string    `json:"subject"`
	Description string    `json:"description,omitempty"`
	Requester   string    `json:"requester"`
	AssignedTo  *string   `json:"assigned_to,omitempty"`
	Status      string    `json:"status"`
	Priority    string    `json:"priority"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

const (
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusResolved   = "resolved"
	StatusClosed     = "closed"
)

const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

var (
	ErrTicketNotFound  = errors.New("tracker ticket not found")
	ErrInvalidStatus   = errors.New("invalid tracker status")
	ErrInvalidPriority = errors.New("invalid tracker priority")
	ErrEmptyPatch      = errors.New("empty patch")
)

func IsValidStatus(status string) bool {
	switch status {
	case StatusOpen, StatusInProgress, StatusResolved, StatusClosed:
		return true
	}
	return false
}

func IsValidPriority(priority string) bool {
	switch priority {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return true
	}
	return false
}

type CreateInput struct {
	Subject     string
	Description string
	Requester   string
	Priority    string
	CreatedAt   time.Time
}

// Patch is a typed partial update. Nil fields stay untouched; set
// fields are validated one by one before anything is written.
type Patch struct {
	Subject     *string
	Description *string
	Status      *string
	Priority    *string
	AssignedTo  *string
}

func (p Patch) Validate() error {
	if p.Subject == nil && p.Description == nil && p.Status == nil && p.Priority == nil && p.AssignedTo == nil {
		return ErrEmptyPatch
	}
	if p.Status != nil && !IsValidStatus(*p.Status) {
		return ErrInvalidStatus
	}
	if p.Priority != nil && !IsValidPriority(*p.Priority) {
		return ErrInvalidPriority
	}
	return nil
}

type Store interface {
	Create(ctx context.Context, input CreateInput) (Ticket, error)
	Get(ctx context.Context, ticketID string) (Ticket, bool, error)
	List(ctx context.Context, status string) ([]Ticket, error)
	Update(ctx context.Context, ticketID string, patch Patch) (Ticket, error)
	Delete(ctx context.Context, ticketID string) error

	// ListChangedSince returns tickets updated after the given instant,
	// oldest change first. The realtime poll loop feeds these to
	// subscribed clients.
	ListChangedSince(ctx context.Context, since time.Time, limit int) ([]Ticket, error)
}

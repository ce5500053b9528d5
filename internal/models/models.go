package models

import "time"

// Service is a category of work with its own ticket numbering sequence.
// Waiting is derived from the queue contents and recomputed after every
// queue mutation; it is never updated on its own.
type Service struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Prefix        string `json:"prefix"`
	CurrentNumber int    `json:"current_number"`
	Served        int    `json:"served"`
	Waiting       int    `json:"waiting"`
}

// Counter is a service point. It may only be handed work while active.
type Counter struct {
	ID               int    `json:"id"`
	Name             string `json:"name"`
	Status           string `json:"status"`
	CurrentlyServing string `json:"currently_serving,omitempty"`
	ServiceType      string `json:"service_type,omitempty"`
}

// Ticket is one customer's queued request.
type Ticket struct {
	TicketID             string     `json:"ticket_id"`
	Number               string     `json:"number"`
	ServiceType          string     `json:"service_type"`
	Status               string     `json:"status"`
	CreatedAt            time.Time  `json:"created_at"`
	CounterID            *int       `json:"counter_id,omitempty"`
	CustomerName         string     `json:"customer_name,omitempty"`
	Purpose              string     `json:"purpose,omitempty"`
	Priority             string     `json:"priority"`
	EstimatedWaitMinutes int        `json:"estimated_wait_minutes"`
	CalledAt             *time.Time `json:"called_at,omitempty"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	Notes                string     `json:"notes,omitempty"`
}

const (
	StatusWaiting   = "waiting"
	StatusServing   = "serving"
	StatusCompleted = "completed"
)

const (
	CounterActive   = "active"
	CounterInactive = "inactive"
)

const (
	PriorityNormal = "normal"
	PriorityUrgent = "urgent"
	PriorityVIP    = "vip"
)

var priorityRank = map[string]int{
	PriorityVIP:    3,
	PriorityUrgent: 2,
	PriorityNormal: 1,
}

// PriorityRank maps a priority tier to its call-order weight. Unknown
// tiers rank below normal so malformed data never jumps the queue.
func PriorityRank(priority string) int {
	return priorityRank[priority]
}

func IsValidPriority(priority string) bool {
	_, ok := priorityRank[priority]
	return ok
}

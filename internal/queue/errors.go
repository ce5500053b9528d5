package queue

import "errors"

var (
	ErrServiceNotFound    = errors.New("service not found")
	ErrNoTicket           = errors.New("no ticket available")
	ErrTicketNotFound     = errors.New("ticket not found")
	ErrInvalidState       = errors.New("invalid ticket state")
	ErrInvalidStatus      = errors.New("invalid counter status")
	ErrCounterNotFound    = errors.New("counter not found")
	ErrCounterUnavailable = errors.New("counter unavailable")
)

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"queueboard/internal/tracker"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const ticketColumns = "ticket_id, subject, description, requester, assigned_to, status, priority, created_at, updated_at"

func (s *Store) Create(ctx context.Context, input tracker.CreateInput) (tracker.Ticket, error) {
	priority := input.Priority
	if priority == "" {
		priority = tracker.PriorityNormal
	}
	if !tracker.IsValidPriority(priority) {
		return tracker.Ticket{}, tracker.ErrInvalidPriority
	}
	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO tracker_tickets (ticket_id, subject, description, requester, status, priority, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
		RETURNING `+ticketColumns+`
	`, uuid.NewString(), input.Subject, input.Description, input.Requester, tracker.StatusOpen, priority, createdAt)
	return scanTicket(row)
}

func (s *Store) Get(ctx context.Context, ticketID string) (tracker.Ticket, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tracker_tickets
		WHERE ticket_id = $1
	`, ticketID)
	ticket, err := scanTicket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return tracker.Ticket{}, false, nil
	}
	if err != nil {
		return tracker.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (s *Store) List(ctx context.Context, status string) ([]tracker.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tracker_tickets`
	args := []interface{}{}
	if status != "" {
		if !tracker.IsValidStatus(status) {
			return nil, tracker.ErrInvalidStatus
		}
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tickets := []tracker.Ticket{}
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	return tickets, rows.Err()
}

func (s *Store) Update(ctx context.Context, ticketID string, patch tracker.Patch) (tracker.Ticket, error) {
	if err := patch.Validate(); err != nil {
		return tracker.Ticket{}, err
	}

	sets := []string{}
	args := []interface{}{}
	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.Subject != nil {
		add("subject", *patch.Subject)
	}
	if patch.Description != nil {
		add("description", *patch.Description)
	}
	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.Priority != nil {
		add("priority", *patch.Priority)
	}
	if patch.AssignedTo != nil {
		if *patch.AssignedTo == "" {
			sets = append(sets, "assigned_to = NULL")
		} else {
			add("assigned_to", *patch.AssignedTo)
		}
	}
	add("updated_at", time.Now().UTC())
	args = append(args, ticketID)

	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
		UPDATE tracker_tickets
		SET %s
		WHERE ticket_id = $%d
		RETURNING %s
	`, strings.Join(sets, ", "), len(args), ticketColumns), args...)
	ticket, err := scanTicket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return tracker.Ticket{}, tracker.ErrTicketNotFound
	}
	return ticket, err
}

func (s *Store) Delete(ctx context.Context, ticketID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tracker_tickets WHERE ticket_id = $1`, ticketID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return tracker.ErrTicketNotFound
	}
	return nil
}

func (s *Store) ListChangedSince(ctx context.Context, since time.Time, limit int) ([]tracker.Ticket, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM tracker_tickets
		WHERE updated_at > $1
		ORDER BY updated_at ASC
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tickets := []tracker.Ticket{}
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	return tickets, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTicket(row rowScanner) (tracker.Ticket, error) {
	var ticket tracker.Ticket
	var description sql.NullString
	var assignedTo sql.NullString
	if err := row.Scan(&ticket.TicketID, &ticket.Subject, &description, &ticket.Requester, &assignedTo, &ticket.Status, &ticket.Priority, &ticket.CreatedAt, &ticket.UpdatedAt); err != nil {
		return tracker.Ticket{}, err
	}
	if description.Valid {
		ticket.Description = description.String
	}
	if assignedTo.Valid {
		value := assignedTo.String
		ticket.AssignedTo = &value
	}
	return ticket, nil
}

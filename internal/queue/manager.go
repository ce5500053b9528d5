// Package queue holds the queue state manager: ticket issuance with
// priority-ordered insertion, counter assignment, the completion
// workflow, wait-time estimation, and the derived per-service waiting
// counts. All state lives in memory and is mirrored to the shared
// store as whole-collection snapshots after every mutation.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"queueboard/internal/models"
	"queueboard/internal/snapshot"
)

const ticketNumberPad = 3

type Manager struct {
	mu                sync.Mutex
	snap              *snapshot.Codec
	avgServiceMinutes int
	now               func() time.Time

	services []models.Service
	counters []models.Counter
	tickets  []models.Ticket

	generation uint64
}

type Options struct {
	// AvgServiceMinutes is the per-ticket estimate used for wait-time
	// projections. Defaults to 5.
	AvgServiceMinutes int
}

type AddInput struct {
	ServiceType  string
	CustomerName string
	Purpose      string
	Priority     string
}

func NewManager(snap *snapshot.Codec, options Options) *Manager {
	avg := options.AvgServiceMinutes
	if avg <= 0 {
		avg = 5
	}
	return &Manager{
		snap:              snap,
		avgServiceMinutes: avg,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// Load pulls the three collections from the shared store, falling back
// to the fixed seed data on first run (and persisting the seeds so
// other replicas converge on them).
func (m *Manager) Load(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var services []models.Service
	if m.snap.Load(ctx, snapshot.KeyServices, &services) && len(services) > 0 {
		m.services = services
	} else {
		m.services = DefaultServices()
		_ = m.snap.Save(ctx, snapshot.KeyServices, m.services)
	}

	var counters []models.Counter
	if m.snap.Load(ctx, snapshot.KeyCounters, &counters) && len(counters) > 0 {
		m.counters = counters
	} else {
		m.counters = DefaultCounters()
		_ = m.snap.Save(ctx, snapshot.KeyCounters, m.counters)
	}

	var tickets []models.Ticket
	if m.snap.Load(ctx, snapshot.KeyQueue, &tickets) {
		m.tickets = tickets
	} else {
		m.tickets = nil
		m.saveQueueLocked(ctx)
	}

	m.recomputeWaitingLocked()
}

// AddToQueue issues the next ticket for the service. An unknown
// service type is a no-op. The wait estimate uses the waiting count
// before insertion.
func (m *Manager) AddToQueue(ctx context.Context, input AddInput) (models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	service := m.findServiceLocked(input.ServiceType)
	if service == nil {
		log.Printf("queue add: unknown service %q", input.ServiceType)
		return models.Ticket{}, ErrServiceNotFound
	}

	priority := input.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}

	waitingBefore := m.waitingCountLocked(service.ID)
	newNumber := service.CurrentNumber + 1
	createdAt := m.now()

	ticket := models.Ticket{
		TicketID:             fmt.Sprintf("%s-%d-%d", service.ID, createdAt.UnixMilli(), newNumber),
		Number:               fmt.Sprintf("%s%0*d", service.Prefix, ticketNumberPad, newNumber),
		ServiceType:          service.ID,
		Status:               models.StatusWaiting,
		CreatedAt:            createdAt,
		CustomerName:         input.CustomerName,
		Purpose:              input.Purpose,
		Priority:             priority,
		EstimatedWaitMinutes: waitingBefore * m.avgServiceMinutes,
	}

	m.tickets = append(m.tickets, ticket)
	m.resortWaitingLocked()
	service.CurrentNumber = newNumber
	m.recomputeWaitingLocked()

	m.saveQueueLocked(ctx)
	m.saveServicesLocked(ctx)
	return ticket, nil
}

// CallNext hands the best waiting ticket for the service to the
// counter. The counter check happens after ticket selection, and a
// failed check consumes nothing. On success the ticket and the counter
// mutate together under the same lock.
func (m *Manager) CallNext(ctx context.Context, counterID int, serviceType string) (models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var next *models.Ticket
	for i := range m.tickets {
		t := &m.tickets[i]
		if t.Status != models.StatusWaiting || t.ServiceType != serviceType {
			continue
		}
		if next == nil {
			next = t
			continue
		}
		if models.PriorityRank(t.Priority) > models.PriorityRank(next.Priority) ||
			(models.PriorityRank(t.Priority) == models.PriorityRank(next.Priority) && t.CreatedAt.Before(next.CreatedAt)) {
			next = t
		}
	}
	if next == nil {
		return models.Ticket{}, ErrNoTicket
	}

	counter := m.findCounterLocked(counterID)
	if counter == nil {
		log.Printf("queue call-next: counter %d not found", counterID)
		return models.Ticket{}, ErrCounterNotFound
	}
	if counter.Status != models.CounterActive {
		log.Printf("queue call-next: counter %d is %s", counterID, counter.Status)
		return models.Ticket{}, ErrCounterUnavailable
	}

	calledAt := m.now()
	next.Status = models.StatusServing
	next.CounterID = &counter.ID
	next.CalledAt = &calledAt
	counter.CurrentlyServing = next.Number

	servicesChanged := m.recomputeWaitingLocked()
	m.saveQueueLocked(ctx)
	m.saveCountersLocked(ctx)
	if servicesChanged {
		m.saveServicesLocked(ctx)
	}
	return *next, nil
}

// CompleteService closes out a serving ticket. When the ticket has a
// counter assigned, the counter is freed and the owning service's
// served count goes up; without one, the statistics stay untouched.
func (m *Manager) CompleteService(ctx context.Context, ticketID, notes string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ticket := m.findTicketLocked(ticketID)
	if ticket == nil {
		log.Printf("queue complete: ticket %q not found", ticketID)
		return ErrTicketNotFound
	}
	if !ValidTransition("complete", ticket.Status) {
		log.Printf("queue complete: ticket %s is %s, not serving", ticket.Number, ticket.Status)
		return ErrInvalidState
	}

	completedAt := m.now()
	ticket.Status = models.StatusCompleted
	ticket.CompletedAt = &completedAt
	ticket.Notes = notes

	if ticket.CounterID != nil {
		if counter := m.findCounterLocked(*ticket.CounterID); counter != nil {
			counter.CurrentlyServing = ""
			m.saveCountersLocked(ctx)
		}
		if service := m.findServiceLocked(ticket.ServiceType); service != nil {
			service.Served++
			m.saveServicesLocked(ctx)
		}
	}

	m.recomputeWaitingLocked()
	m.saveQueueLocked(ctx)
	return nil
}

// SetCounterStatus updates a counter's status in place. No side
// effects on the queue or the services.
func (m *Manager) SetCounterStatus(ctx context.Context, counterID int, status string) error {
	if status != models.CounterActive && status != models.CounterInactive {
		log.Printf("queue counter-status: invalid status %q", status)
		return ErrInvalidStatus
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	counter := m.findCounterLocked(counterID)
	if counter == nil {
		log.Printf("queue counter-status: counter %d not found", counterID)
		return ErrCounterNotFound
	}
	counter.Status = status
	m.saveCountersLocked(ctx)
	return nil
}

// SetCounterService assigns a counter to a service, or clears the
// assignment when serviceType is empty.
func (m *Manager) SetCounterService(ctx context.Context, counterID int, serviceType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if serviceType != "" && m.findServiceLocked(serviceType) == nil {
		log.Printf("queue counter-service: unknown service %q", serviceType)
		return ErrServiceNotFound
	}
	counter := m.findCounterLocked(counterID)
	if counter == nil {
		log.Printf("queue counter-service: counter %d not found", counterID)
		return ErrCounterNotFound
	}
	counter.ServiceType = serviceType
	m.saveCountersLocked(ctx)
	return nil
}

func (m *Manager) WaitingCount(serviceType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.waitingCountLocked(serviceType)
}

// TicketPosition is the 1-based rank of a waiting ticket among the
// waiting tickets of its service, ordered by creation time only. This
// deliberately diverges from the call order, which weighs priority
// first.
func (m *Manager) TicketPosition(ticketID string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	target := m.findTicketLocked(ticketID)
	if target == nil || target.Status != models.StatusWaiting {
		return 0, false
	}
	position := 1
	for i := range m.tickets {
		t := &m.tickets[i]
		if t.TicketID == target.TicketID {
			continue
		}
		if t.Status != models.StatusWaiting || t.ServiceType != target.ServiceType {
			continue
		}
		if t.CreatedAt.Before(target.CreatedAt) {
			position++
		}
	}
	return position, true
}

func (m *Manager) EstimatedWait(serviceType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.waitingCountLocked(serviceType) * m.avgServiceMinutes
}

// AllWaitingTickets returns every waiting ticket across all services,
// oldest first.
func (m *Manager) AllWaitingTickets() []models.Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()

	waiting := make([]models.Ticket, 0, len(m.tickets))
	for _, t := range m.tickets {
		if t.Status == models.StatusWaiting {
			waiting = append(waiting, t)
		}
	}
	sort.SliceStable(waiting, func(i, j int) bool {
		return waiting[i].CreatedAt.Before(waiting[j].CreatedAt)
	})
	return waiting
}

func (m *Manager) Services() []models.Service {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Service, len(m.services))
	copy(out, m.services)
	return out
}

func (m *Manager) Counters() []models.Counter {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Counter, len(m.counters))
	copy(out, m.counters)
	return out
}

func (m *Manager) Tickets() []models.Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Ticket, len(m.tickets))
	copy(out, m.tickets)
	return out
}

// ClearAllData resets services and counters to the seed data, empties
// the queue, and rewrites the persisted copies so every replica
// converges on the reset state.
func (m *Manager) ClearAllData(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.services = DefaultServices()
	m.counters = DefaultCounters()
	m.tickets = nil

	m.snap.Purge(ctx, snapshot.Keys...)
	m.saveServicesLocked(ctx)
	m.saveCountersLocked(ctx)
	m.saveQueueLocked(ctx)
}

// Replace swaps in state reconciled from the shared store. Derived
// waiting counts are recomputed locally; nothing is re-persisted, so a
// reconciliation pass never echoes back into the store.
func (m *Manager) Replace(services []models.Service, counters []models.Counter, tickets []models.Ticket) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services = services
	m.counters = counters
	m.tickets = tickets
	m.recomputeWaitingLocked()
	m.generation++
}

// Generation counts Replace calls; tests and the sync engine use it to
// observe convergence.
func (m *Manager) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// ExportRaw serializes the current collections exactly as Save would,
// keyed by snapshot key. The sync engine compares these against the
// stored blobs to skip no-op reconciliations.
func (m *Manager) ExportRaw() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	tickets := m.tickets
	if tickets == nil {
		tickets = []models.Ticket{}
	}
	return map[string]string{
		snapshot.KeyServices: marshalRaw(m.services),
		snapshot.KeyCounters: marshalRaw(m.counters),
		snapshot.KeyQueue:    marshalRaw(tickets),
	}
}

func marshalRaw(value any) string {
	raw, err := json.Marshal(value)
	if err != nil {
		return ""
	}
	return string(raw)
}

func (m *Manager) findServiceLocked(id string) *models.Service {
	for i := range m.services {
		if m.services[i].ID == id {
			return &m.services[i]
		}
	}
	return nil
}

func (m *Manager) findCounterLocked(id int) *models.Counter {
	for i := range m.counters {
		if m.counters[i].ID == id {
			return &m.counters[i]
		}
	}
	return nil
}

func (m *Manager) findTicketLocked(id string) *models.Ticket {
	for i := range m.tickets {
		if m.tickets[i].TicketID == id {
			return &m.tickets[i]
		}
	}
	return nil
}

func (m *Manager) waitingCountLocked(serviceType string) int {
	count := 0
	for i := range m.tickets {
		if m.tickets[i].Status == models.StatusWaiting && m.tickets[i].ServiceType == serviceType {
			count++
		}
	}
	return count
}

// resortWaitingLocked reorders the waiting tickets by priority then
// arrival while leaving every non-waiting ticket in its slot. Only the
// waiting subsequence moves.
func (m *Manager) resortWaitingLocked() {
	slots := make([]int, 0, len(m.tickets))
	for i := range m.tickets {
		if m.tickets[i].Status == models.StatusWaiting {
			slots = append(slots, i)
		}
	}
	waiting := make([]models.Ticket, len(slots))
	for j, i := range slots {
		waiting[j] = m.tickets[i]
	}
	sort.SliceStable(waiting, func(i, j int) bool {
		ri, rj := models.PriorityRank(waiting[i].Priority), models.PriorityRank(waiting[j].Priority)
		if ri != rj {
			return ri > rj
		}
		return waiting[i].CreatedAt.Before(waiting[j].CreatedAt)
	})
	for j, i := range slots {
		m.tickets[i] = waiting[j]
	}
}

// recomputeWaitingLocked refreshes the derived per-service waiting
// counts from the queue contents. Runs inside the same locked section
// as the mutation that invalidated them.
func (m *Manager) recomputeWaitingLocked() bool {
	changed := false
	for i := range m.services {
		count := m.waitingCountLocked(m.services[i].ID)
		if m.services[i].Waiting != count {
			m.services[i].Waiting = count
			changed = true
		}
	}
	return changed
}

func (m *Manager) saveServicesLocked(ctx context.Context) {
	_ = m.snap.Save(ctx, snapshot.KeyServices, m.services)
}

func (m *Manager) saveCountersLocked(ctx context.Context) {
	_ = m.snap.Save(ctx, snapshot.KeyCounters, m.counters)
}

func (m *Manager) saveQueueLocked(ctx context.Context) {
	if m.tickets == nil {
		_ = m.snap.Save(ctx, snapshot.KeyQueue, []models.Ticket{})
		return
	}
	_ = m.snap.Save(ctx, snapshot.KeyQueue, m.tickets)
}

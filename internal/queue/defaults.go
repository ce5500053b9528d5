package queue

import "queueboard/internal/models"

// Seed data for first run and for ClearAllData. Services and counters
// persist indefinitely once seeded; tickets come and go.

func DefaultServices() []models.Service {
	return []models.Service{
		{ID: "general", Name: "General Inquiry", Prefix: "A"},
		{ID: "billing", Name: "Billing & Payments", Prefix: "B"},
		{ID: "records", Name: "Records & Documents", Prefix: "C"},
		{ID: "facility", Name: "Facility Services", Prefix: "D"},
	}
}

func DefaultCounters() []models.Counter {
	return []models.Counter{
		{ID: 1, Name: "Counter 1", Status: models.CounterActive},
		{ID: 2, Name: "Counter 2", Status: models.CounterActive},
		{ID: 3, Name: "Counter 3", Status: models.CounterActive},
	}
}

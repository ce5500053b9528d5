package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"queueboard/internal/kv"
	"queueboard/internal/models"
	"queueboard/internal/queue"
	"queueboard/internal/snapshot"
	"queueboard/internal/tracker"
)

func newTestHandler(t *testing.T, trackerStore tracker.Store) (*Handler, *queue.Manager) {
	t.Helper()
	manager := queue.NewManager(snapshot.New(kv.NewMemory()), queue.Options{})
	manager.Load(context.Background())
	return NewHandler(manager, trackerStore), manager
}

func doRequest(t *testing.T, h *Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), target); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	decodeBody(t, rec, &resp)
	return resp.Error.Code
}

func TestAddTicketEndpoint(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	rec := doRequest(t, h, http.MethodPost, "/api/queue/tickets",
		`{"service_type":"general","customer_name":"Alice","priority":"vip"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var ticket models.Ticket
	decodeBody(t, rec, &ticket)
	if ticket.Number != "A001" || ticket.Priority != models.PriorityVIP {
		t.Fatalf("unexpected ticket %+v", ticket)
	}

	cases := []struct {
		name string
		body string
		code int
		err  string
	}{
		{"unknown service", `{"service_type":"passport"}`, http.StatusNotFound, "service_not_found"},
		{"missing service", `{"customer_name":"Bob"}`, http.StatusBadRequest, "invalid_request"},
		{"bad priority", `{"service_type":"general","priority":"sooner"}`, http.StatusBadRequest, "invalid_request"},
		{"unknown field", `{"service_type":"general","color":"red"}`, http.StatusBadRequest, "invalid_json"},
		{"not json", `who goes there`, http.StatusBadRequest, "invalid_json"},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, h, http.MethodPost, "/api/queue/tickets", tt.body)
			if rec.Code != tt.code {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.code, rec.Body.String())
			}
			if got := errorCode(t, rec); got != tt.err {
				t.Fatalf("error code = %q, want %q", got, tt.err)
			}
		})
	}
}

func TestCallNextEndpoint(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	rec := doRequest(t, h, http.MethodPost, "/api/queue/actions/call-next",
		`{"counter_id":1,"service_type":"general"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("empty queue status = %d, want 204", rec.Code)
	}

	doRequest(t, h, http.MethodPost, "/api/queue/tickets", `{"service_type":"general"}`)

	rec = doRequest(t, h, http.MethodPost, "/api/queue/actions/call-next",
		`{"counter_id":99,"service_type":"general"}`)
	if rec.Code != http.StatusNotFound || errorCode(t, rec) != "counter_not_found" {
		t.Fatalf("unknown counter: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, h, http.MethodPost, "/api/queue/actions/call-next",
		`{"counter_id":1,"service_type":"general"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var ticket models.Ticket
	decodeBody(t, rec, &ticket)
	if ticket.Status != models.StatusServing || ticket.CounterID == nil || *ticket.CounterID != 1 {
		t.Fatalf("unexpected called ticket %+v", ticket)
	}
}

func TestCallNextInactiveCounter(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	doRequest(t, h, http.MethodPost, "/api/queue/tickets", `{"service_type":"general"}`)

	rec := doRequest(t, h, http.MethodPost, "/api/counters/2/status", `{"status":"inactive"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("set status = %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodPost, "/api/queue/actions/call-next",
		`{"counter_id":2,"service_type":"general"}`)
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "counter_unavailable" {
		t.Fatalf("inactive counter: status %d body %s", rec.Code, rec.Body.String())
	}

	// A failed call must leave the ticket waiting.
	rec = doRequest(t, h, http.MethodGet, "/api/queue/waiting?service_type=general", "")
	var waiting struct {
		Waiting int `json:"waiting"`
	}
	decodeBody(t, rec, &waiting)
	if waiting.Waiting != 1 {
		t.Fatalf("waiting = %d, want 1", waiting.Waiting)
	}
}

func TestCompleteEndpoint(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	rec := doRequest(t, h, http.MethodPost, "/api/queue/tickets", `{"service_type":"general"}`)
	var ticket models.Ticket
	decodeBody(t, rec, &ticket)

	rec = doRequest(t, h, http.MethodPost, "/api/queue/tickets/"+ticket.TicketID+"/actions/complete", "")
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "invalid_state" {
		t.Fatalf("complete waiting ticket: status %d body %s", rec.Code, rec.Body.String())
	}

	doRequest(t, h, http.MethodPost, "/api/queue/actions/call-next", `{"counter_id":1,"service_type":"general"}`)

	rec = doRequest(t, h, http.MethodPost, "/api/queue/tickets/"+ticket.TicketID+"/actions/complete",
		`{"notes":"all set"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("complete: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, h, http.MethodPost, "/api/queue/tickets/nope/actions/complete", "")
	if rec.Code != http.StatusNotFound || errorCode(t, rec) != "ticket_not_found" {
		t.Fatalf("unknown ticket: status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestPositionEndpoint(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	rec := doRequest(t, h, http.MethodPost, "/api/queue/tickets", `{"service_type":"general"}`)
	var first models.Ticket
	decodeBody(t, rec, &first)
	rec = doRequest(t, h, http.MethodPost, "/api/queue/tickets", `{"service_type":"general","priority":"vip"}`)
	var second models.Ticket
	decodeBody(t, rec, &second)

	rec = doRequest(t, h, http.MethodGet, "/api/queue/tickets/"+second.TicketID+"/position", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("position: status %d", rec.Code)
	}
	var pos struct {
		Position int `json:"position"`
	}
	decodeBody(t, rec, &pos)
	if pos.Position != 2 {
		t.Fatalf("position = %d, want 2 (arrival order, priority ignored)", pos.Position)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/queue/tickets/ghost/position", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing ticket position: status %d", rec.Code)
	}
}

func TestCounterServiceAndListEndpoints(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	rec := doRequest(t, h, http.MethodPost, "/api/counters/1/service", `{"service_type":"billing"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("assign service: status %d body %s", rec.Code, rec.Body.String())
	}
	rec = doRequest(t, h, http.MethodPost, "/api/counters/1/service", `{"service_type":"passport"}`)
	if rec.Code != http.StatusNotFound || errorCode(t, rec) != "service_not_found" {
		t.Fatalf("bad assignment: status %d body %s", rec.Code, rec.Body.String())
	}
	rec = doRequest(t, h, http.MethodPost, "/api/counters/1/status", `{"status":"standby"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad status: status %d", rec.Code)
	}
	rec = doRequest(t, h, http.MethodPost, "/api/counters/abc/status", `{"status":"active"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("non-numeric counter id: status %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/counters", "")
	var counters []models.Counter
	decodeBody(t, rec, &counters)
	if len(counters) != 3 || counters[0].ServiceType != "billing" {
		t.Fatalf("unexpected counters %+v", counters)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/services", "")
	var services []models.Service
	decodeBody(t, rec, &services)
	if len(services) != 4 {
		t.Fatalf("unexpected services %+v", services)
	}
}

func TestResetEndpoint(t *testing.T) {
	h, manager := newTestHandler(t, nil)
	doRequest(t, h, http.MethodPost, "/api/queue/tickets", `{"service_type":"general"}`)

	rec := doRequest(t, h, http.MethodPost, "/api/admin/reset", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("reset: status %d", rec.Code)
	}
	if got := manager.WaitingCount("general"); got != 0 {
		t.Fatalf("waiting after reset = %d", got)
	}
}

// fakeTrackerStore stubs the tracker behind function fields so handler
// tests pick exactly the behavior under test.
type fakeTrackerStore struct {
	createFn func(ctx context.Context, input tracker.CreateInput) (tracker.Ticket, error)
	getFn    func(ctx context.Context, ticketID string) (tracker.Ticket, bool, error)
	listFn   func(ctx context.Context, status string) ([]tracker.Ticket, error)
	updateFn func(ctx context.Context, ticketID string, patch tracker.Patch) (tracker.Ticket, error)
	deleteFn func(ctx context.Context, ticketID string) error
}

func (f *fakeTrackerStore) Create(ctx context.Context, input tracker.CreateInput) (tracker.Ticket, error) {
	return f.createFn(ctx, input)
}

func (f *fakeTrackerStore) Get(ctx context.Context, ticketID string) (tracker.Ticket, bool, error) {
	return f.getFn(ctx, ticketID)
}

func (f *fakeTrackerStore) List(ctx context.Context, status string) ([]tracker.Ticket, error) {
	return f.listFn(ctx, status)
}

func (f *fakeTrackerStore) Update(ctx context.Context, ticketID string, patch tracker.Patch) (tracker.Ticket, error) {
	return f.updateFn(ctx, ticketID, patch)
}

func (f *fakeTrackerStore) Delete(ctx context.Context, ticketID string) error {
	return f.deleteFn(ctx, ticketID)
}

func (f *fakeTrackerStore) ListChangedSince(ctx context.Context, since time.Time, limit int) ([]tracker.Ticket, error) {
	return nil, nil
}

func TestTrackerRoutesDisabledWithoutStore(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	rec := doRequest(t, h, http.MethodGet, "/api/tracker/tickets", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("tracker route without store: status %d, want 404", rec.Code)
	}
}

func TestTrackerCreateEndpoint(t *testing.T) {
	store := &fakeTrackerStore{
		createFn: func(_ context.Context, input tracker.CreateInput) (tracker.Ticket, error) {
			if input.Priority == "urgent" {
				return tracker.Ticket{}, tracker.ErrInvalidPriority
			}
			return tracker.Ticket{TicketID: "TRK-1", Subject: input.Subject, Requester: input.Requester, Status: tracker.StatusOpen}, nil
		},
	}
	h, _ := newTestHandler(t, store)

	rec := doRequest(t, h, http.MethodPost, "/api/tracker/tickets",
		`{"subject":"printer jam","requester":"alice"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("create: status %d body %s", rec.Code, rec.Body.String())
	}
	var ticket tracker.Ticket
	decodeBody(t, rec, &ticket)
	if ticket.TicketID != "TRK-1" || ticket.Status != tracker.StatusOpen {
		t.Fatalf("unexpected ticket %+v", ticket)
	}

	rec = doRequest(t, h, http.MethodPost, "/api/tracker/tickets", `{"subject":"x"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing requester: status %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodPost, "/api/tracker/tickets",
		`{"subject":"x","requester":"y","priority":"urgent"}`)
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "invalid_request" {
		t.Fatalf("bad priority: status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestTrackerPatchEndpoint(t *testing.T) {
	var gotPatch tracker.Patch
	store := &fakeTrackerStore{
		updateFn: func(_ context.Context, ticketID string, patch tracker.Patch) (tracker.Ticket, error) {
			if ticketID == "missing" {
				return tracker.Ticket{}, tracker.ErrTicketNotFound
			}
			if err := patch.Validate(); err != nil {
				return tracker.Ticket{}, err
			}
			gotPatch = patch
			return tracker.Ticket{TicketID: ticketID, Status: tracker.StatusInProgress}, nil
		},
	}
	h, _ := newTestHandler(t, store)

	rec := doRequest(t, h, http.MethodPatch, "/api/tracker/tickets/TRK-1",
		`{"status":"in_progress","assigned_to":"bob"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch: status %d body %s", rec.Code, rec.Body.String())
	}
	if gotPatch.Status == nil || *gotPatch.Status != tracker.StatusInProgress {
		t.Fatalf("status not forwarded: %+v", gotPatch)
	}
	if gotPatch.AssignedTo == nil || *gotPatch.AssignedTo != "bob" {
		t.Fatalf("assigned_to not forwarded: %+v", gotPatch)
	}
	if gotPatch.Subject != nil {
		t.Fatalf("absent field forwarded as set: %+v", gotPatch)
	}

	rec = doRequest(t, h, http.MethodPatch, "/api/tracker/tickets/TRK-1", `{}`)
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "invalid_request" {
		t.Fatalf("empty patch: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, h, http.MethodPatch, "/api/tracker/tickets/missing", `{"status":"open"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing ticket: status %d", rec.Code)
	}
}

func TestTrackerGetListDeleteEndpoints(t *testing.T) {
	store := &fakeTrackerStore{
		getFn: func(_ context.Context, ticketID string) (tracker.Ticket, bool, error) {
			if ticketID != "TRK-1" {
				return tracker.Ticket{}, false, nil
			}
			return tracker.Ticket{TicketID: "TRK-1"}, true, nil
		},
		listFn: func(_ context.Context, status string) ([]tracker.Ticket, error) {
			if status == "open" {
				return []tracker.Ticket{{TicketID: "TRK-1", Status: tracker.StatusOpen}}, nil
			}
			return nil, nil
		},
		deleteFn: func(_ context.Context, ticketID string) error {
			if ticketID != "TRK-1" {
				return tracker.ErrTicketNotFound
			}
			return nil
		},
	}
	h, _ := newTestHandler(t, store)

	rec := doRequest(t, h, http.MethodGet, "/api/tracker/tickets/TRK-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status %d", rec.Code)
	}
	rec = doRequest(t, h, http.MethodGet, "/api/tracker/tickets/TRK-2", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get missing: status %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/tracker/tickets?status=open", "")
	var tickets []tracker.Ticket
	decodeBody(t, rec, &tickets)
	if len(tickets) != 1 {
		t.Fatalf("list open = %+v", tickets)
	}

	rec = doRequest(t, h, http.MethodDelete, "/api/tracker/tickets/TRK-1", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status %d", rec.Code)
	}
	rec = doRequest(t, h, http.MethodDelete, "/api/tracker/tickets/TRK-9", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("delete missing: status %d", rec.Code)
	}
}

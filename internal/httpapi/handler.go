package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"queueboard/internal/models"
	"queueboard/internal/queue"
	"queueboard/internal/tracker"
)

type Handler struct {
	manager *queue.Manager
	tracker tracker.Store
}

// NewHandler builds the HTTP surface over the queue manager and the
// optional tracker store (nil disables the tracker routes).
func NewHandler(manager *queue.Manager, trackerStore tracker.Store) *Handler {
	return &Handler{manager: manager, tracker: trackerStore}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/queue/tickets", h.handleQueueTickets)
	mux.HandleFunc("/api/queue/tickets/", h.handleQueueTicket)
	mux.HandleFunc("/api/queue/actions/call-next", h.handleCallNext)
	mux.HandleFunc("/api/queue/waiting", h.handleWaiting)
	mux.HandleFunc("/api/services", h.handleServices)
	mux.HandleFunc("/api/counters", h.handleCounters)
	mux.HandleFunc("/api/counters/", h.handleCounterActions)
	mux.HandleFunc("/api/admin/reset", h.handleReset)
	if h.tracker != nil {
		mux.HandleFunc("/api/tracker/tickets", h.handleTrackerTickets)
		mux.HandleFunc("/api/tracker/tickets/", h.handleTrackerTicket)
	}
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type addTicketRequest struct {
	ServiceType  string `json:"service_type"`
	CustomerName string `json:"customer_name"`
	Purpose      string `json:"purpose"`
	Priority     string `json:"priority"`
}

func (h *Handler) handleQueueTickets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.manager.AllWaitingTickets())
	case http.MethodPost:
		var req addTicketRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		req.ServiceType = strings.TrimSpace(req.ServiceType)
		req.CustomerName = strings.TrimSpace(req.CustomerName)
		req.Purpose = strings.TrimSpace(req.Purpose)
		req.Priority = strings.TrimSpace(req.Priority)
		if req.ServiceType == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "service_type is required")
			return
		}
		if req.Priority != "" && !models.IsValidPriority(req.Priority) {
			writeError(w, http.StatusBadRequest, "invalid_request", "priority must be normal, urgent, or vip")
			return
		}

		ticket, err := h.manager.AddToQueue(r.Context(), queue.AddInput{
			ServiceType:  req.ServiceType,
			CustomerName: req.CustomerName,
			Purpose:      req.Purpose,
			Priority:     req.Priority,
		})
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, ticket)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type callNextRequest struct {
	CounterID   int    `json:"counter_id"`
	ServiceType string `json:"service_type"`
}

func (h *Handler) handleCallNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req callNextRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	req.ServiceType = strings.TrimSpace(req.ServiceType)
	if req.CounterID <= 0 || req.ServiceType == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "counter_id and service_type are required")
		return
	}

	ticket, err := h.manager.CallNext(r.Context(), req.CounterID, req.ServiceType)
	if err != nil {
		if errors.Is(err, queue.ErrNoTicket) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

// handleQueueTicket routes /api/queue/tickets/{id}/position and
// /api/queue/tickets/{id}/actions/complete.
func (h *Handler) handleQueueTicket(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/queue/tickets/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	case len(parts) == 2 && parts[1] == "position":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleTicketPosition(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "actions" && parts[2] == "complete":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleComplete(w, r, parts[0])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleTicketPosition(w http.ResponseWriter, r *http.Request, ticketID string) {
	position, ok := h.manager.TicketPosition(ticketID)
	if !ok {
		writeError(w, http.StatusNotFound, "ticket_not_waiting", "ticket not found or not waiting")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"position": position})
}

type completeRequest struct {
	Notes string `json:"notes"`
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request, ticketID string) {
	var req completeRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if err := h.manager.CompleteService(r.Context(), ticketID, strings.TrimSpace(req.Notes)); err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleWaiting(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	serviceType := strings.TrimSpace(r.URL.Query().Get("service_type"))
	if serviceType == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "service_type is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service_type":           serviceType,
		"waiting":                h.manager.WaitingCount(serviceType),
		"estimated_wait_minutes": h.manager.EstimatedWait(serviceType),
	})
}

func (h *Handler) handleServices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.manager.Services())
}

func (h *Handler) handleCounters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.manager.Counters())
}

type counterStatusRequest struct {
	Status string `json:"status"`
}

type counterServiceRequest struct {
	ServiceType string `json:"service_type"`
}

// handleCounterActions routes /api/counters/{id}/status and
// /api/counters/{id}/service.
func (h *Handler) handleCounterActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/counters/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	counterID, err := strconv.Atoi(parts[0])
	if err != nil || counterID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "counter id must be a positive integer")
		return
	}

	switch parts[1] {
	case "status":
		var req counterStatusRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		if err := h.manager.SetCounterStatus(r.Context(), counterID, strings.TrimSpace(req.Status)); err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case "service":
		var req counterServiceRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		if err := h.manager.SetCounterService(r.Context(), counterID, strings.TrimSpace(req.ServiceType)); err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	h.manager.ClearAllData(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

type createTrackerRequest struct {
	Subject     string `json:"subject"`
	Description string `json:"description"`
	Requester   string `json:"requester"`
	Priority    string `json:"priority"`
}

func (h *Handler) handleTrackerTickets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		status := strings.TrimSpace(r.URL.Query().Get("status"))
		tickets, err := h.tracker.List(r.Context(), status)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, tickets)
	case http.MethodPost:
		var req createTrackerRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		req.Subject = strings.TrimSpace(req.Subject)
		req.Requester = strings.TrimSpace(req.Requester)
		if req.Subject == "" || req.Requester == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "subject and requester are required")
			return
		}

		ticket, err := h.tracker.Create(r.Context(), tracker.CreateInput{
			Subject:     req.Subject,
			Description: strings.TrimSpace(req.Description),
			Requester:   req.Requester,
			Priority:    strings.TrimSpace(req.Priority),
		})
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, ticket)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type trackerPatchRequest struct {
	Subject     *string `json:"subject"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
	Priority    *string `json:"priority"`
	AssignedTo  *string `json:"assigned_to"`
}

func (h *Handler) handleTrackerTicket(w http.ResponseWriter, r *http.Request) {
	ticketID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/tracker/tickets/"), "/")
	if ticketID == "" || strings.Contains(ticketID, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		ticket, found, err := h.tracker.Get(r.Context(), ticketID)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		if !found {
			writeError(w, http.StatusNotFound, "ticket_not_found", "ticket not found")
			return
		}
		writeJSON(w, http.StatusOK, ticket)
	case http.MethodPatch:
		var req trackerPatchRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		ticket, err := h.tracker.Update(r.Context(), ticketID, tracker.Patch{
			Subject:     req.Subject,
			Description: req.Description,
			Status:      req.Status,
			Priority:    req.Priority,
			AssignedTo:  req.AssignedTo,
		})
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, ticket)
	case http.MethodDelete:
		if err := h.tracker.Delete(r.Context(), ticketID); err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func decodeRequest(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, queue.ErrServiceNotFound):
		return http.StatusNotFound, "service_not_found", "service not found"
	case errors.Is(err, queue.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, queue.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "ticket state does not allow this action"
	case errors.Is(err, queue.ErrInvalidStatus):
		return http.StatusBadRequest, "invalid_request", "status must be active or inactive"
	case errors.Is(err, queue.ErrCounterNotFound):
		return http.StatusNotFound, "counter_not_found", "counter not found"
	case errors.Is(err, queue.ErrCounterUnavailable):
		return http.StatusConflict, "counter_unavailable", "counter is not active"
	case errors.Is(err, tracker.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, tracker.ErrInvalidStatus):
		return http.StatusBadRequest, "invalid_request", "invalid tracker status"
	case errors.Is(err, tracker.ErrInvalidPriority):
		return http.StatusBadRequest, "invalid_request", "invalid tracker priority"
	case errors.Is(err, tracker.ErrEmptyPatch):
		return http.StatusBadRequest, "invalid_request", "patch must set at least one field"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: responseError{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

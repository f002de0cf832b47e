package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mamamind47/sfa-queue/internal/auth"
	"github.com/mamamind47/sfa-queue/internal/live"
	"github.com/mamamind47/sfa-queue/internal/models"
	"github.com/mamamind47/sfa-queue/internal/queue"
)

// Queue is the set of queue operations served over HTTP.
type Queue interface {
	CallNext(ctx context.Context, serviceID int64) (queue.CallResult, error)
	Recall(ctx context.Context, serviceID int64) (queue.RecallResult, error)
	Serve(ctx context.Context, serviceID int64) (queue.ServeResult, error)
	Skip(ctx context.Context, serviceID int64) (queue.SkipResult, error)
	ServeAndNext(ctx context.Context, serviceID int64) (queue.AdvanceResult, error)
	SkipAndNext(ctx context.Context, serviceID int64) (queue.AdvanceResult, error)
	Cancel(ctx context.Context, ticketID int64) (queue.CancelResult, error)
	CancelByToken(ctx context.Context, token string) (*models.TicketView, error)
	Enqueue(ctx context.Context, input queue.EnqueueInput) (queue.EnqueueResult, error)

	GetServiceSnapshot(ctx context.Context, serviceID int64) (models.Snapshot, error)
	GetTicketByToken(ctx context.Context, token string) (queue.TicketStatus, error)
	ListServicesWithWaitingCounts(ctx context.Context) ([]models.ServiceSummary, error)
	GetServiceByCode(ctx context.Context, code string) (models.Service, error)
	SetServiceOpen(ctx context.Context, serviceID int64, open bool) (models.Service, error)
	GetServiceStats(ctx context.Context, serviceID int64, from, to *time.Time) (queue.Stats, error)
	TicketEvents(ctx context.Context, ticketID int64) (queue.TicketAudit, error)
}

// Streamer hands out live subscriptions.
type Streamer interface {
	Attach(ctx context.Context, serviceID int64) (*live.Subscriber, error)
	Detach(sub *live.Subscriber)
}

type Options struct {
	Gate              *auth.Gate
	Streamer          Streamer
	KeepAlive         time.Duration
	BasePath          string
	ForceCookieSecure string
	Logger            *slog.Logger
}

type Handler struct {
	queue       Queue
	gate        *auth.Gate
	streamer    Streamer
	keepAlive   time.Duration
	basePath    string
	forceSecure string
	log         *slog.Logger
}

type errorResponse struct {
	RequestID string        `json:"request_id,omitempty"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type serviceInfo struct {
	ID     int64  `json:"id"`
	Code   string `json:"code"`
	Name   string `json:"name"`
	IsOpen bool   `json:"isOpen"`
}

type okResponse struct {
	OK     bool               `json:"ok"`
	Ticket *models.TicketView `json:"ticket,omitempty"`
}

type openRequest struct {
	IsOpen *bool `json:"isOpen"`
}

type pinLoginRequest struct {
	Pin  string `json:"pin"`
	Name string `json:"name"`
}

func NewHandler(q Queue, opts Options) *Handler {
	if opts.Gate == nil {
		opts.Gate = auth.NewGate(auth.Config{})
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 25 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Handler{
		queue:       q,
		gate:        opts.Gate,
		streamer:    opts.Streamer,
		keepAlive:   opts.KeepAlive,
		basePath:    opts.BasePath,
		forceSecure: opts.ForceCookieSecure,
		log:         opts.Logger,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.Handle("/metrics", expvar.Handler())
	mux.HandleFunc("/api/auth/pin-login", h.handlePINLogin)
	mux.HandleFunc("/api/services-list", h.handleServicesList)
	mux.HandleFunc("/api/service-map", h.handleServiceMap)
	mux.HandleFunc("/api/tickets", h.handleTickets)
	mux.HandleFunc("/api/tickets/", h.handleTicketToken)
	mux.HandleFunc("/api/service/", h.handleService)
	mux.HandleFunc("/api/ticket/", h.handleTicket)
	if h.streamer != nil {
		mux.HandleFunc("/api/stream/", h.handleStream)
		mux.Handle("/realtime/", h.realtimeHandler())
	}
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handlePINLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req pinLoginRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if !h.gate.CheckPIN(strings.TrimSpace(req.Pin)) {
		writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", auth.ErrInvalidPIN.Error())
		return
	}
	token, err := h.gate.SignSession(strings.TrimSpace(req.Name))
	if err != nil {
		h.log.Error("sign session", "error", err)
		writeError(w, requestIDFromRequest(r), http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	http.SetCookie(w, h.gate.SessionCookie(r, token, h.basePath, h.forceSecure))
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *Handler) handleServicesList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	services, err := h.queue.ListServicesWithWaitingCounts(r.Context())
	if err != nil {
		h.writeQueueError(w, r, err)
		return
	}
	if services == nil {
		services = []models.ServiceSummary{}
	}
	writeJSON(w, http.StatusOK, services)
}

func (h *Handler) handleServiceMap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	code := strings.TrimSpace(r.URL.Query().Get("code"))
	if code == "" {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "code required")
		return
	}
	svc, err := h.queue.GetServiceByCode(r.Context(), code)
	if err != nil {
		h.writeQueueError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, infoOf(svc))
}

func (h *Handler) handleTickets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var input queue.EnqueueInput
	if !decodeRequest(w, r, &input) {
		return
	}
	ticket, err := h.queue.Enqueue(r.Context(), input)
	if err != nil {
		h.writeQueueError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleTicketToken(w http.ResponseWriter, r *http.Request) {
	token := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/tickets/"), "/")
	if token == "" || strings.Contains(token, "/") {
		writeError(w, requestIDFromRequest(r), http.StatusNotFound, "not_found", "not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		status, err := h.queue.GetTicketByToken(r.Context(), token)
		if err != nil {
			h.writeQueueError(w, r, err)
			return
		}
		noStore(w)
		writeJSON(w, http.StatusOK, status)
	case http.MethodDelete:
		canceled, err := h.queue.CancelByToken(r.Context(), token)
		if err != nil {
			h.writeQueueError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, okResponse{OK: true, Ticket: canceled})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleService serves /api/service/{id}/{action}.
func (h *Handler) handleService(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/service/"), "/"), "/")
	if len(parts) != 2 {
		writeError(w, requestIDFromRequest(r), http.StatusNotFound, "not_found", "not found")
		return
	}
	serviceID, ok := parseID(parts[0])
	if !ok {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "Invalid serviceId")
		return
	}

	switch action := parts[1]; action {
	case "state":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleState(w, r, serviceID)
	case "open":
		if r.Method != http.MethodPatch && r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !h.requireStaff(w, r) {
			return
		}
		h.handleOpen(w, r, serviceID)
	case "stats":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !h.requireStaff(w, r) {
			return
		}
		h.handleStats(w, r, serviceID)
	case "next", "recall", "serve", "skip", "serve-and-next", "skip-and-next":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !h.requireStaff(w, r) {
			return
		}
		result, err := h.runServiceAction(r.Context(), serviceID, action)
		if err != nil {
			h.writeQueueError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	default:
		writeError(w, requestIDFromRequest(r), http.StatusNotFound, "not_found", "not found")
	}
}

func (h *Handler) runServiceAction(ctx context.Context, serviceID int64, action string) (interface{}, error) {
	switch action {
	case "next":
		res, err := h.queue.CallNext(ctx, serviceID)
		return res, err
	case "recall":
		res, err := h.queue.Recall(ctx, serviceID)
		return res, err
	case "serve":
		res, err := h.queue.Serve(ctx, serviceID)
		return res, err
	case "skip":
		res, err := h.queue.Skip(ctx, serviceID)
		return res, err
	case "serve-and-next":
		res, err := h.queue.ServeAndNext(ctx, serviceID)
		return res, err
	case "skip-and-next":
		res, err := h.queue.SkipAndNext(ctx, serviceID)
		return res, err
	}
	return nil, queue.NewNotFoundError("unknown action")
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request, serviceID int64) {
	snapshot, err := h.queue.GetServiceSnapshot(r.Context(), serviceID)
	if err != nil {
		h.writeQueueError(w, r, err)
		return
	}
	noStore(w)
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request, serviceID int64) {
	var req openRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IsOpen == nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "isOpen (boolean) required")
		return
	}
	svc, err := h.queue.SetServiceOpen(r.Context(), serviceID, *req.IsOpen)
	if err != nil {
		h.writeQueueError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, infoOf(svc))
}

// handleStats ignores unparseable bounds, which then take their defaults.
func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request, serviceID int64) {
	query := r.URL.Query()
	stats, err := h.queue.GetServiceStats(r.Context(), serviceID, parseTime(query.Get("from")), parseTime(query.Get("to")))
	if err != nil {
		h.writeQueueError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleTicket serves /api/ticket/{id}/cancel and /api/ticket/{id}/events.
func (h *Handler) handleTicket(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/ticket/"), "/"), "/")
	if len(parts) != 2 {
		writeError(w, requestIDFromRequest(r), http.StatusNotFound, "not_found", "not found")
		return
	}
	ticketID, ok := parseID(parts[0])
	if !ok {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "Invalid ticketId")
		return
	}

	switch parts[1] {
	case "cancel":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !h.requireStaff(w, r) {
			return
		}
		res, err := h.queue.Cancel(r.Context(), ticketID)
		if err != nil {
			h.writeQueueError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, okResponse{OK: true, Ticket: res.Canceled})
	case "events":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !h.requireStaff(w, r) {
			return
		}
		audit, err := h.queue.TicketEvents(r.Context(), ticketID)
		if err != nil {
			h.writeQueueError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, audit)
	default:
		writeError(w, requestIDFromRequest(r), http.StatusNotFound, "not_found", "not found")
	}
}

func (h *Handler) requireStaff(w http.ResponseWriter, r *http.Request) bool {
	principal, err := h.gate.Authorize(r)
	if err == nil {
		h.log.Debug("staff request", "principal", principal.ID, "path", r.URL.Path)
		return true
	}
	if errors.Is(err, auth.ErrUnsupportedMode) {
		writeError(w, requestIDFromRequest(r), http.StatusInternalServerError, "internal_error", err.Error())
		return false
	}
	writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", auth.ErrUnauthorized.Error())
	return false
}

func (h *Handler) writeQueueError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := mapError(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "path", r.URL.Path, "error", err)
	}
	var qe *queue.Error
	blocking := ""
	if errors.As(err, &qe) {
		blocking = qe.Status
	}
	writeJSON(w, status, errorResponse{
		RequestID: requestIDFromRequest(r),
		Error:     responseError{Code: code, Message: message, Status: blocking},
	})
}

func decodeRequest(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func mapError(err error) (int, string, string) {
	var qe *queue.Error
	if !errors.As(err, &qe) {
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
	switch qe.Kind {
	case queue.KindValidation:
		return http.StatusBadRequest, "invalid_request", qe.Message
	case queue.KindNotFound:
		return http.StatusNotFound, "not_found", qe.Message
	case queue.KindConflict:
		return http.StatusConflict, "invalid_state", qe.Message
	case queue.KindForbidden:
		return http.StatusForbidden, "forbidden", qe.Message
	case queue.KindUnauthorized:
		return http.StatusUnauthorized, "unauthorized", qe.Message
	case queue.KindUpstream:
		return http.StatusBadGateway, "upstream_error", qe.Message
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func noStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
}

func requestIDFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Request-ID"))
}

func parseID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func parseTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}

func infoOf(svc models.Service) serviceInfo {
	return serviceInfo{ID: svc.ID, Code: svc.Code, Name: svc.Name, IsOpen: svc.IsOpen}
}

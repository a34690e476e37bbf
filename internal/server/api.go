package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/evpn/internal/models"
	"github.com/desertthunder/evpn/internal/session"
	"github.com/desertthunder/evpn/internal/shared"
)

// Controller is the part of the session orchestrator the control API drives.
type Controller interface {
	Snapshot() session.SessionState
	Toggle(ctx context.Context) error
	Connect(ctx context.Context, target *models.Location) error
	Disconnect(ctx context.Context) error
	SelectLocation(ctx context.Context, loc *models.Location) error
	SelectLocationByID(ctx context.Context, id models.ID) error
	RefreshDirectory(ctx context.Context) error
	Retry(ctx context.Context) (bool, error)
	Events(buf int) (<-chan session.Event, func())
}

// HistoryLister reads the persisted outcome history.
type HistoryLister interface {
	List(ctx context.Context, limit int) ([]models.Event, error)
}

// ControlHandler serves the control API.
type ControlHandler struct {
	ctrl      Controller
	history   HistoryLister
	logger    *log.Logger
	keepalive time.Duration
}

// NewControlHandler creates the control API. history may be nil.
func NewControlHandler(ctrl Controller, history HistoryLister, logger *log.Logger) *ControlHandler {
	return &ControlHandler{ctrl: ctrl, history: history, logger: logger, keepalive: 15 * time.Second}
}

// Register adds every control route to r.
func (h *ControlHandler) Register(r Router) {
	r.Handle(http.MethodGet, "/status", http.HandlerFunc(h.status))
	r.Handle(http.MethodPost, "/toggle", http.HandlerFunc(h.toggle))
	r.Handle(http.MethodPost, "/connect", http.HandlerFunc(h.connect))
	r.Handle(http.MethodPost, "/disconnect", http.HandlerFunc(h.disconnect))
	r.Handle(http.MethodGet, "/locations", http.HandlerFunc(h.locations))
	r.Handle(http.MethodPost, "/locations/select", http.HandlerFunc(h.selectLocation))
	r.Handle(http.MethodPost, "/locations/refresh", http.HandlerFunc(h.refresh))
	r.Handle(http.MethodPost, "/retry", http.HandlerFunc(h.retry))
	r.Handle(http.MethodGet, "/history", http.HandlerFunc(h.listHistory))
	r.Handle(http.MethodGet, "/events", http.HandlerFunc(h.events))
}

// NewRouter builds a router with logging and panic recovery serving the control API.
func NewRouter(ctrl Controller, history HistoryLister, logger *log.Logger) *BasicRouter {
	router := NewBasicRouter()
	router.Use(Logging(logger), Recover(logger))
	NewControlHandler(ctrl, history, logger).Register(router)
	return router
}

type errorBody struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Source  string `json:"source,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// statusFor maps an operation error onto an HTTP status.
func statusFor(err error) int {
	var f *session.Failure
	switch {
	case errors.As(err, &f):
		return http.StatusBadGateway
	case errors.Is(err, shared.ErrBusy), errors.Is(err, shared.ErrConnected):
		return http.StatusConflict
	case errors.Is(err, shared.ErrNotEntitled):
		return http.StatusForbidden
	case errors.Is(err, shared.ErrLocationNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrInvalidInput), errors.Is(err, shared.ErrMissingArgument):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (h *ControlHandler) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}

	var f *session.Failure
	if errors.As(err, &f) {
		v := f.View()
		body.Kind, body.Source, body.Message = v.Kind, v.Source, v.Message
	}
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		h.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, body)
}

func (h *ControlHandler) writeStatus(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, h.ctrl.Snapshot().Status())
}

func (h *ControlHandler) status(w http.ResponseWriter, r *http.Request) {
	h.writeStatus(w)
}

func (h *ControlHandler) toggle(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.Toggle(r.Context()); err != nil {
		h.fail(w, err)
		return
	}
	h.writeStatus(w)
}

type selectRequest struct {
	ID    models.ID `json:"id"`
	Smart bool      `json:"smart"`
}

// decode reads an optional JSON body. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}
	return nil
}

func (h *ControlHandler) connect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}

	var target *models.Location
	if req.ID != "" {
		loc, ok := h.ctrl.Snapshot().Directory.Find(req.ID)
		if !ok {
			h.fail(w, fmt.Errorf("%w: %s", shared.ErrLocationNotFound, req.ID))
			return
		}
		target = &loc
	}
	if err := h.ctrl.Connect(r.Context(), target); err != nil {
		h.fail(w, err)
		return
	}
	h.writeStatus(w)
}

func (h *ControlHandler) disconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.Disconnect(r.Context()); err != nil {
		h.fail(w, err)
		return
	}
	h.writeStatus(w)
}

func (h *ControlHandler) locations(w http.ResponseWriter, r *http.Request) {
	dir := h.ctrl.Snapshot().Directory
	if dir == nil {
		dir = models.Directory{}
	}
	writeJSON(w, http.StatusOK, dir)
}

func (h *ControlHandler) selectLocation(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}

	var err error
	switch {
	case req.Smart:
		err = h.ctrl.SelectLocation(r.Context(), nil)
	case req.ID != "":
		err = h.ctrl.SelectLocationByID(r.Context(), req.ID)
	default:
		err = fmt.Errorf("%w: id or smart", shared.ErrMissingArgument)
	}
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeStatus(w)
}

func (h *ControlHandler) refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.RefreshDirectory(r.Context()); err != nil {
		h.fail(w, err)
		return
	}
	h.locations(w, r)
}

func (h *ControlHandler) retry(w http.ResponseWriter, r *http.Request) {
	retried, err := h.ctrl.Retry(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Retried bool           `json:"retried"`
		Status  session.Status `json:"status"`
	}{retried, h.ctrl.Snapshot().Status()})
}

func (h *ControlHandler) listHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeJSON(w, http.StatusOK, []models.Event{})
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.fail(w, fmt.Errorf("%w: limit %q", shared.ErrInvalidInput, v))
			return
		}
		limit = n
	}

	events, err := h.history.List(r.Context(), limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	if events == nil {
		events = []models.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// events streams outcome events until the client goes away.
func (h *ControlHandler) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ch, cancel := h.ctrl.Events(16)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	data, _ := json.Marshal(h.ctrl.Snapshot().Status())
	fmt.Fprintf(w, "event: status\ndata: %s\n\n", data)
	flusher.Flush()

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case e, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				h.logger.Warn("failed to encode event", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Kind, data)
			flusher.Flush()
		}
	}
}

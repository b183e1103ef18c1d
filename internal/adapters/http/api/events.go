package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/okian/herald/internal/domain/model"
)

// Header names used by source-control webhooks.
const (
	headerEvent    = "X-GitHub-Event"
	headerDelivery = "X-GitHub-Delivery"
)

// maxBodyBytes bounds a single event body.
const maxBodyBytes = 5 << 20

// EventsHandler handles event requests.
type EventsHandler struct {
	deps Dependencies
	now  func() time.Time
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps Dependencies) *EventsHandler {
	return &EventsHandler{deps: deps, now: time.Now}
}

// eventRequest is the JSON envelope accepted by POST /events.
type eventRequest struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Action     string          `json:"action"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt *time.Time      `json:"received_at"`
}

func (e *eventRequest) validate() error {
	switch {
	case strings.TrimSpace(e.ID) == "":
		return errors.New("missing id")
	case strings.TrimSpace(e.Kind) == "":
		return errors.New("missing kind")
	case len(e.Payload) == 0:
		return errors.New("missing payload")
	}
	return nil
}

// HandlePostEvent handles POST /events. The body is either the JSON envelope
// or, when the webhook event header is present, the raw webhook payload.
func (h *EventsHandler) HandlePostEvent(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_event"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		tagIngest(w, model.Kind(strings.ToLower(r.Header.Get(headerEvent))), outcomeRejected)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", wrapKind(op, ErrBadRequest, err))
			return
		}
		writeError(w, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, err))
		return
	}

	var req eventRequest
	if kind := r.Header.Get(headerEvent); kind != "" {
		req = eventRequest{
			ID:      r.Header.Get(headerDelivery),
			Kind:    kind,
			Action:  webhookAction(body),
			Payload: body,
		}
	} else if err := json.Unmarshal(body, &req); err != nil {
		tagIngest(w, "", outcomeRejected)
		writeError(w, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, err))
		return
	}
	kind := model.Kind(strings.ToLower(req.Kind))
	if err := req.validate(); err != nil {
		tagIngest(w, kind, outcomeRejected)
		writeError(w, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, err))
		return
	}

	ev := model.RawEvent{
		ID:         req.ID,
		Kind:       kind,
		Action:     req.Action,
		Payload:    req.Payload,
		ReceivedAt: h.now(),
	}
	if req.ReceivedAt != nil {
		ev.ReceivedAt = *req.ReceivedAt
	}
	if ok := h.deps.Enqueue(r.Context(), ev); !ok {
		tagIngest(w, kind, outcomeBackpressure)
		writeError(w, http.StatusTooManyRequests, "backpressure", wrapKind(op, ErrBackpressure, nil))
		return
	}
	tagIngest(w, kind, outcomeAccepted)
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", ID: ev.ID})
}

// webhookAction reads the top-level "action" of a webhook payload.
func webhookAction(body []byte) string {
	var head struct {
		Action string `json:"action"`
	}
	_ = json.Unmarshal(body, &head)
	return head.Action
}

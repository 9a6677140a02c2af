package orders

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/publisherauthority/orderdesk/internal/auth"
	"github.com/publisherauthority/orderdesk/internal/events"
	"github.com/publisherauthority/orderdesk/internal/lifecycle"
	"github.com/publisherauthority/orderdesk/internal/prefs"
	"github.com/publisherauthority/orderdesk/internal/projector"
	"github.com/publisherauthority/orderdesk/internal/status"
	"github.com/publisherauthority/orderdesk/pkg/models"
	"github.com/sirupsen/logrus"
)

const maxRequestBytes = 64 << 10

// OrderView is an order as the dashboard renders it.
type OrderView struct {
	models.Order
	StatusLabel string             `json:"statusLabel"`
	Severity    status.Severity    `json:"severity"`
	Actions     []lifecycle.Action `json:"actions"`
}

func decorate(o models.Order, actor lifecycle.Actor) OrderView {
	o.Earnings = o.DisplayEarnings()
	actions := lifecycle.Actions(o.Status, actor)
	if actions == nil {
		actions = []lifecycle.Action{}
	}
	return OrderView{
		Order:       o,
		StatusLabel: status.Label(o.Status),
		Severity:    status.SeverityOf(o.Status),
		Actions:     actions,
	}
}

type listResponse struct {
	Success bool              `json:"success"`
	Filter  string            `json:"filter"`
	Orders  []OrderView       `json:"orders"`
	Counts  map[string]int    `json:"counts"`
	Summary projector.Summary `json:"summary"`
}

type actionBody struct {
	CurrentStatus string `json:"currentStatus"`
	SubmittedURL  string `json:"submittedUrl"`
	Notes         string `json:"notes"`
	Reason        string `json:"reason"`
}

// Handler serves the dashboard API on top of the gateway. It keeps no order
// state between requests.
type Handler struct {
	client    *Client
	publisher events.StatusPublisher
	prefs     prefs.Store
	logger    *logrus.Logger
}

// NewHandler wires the dashboard API. publisher and store may be nil.
func NewHandler(client *Client, publisher events.StatusPublisher, store prefs.Store, logger *logrus.Logger) *Handler {
	return &Handler{
		client:    client,
		publisher: publisher,
		prefs:     store,
		logger:    logger,
	}
}

// RegisterRoutes mounts the API on r, which must already run auth.Middleware.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/orders", h.ListOrders).Methods(http.MethodGet)
	r.HandleFunc("/orders/{id}", h.GetOrder).Methods(http.MethodGet)
	for _, action := range []lifecycle.Action{lifecycle.Submit, lifecycle.RequestRevision, lifecycle.Cancel, lifecycle.Complete} {
		r.HandleFunc("/orders/{id}/"+string(action), h.PerformAction(action)).Methods(http.MethodPost)
	}

	if h.prefs != nil {
		r.HandleFunc("/preferences/{key}", h.GetPreference).Methods(http.MethodGet)
		r.HandleFunc("/preferences/{key}", h.SetPreference).Methods(http.MethodPut)
	}
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	session, ok := auth.FromContext(r.Context())
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, auth.ErrMissingToken.Error())
		return
	}

	q := r.URL.Query()
	filter := ListFilter{Status: q.Get("status")}
	if session.Actor == lifecycle.Admin {
		filter.PublisherID = q.Get("publisherId")
	}

	orders, err := h.client.ListOrders(r.Context(), session.Actor, session.Token, filter)
	if err != nil {
		h.respondWithActionError(w, err)
		return
	}

	view := projector.Project(orders, q.Get("filter"))
	decorated := make([]OrderView, 0, len(view.Visible))
	for _, o := range view.Visible {
		decorated = append(decorated, decorate(o, session.Actor))
	}

	h.logger.WithFields(logrus.Fields{
		"user_id": session.UserID,
		"actor":   session.Actor,
		"filter":  view.Filter,
		"total":   len(orders),
		"visible": len(decorated),
	}).Debug("Projected order list")

	h.respondWithJSON(w, http.StatusOK, listResponse{
		Success: true,
		Filter:  view.Filter,
		Orders:  decorated,
		Counts:  view.Counts,
		Summary: projector.Summarize(orders),
	})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	session, ok := auth.FromContext(r.Context())
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, auth.ErrMissingToken.Error())
		return
	}

	order, err := h.client.GetOrder(r.Context(), session.Actor, session.Token, mux.Vars(r)["id"])
	if err != nil {
		h.respondWithActionError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"order":   decorate(*order, session.Actor),
	})
}

// PerformAction returns the handler for one lifecycle action.
func (h *Handler) PerformAction(action lifecycle.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := auth.FromContext(r.Context())
		if !ok {
			h.respondWithError(w, http.StatusUnauthorized, auth.ErrMissingToken.Error())
			return
		}

		var body actionBody
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&body); err != nil {
			h.logger.WithError(err).Warn("Failed to decode action request")
			h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		orderID := mux.Vars(r)["id"]
		req := ActionRequest{
			OrderID:       orderID,
			Actor:         session.Actor,
			CurrentStatus: body.CurrentStatus,
			Payload: lifecycle.Payload{
				URL:    body.SubmittedURL,
				Notes:  body.Notes,
				Reason: body.Reason,
			},
			Token: session.Token,
			Refresh: func(o models.Order) {
				h.announce(models.StatusChange{
					OrderID:        o.ID,
					PublisherID:    o.PublisherID,
					PreviousStatus: body.CurrentStatus,
					Status:         o.Status,
					Action:         string(action),
					Actor:          string(session.Actor),
					ActorID:        session.UserID,
					EventTime:      time.Now().UTC(),
				})
			},
		}

		// Runs to completion even if the dashboard disconnects; only the
		// http.Client timeout bounds it.
		res, err := h.client.Perform(context.WithoutCancel(r.Context()), action, req)
		if err != nil {
			h.respondWithActionError(w, err)
			return
		}

		h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"message": "Order is now " + status.Label(string(res.Status)),
			"order":   decorate(res.Order, session.Actor),
		})
	}
}

// announce tells other dashboards to reload. Failures never fail the action;
// the backend has already accepted it.
func (h *Handler) announce(change models.StatusChange) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.PublishStatusChanged(change); err != nil {
		h.logger.WithError(err).WithField("order_id", change.OrderID).Error("Failed to publish status change")
	}
}

func (h *Handler) GetPreference(w http.ResponseWriter, r *http.Request) {
	session, ok := auth.FromContext(r.Context())
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, auth.ErrMissingToken.Error())
		return
	}

	name := mux.Vars(r)["key"]
	key, err := prefs.UserKey(session.UserID, name)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	value, err := h.prefs.Get(r.Context(), key)
	if errors.Is(err, prefs.ErrNotFound) {
		h.respondWithError(w, http.StatusNotFound, "Preference not found")
		return
	}
	if err != nil {
		h.logger.WithError(err).WithField("key", key).Error("Failed to read preference")
		h.respondWithError(w, http.StatusInternalServerError, "Failed to read preference")
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"key":     name,
		"value":   value,
	})
}

func (h *Handler) SetPreference(w http.ResponseWriter, r *http.Request) {
	session, ok := auth.FromContext(r.Context())
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, auth.ErrMissingToken.Error())
		return
	}

	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&body); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	name := mux.Vars(r)["key"]
	key, err := prefs.UserKey(session.UserID, name)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = h.prefs.Set(r.Context(), key, body.Value)
	switch {
	case errors.Is(err, prefs.ErrInvalidKey), errors.Is(err, prefs.ErrValueTooLarge):
		h.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.WithError(err).WithField("key", key).Error("Failed to save preference")
		h.respondWithError(w, http.StatusInternalServerError, "Failed to save preference")
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"key":     name,
		"value":   body.Value,
	})
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "orderdesk",
		"backend": h.client.BreakerState(),
	})
}

func (h *Handler) respondWithActionError(w http.ResponseWriter, err error) {
	var aerr *ActionError
	if !errors.As(err, &aerr) {
		h.logger.WithError(err).Error("Unexpected order gateway error")
		h.respondWithError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	payload := map[string]interface{}{
		"success": false,
		"message": aerr.Message,
	}

	var terr *lifecycle.TransitionError
	if errors.As(err, &terr) && terr.Field != lifecycle.InputNone {
		payload["field"] = terr.Field
	}

	h.respondWithJSON(w, aerr.HTTPStatus(), payload)
}

func (h *Handler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal response")
		code = http.StatusInternalServerError
		response = []byte(`{"success":false,"message":"Internal error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func (h *Handler) respondWithError(w http.ResponseWriter, code int, message string) {
	h.respondWithJSON(w, code, map[string]interface{}{
		"success": false,
		"message": message,
	})
}

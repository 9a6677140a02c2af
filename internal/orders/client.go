package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/publisherauthority/orderdesk/internal/circuitbreaker"
	"github.com/publisherauthority/orderdesk/internal/lifecycle"
	"github.com/publisherauthority/orderdesk/internal/status"
	"github.com/publisherauthority/orderdesk/pkg/models"
	"github.com/sirupsen/logrus"
)

const maxResponseBytes = 4 << 20

// ActionRequest describes one lifecycle action as the dashboard last saw the
// order. CurrentStatus is only used for local validation; the backend decides.
type ActionRequest struct {
	OrderID       string
	Actor         lifecycle.Actor
	CurrentStatus string
	Payload       lifecycle.Payload
	Token         string
	// Refresh runs after the backend confirms the action so the caller can
	// reload authoritative state. Optional.
	Refresh func(models.Order)
}

type ActionResult struct {
	Order     models.Order
	Status    status.Status
	Predicted status.Status
}

type ListFilter struct {
	Status      string
	PublisherID string
}

// Client issues order lifecycle actions against the marketplace backend. It
// holds no order state and never retries; a failed call is returned as is.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	logger     *logrus.Logger
}

// NewClient builds a gateway. Timeouts belong to httpClient; a nil client gets
// a default with a 10s timeout. breaker may be nil.
func NewClient(baseURL string, httpClient *http.Client, breaker *circuitbreaker.CircuitBreaker, logger *logrus.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		breaker:    breaker,
		logger:     logger,
	}
}

func (c *Client) Submit(ctx context.Context, req ActionRequest) (*ActionResult, error) {
	return c.Perform(ctx, lifecycle.Submit, req)
}

func (c *Client) RequestRevision(ctx context.Context, req ActionRequest) (*ActionResult, error) {
	return c.Perform(ctx, lifecycle.RequestRevision, req)
}

func (c *Client) Cancel(ctx context.Context, req ActionRequest) (*ActionResult, error) {
	return c.Perform(ctx, lifecycle.Cancel, req)
}

func (c *Client) Complete(ctx context.Context, req ActionRequest) (*ActionResult, error) {
	return c.Perform(ctx, lifecycle.Complete, req)
}

// Perform validates the action locally, sends it and returns the order as
// the backend reports it afterwards.
func (c *Client) Perform(ctx context.Context, action lifecycle.Action, req ActionRequest) (*ActionResult, error) {
	op := string(action)

	tr, err := lifecycle.Apply(req.CurrentStatus, req.Actor, action, req.Payload)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"order_id": req.OrderID,
			"action":   action,
			"actor":    req.Actor,
			"status":   req.CurrentStatus,
		}).WithError(err).Info("Order action rejected locally")
		return nil, &ActionError{Kind: ErrLocalValidation, Op: op, OrderID: req.OrderID, Message: err.Error(), Err: err}
	}

	method, path, body := actionRequest(req.OrderID, tr)

	c.logger.WithFields(logrus.Fields{
		"order_id": req.OrderID,
		"action":   action,
		"actor":    req.Actor,
		"from":     tr.From,
		"to":       tr.To,
	}).Info("Sending order action to order service")

	respBody, err := c.do(ctx, op, req.OrderID, method, path, req.Token, body)
	if err != nil {
		return nil, err
	}

	order, err := decodeOrder(respBody)
	if err != nil {
		return nil, &ActionError{Kind: ErrRemoteRejection, Op: op, OrderID: req.OrderID, Message: msgBadResponse, Err: err}
	}

	if order.Status == "" {
		c.logger.WithField("order_id", order.ID).Warn("Order service response omitted status, using predicted status")
		order.Status = string(tr.To)
	}

	confirmed := status.Parse(order.Status)
	if confirmed != tr.To {
		c.logger.WithFields(logrus.Fields{
			"order_id":  order.ID,
			"predicted": tr.To,
			"confirmed": order.Status,
		}).Warn("Order service reported a different status than predicted")
	}

	c.logger.WithFields(logrus.Fields{
		"order_id": order.ID,
		"action":   action,
		"status":   order.Status,
	}).Info("Order action confirmed by order service")

	if req.Refresh != nil {
		req.Refresh(order)
	}

	return &ActionResult{Order: order, Status: confirmed, Predicted: tr.To}, nil
}

func actionRequest(orderID string, tr lifecycle.Transition) (method, path string, body any) {
	id := url.PathEscape(orderID)

	if tr.Action == lifecycle.Submit {
		return http.MethodPost, "/orders/" + id + "/submit", submitBody{
			SubmittedURL: tr.Payload.URL,
			Notes:        tr.Payload.Notes,
		}
	}

	notes := tr.Payload.Notes
	if lifecycle.RequiredInput(tr.Action) == lifecycle.InputReason {
		notes = tr.Payload.Reason
	}
	return http.MethodPut, "/admin/orders/" + id + "/status", statusBody{
		Status: string(tr.To),
		Notes:  notes,
	}
}

type submitBody struct {
	SubmittedURL string `json:"submittedUrl"`
	Notes        string `json:"notes,omitempty"`
}

type statusBody struct {
	Status string `json:"status"`
	Notes  string `json:"notes,omitempty"`
}

// ListOrders fetches the orders visible to actor. Admins read the admin
// listing, publishers their own.
func (c *Client) ListOrders(ctx context.Context, actor lifecycle.Actor, token string, filter ListFilter) ([]models.Order, error) {
	path := "/orders"
	if actor == lifecycle.Admin {
		path = "/admin/orders"
	}

	q := url.Values{}
	if filter.Status != "" {
		q.Set("status", filter.Status)
	}
	if filter.PublisherID != "" {
		q.Set("publisherId", filter.PublisherID)
	}
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	c.logger.WithFields(logrus.Fields{
		"actor":  actor,
		"status": filter.Status,
	}).Info("Fetching orders from order service")

	respBody, err := c.do(ctx, "list", "", http.MethodGet, path, token, nil)
	if err != nil {
		return nil, err
	}

	orders, err := decodeOrders(respBody)
	if err != nil {
		return nil, &ActionError{Kind: ErrRemoteRejection, Op: "list", Message: msgBadResponse, Err: err}
	}

	c.logger.WithField("count", len(orders)).Info("Retrieved orders from order service")
	return orders, nil
}

func (c *Client) GetOrder(ctx context.Context, actor lifecycle.Actor, token, orderID string) (*models.Order, error) {
	path := "/orders/" + url.PathEscape(orderID)
	if actor == lifecycle.Admin {
		path = "/admin" + path
	}

	respBody, err := c.do(ctx, "get", orderID, http.MethodGet, path, token, nil)
	if err != nil {
		return nil, err
	}

	order, err := decodeOrder(respBody)
	if err != nil {
		return nil, &ActionError{Kind: ErrRemoteRejection, Op: "get", OrderID: orderID, Message: msgBadResponse, Err: err}
	}
	return &order, nil
}

// do sends one request and returns the body of a 2xx response. Transport
// failures and 5xx answers count against the circuit breaker, 4xx do not.
func (c *Client) do(ctx context.Context, op, orderID, method, path, token string, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
	}

	requestID := uuid.NewString()

	var (
		code     int
		respBody []byte
	)
	call := func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Request-ID", requestID)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return &ActionError{Kind: ErrNetwork, Op: op, OrderID: orderID, Message: msgNetwork, Err: err}
		}
		defer resp.Body.Close()

		respBody, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return &ActionError{Kind: ErrNetwork, Op: op, OrderID: orderID, Message: msgNetwork, Err: err}
		}
		code = resp.StatusCode

		if code >= http.StatusInternalServerError {
			return remoteError(op, orderID, code, respBody)
		}
		return nil
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(ctx, call)
	} else {
		err = call(ctx)
	}

	if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
		err = &ActionError{Kind: ErrNetwork, Op: op, OrderID: orderID, Message: msgUnavailable, Err: err}
	}
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"request_id": requestID,
			"op":         op,
			"order_id":   orderID,
			"path":       path,
		}).WithError(err).Error("Order service request failed")
		return nil, err
	}

	if code >= http.StatusBadRequest {
		rerr := remoteError(op, orderID, code, respBody)
		c.logger.WithFields(logrus.Fields{
			"request_id": requestID,
			"op":         op,
			"order_id":   orderID,
			"status":     code,
		}).WithError(rerr).Warn("Order service rejected request")
		return nil, rerr
	}

	return respBody, nil
}

// BreakerState reports the backend circuit state for health checks.
func (c *Client) BreakerState() string {
	if c.breaker == nil {
		return "disabled"
	}
	return c.breaker.State().String()
}

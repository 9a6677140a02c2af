package orders

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/publisherauthority/orderdesk/pkg/models"
)

var errNoOrder = errors.New("response did not contain an order")

// unwrapKeys descends through wrapper objects one key at a time while the key
// is present. {"data":{"order":{...}}}, {"order":{...}} and {...} all resolve
// to the inner object.
func unwrapKeys(raw json.RawMessage, keys ...string) json.RawMessage {
	for _, key := range keys {
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) == 0 || trimmed[0] != '{' {
			return raw
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return raw
		}
		inner, ok := obj[key]
		if !ok || bytes.Equal(bytes.TrimSpace(inner), []byte("null")) {
			continue
		}
		raw = inner
	}
	return raw
}

func decodeOrder(body []byte) (models.Order, error) {
	raw := unwrapKeys(body, "data", "order")

	var order models.Order
	if err := json.Unmarshal(raw, &order); err != nil {
		return models.Order{}, fmt.Errorf("failed to decode order: %w", err)
	}
	if order.ID == "" {
		return models.Order{}, errNoOrder
	}
	return order, nil
}

func decodeOrders(body []byte) ([]models.Order, error) {
	raw := unwrapKeys(body, "data", "orders")

	orders := []models.Order{}
	if err := json.Unmarshal(raw, &orders); err != nil {
		return nil, fmt.Errorf("failed to decode order list: %w", err)
	}
	return orders, nil
}

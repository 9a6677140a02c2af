package projector

import (
	"strings"

	"github.com/publisherauthority/orderdesk/internal/status"
	"github.com/publisherauthority/orderdesk/pkg/models"
	"github.com/shopspring/decimal"
)

type View struct {
	Filter  string         `json:"filter"`
	Visible []models.Order `json:"orders"`
	Counts  map[string]int `json:"counts"`
}

// Project filters orders for the selected tab and counts every tab. Input
// order is preserved; the backend decides sorting.
func Project(orders []models.Order, filterKey string) View {
	key := strings.ToLower(strings.TrimSpace(filterKey))
	if key == "" {
		key = status.FilterAll
	}

	counts := make(map[string]int, len(status.FilterKeys()))
	for _, k := range status.FilterKeys() {
		counts[k] = 0
	}
	counts[status.FilterAll] = len(orders)

	target := status.Normalize(key)
	if s, ok := status.ForFilter(key); ok {
		target = status.Normalize(string(s))
	}

	visible := make([]models.Order, 0, len(orders))
	for _, o := range orders {
		if b := status.Bucket(o.Status); b != "" {
			counts[b]++
		}
		if key == status.FilterAll || status.Normalize(o.Status) == target {
			visible = append(visible, o)
		}
	}

	return View{Filter: key, Visible: visible, Counts: counts}
}

type Summary struct {
	CompletedEarnings   decimal.Decimal `json:"completedEarnings"`
	OutstandingEarnings decimal.Decimal `json:"outstandingEarnings"`
	Completed           int             `json:"completed"`
	Active              int             `json:"active"`
	Cancelled           int             `json:"cancelled"`
}

// Summarize totals earnings for the dashboard cards. Orders with an unknown
// status are left out of every figure.
func Summarize(orders []models.Order) Summary {
	sum := Summary{
		CompletedEarnings:   decimal.Zero,
		OutstandingEarnings: decimal.Zero,
	}
	for _, o := range orders {
		s := status.Parse(o.Status)
		switch {
		case s == status.Completed:
			sum.Completed++
			sum.CompletedEarnings = sum.CompletedEarnings.Add(o.DisplayEarnings())
		case s == status.Cancelled:
			sum.Cancelled++
		case s.Known():
			sum.Active++
			sum.OutstandingEarnings = sum.OutstandingEarnings.Add(o.DisplayEarnings())
		}
	}
	return sum
}

package main

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/publisherauthority/orderdesk/internal/lifecycle"
	"github.com/publisherauthority/orderdesk/internal/status"
	"github.com/publisherauthority/orderdesk/pkg/models"
	"github.com/shopspring/decimal"
)

var (
	errNotFound = errors.New("order not found")
	errConflict = errors.New("order cannot make that transition")
	errMissing  = errors.New("required field missing")
)

// OrderStore is the in-memory marketplace. It applies the same lifecycle the
// dashboard validates against, so conflicting updates are refused here too.
type OrderStore struct {
	orders map[string]*models.Order
	mutex  sync.RWMutex
	now    func() time.Time
}

func NewOrderStore() *OrderStore {
	return &OrderStore{
		orders: make(map[string]*models.Order),
		now:    time.Now,
	}
}

var seedOrders = []struct {
	title    string
	status   status.Status
	earnings string
	dueDays  int
}{
	{"Guest post: beginner's guide to index funds", status.Pending, "120.00", 14},
	{"Link insertion in travel roundup", status.ReadyToPost, "45.50", 7},
	{"Sponsored review: noise-cancelling headphones", status.Verifying, "210.00", 3},
	{"Listicle: ten remote work tools", status.RevisionRequested, "80.00", 5},
	{"Evergreen how-to: home espresso", status.Completed, "95.25", -10},
	{"Press release syndication", status.Cancelled, "60.00", -2},
}

// Seed gives every publisher one order in each status.
func (s *OrderStore) Seed(publisherIDs []string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.now().UTC()
	for pi, publisherID := range publisherIDs {
		for i, seed := range seedOrders {
			deadline := now.AddDate(0, 0, seed.dueDays)
			order := &models.Order{
				ID:          uuid.NewString(),
				Title:       seed.title,
				Status:      string(seed.status),
				Deadline:    &deadline,
				Earnings:    decimal.RequireFromString(seed.earnings),
				WebsiteID:   "site-" + publisherID,
				PublisherID: publisherID,
				CreatedAt:   now.Add(-time.Duration(pi*len(seedOrders)+i) * time.Hour),
			}
			switch seed.status {
			case status.Verifying, status.Completed, status.RevisionRequested:
				submitted := now.AddDate(0, 0, -1)
				order.SubmittedURL = "https://" + order.WebsiteID + ".example.com/posts/" + order.ID[:8]
				order.SubmittedAt = &submitted
			}
			if seed.status == status.RevisionRequested {
				order.RevisionNotes = "Anchor text does not match the brief."
			}
			s.orders[order.ID] = order
		}
	}
}

// List returns copies, newest first. Empty filters match everything.
func (s *OrderStore) List(publisherID, rawStatus string) []models.Order {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	want := status.Normalize(rawStatus)
	out := make([]models.Order, 0, len(s.orders))
	for _, o := range s.orders {
		if publisherID != "" && o.PublisherID != publisherID {
			continue
		}
		if want != "" && status.Normalize(o.Status) != want {
			continue
		}
		out = append(out, *o)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Get returns the order if publisherID is empty (admin) or owns it.
func (s *OrderStore) Get(id, publisherID string) (models.Order, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	o, ok := s.orders[id]
	if !ok || (publisherID != "" && o.PublisherID != publisherID) {
		return models.Order{}, errNotFound
	}
	return *o, nil
}

// Apply runs one lifecycle action atomically.
func (s *OrderStore) Apply(id, publisherID string, actor lifecycle.Actor, action lifecycle.Action, p lifecycle.Payload) (models.Order, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	o, ok := s.orders[id]
	if !ok || (publisherID != "" && o.PublisherID != publisherID) {
		return models.Order{}, errNotFound
	}

	tr, err := lifecycle.Apply(o.Status, actor, action, p)
	switch {
	case errors.Is(err, lifecycle.ErrMissingInput):
		return models.Order{}, fmt.Errorf("%w: %w", errMissing, err)
	case err != nil:
		return models.Order{}, fmt.Errorf("%w: %w", errConflict, err)
	}

	now := s.now().UTC()
	switch action {
	case lifecycle.Submit:
		o.SubmittedURL = p.URL
		o.SubmissionNotes = p.Notes
		o.SubmittedAt = &now
	case lifecycle.RequestRevision:
		o.RevisionNotes = p.Reason
	case lifecycle.Cancel:
		o.VerificationNotes = p.Reason
	case lifecycle.Complete:
		o.VerificationNotes = p.Notes
	}
	o.Status = string(tr.To)

	return *o, nil
}

// actionForStatus maps the admin status endpoint onto lifecycle actions.
func actionForStatus(raw string) (lifecycle.Action, bool) {
	switch status.Parse(raw) {
	case status.RevisionRequested:
		return lifecycle.RequestRevision, true
	case status.Cancelled:
		return lifecycle.Cancel, true
	case status.Completed:
		return lifecycle.Complete, true
	default:
		return "", false
	}
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Order struct {
	ID                string          `json:"id"`
	Title             string          `json:"title"`
	Status            string          `json:"status"`
	Deadline          *time.Time      `json:"deadline,omitempty"`
	Earnings          decimal.Decimal `json:"earnings"`
	SubmittedURL      string          `json:"submittedUrl,omitempty"`
	SubmissionNotes   string          `json:"submissionNotes,omitempty"`
	SubmittedAt       *time.Time      `json:"submittedAt,omitempty"`
	RevisionNotes     string          `json:"revisionNotes,omitempty"`
	VerificationNotes string          `json:"verificationNotes,omitempty"`
	WebsiteID         string          `json:"websiteId,omitempty"`
	PublisherID       string          `json:"publisherId,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
}

// DisplayEarnings never goes below zero; a missing amount decodes as zero.
func (o Order) DisplayEarnings() decimal.Decimal {
	if o.Earnings.IsNegative() {
		return decimal.Zero
	}
	return o.Earnings
}

type OrderResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Order   *Order `json:"order,omitempty"`
}

// StatusChange is emitted once the backend confirms a transition.
type StatusChange struct {
	OrderID        string    `json:"order_id"`
	PublisherID    string    `json:"publisher_id,omitempty"`
	PreviousStatus string    `json:"previous_status"`
	Status         string    `json:"status"`
	Action         string    `json:"action"`
	Actor          string    `json:"actor"`
	ActorID        string    `json:"actor_id,omitempty"`
	EventTime      time.Time `json:"event_time"`
}

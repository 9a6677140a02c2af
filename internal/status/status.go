package status

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Status is a canonical order status as reported by the marketplace backend.
type Status string

const (
	Pending           Status = "pending"
	ReadyToPost       Status = "ready-to-post"
	Verifying         Status = "verifying"
	RevisionRequested Status = "revision-requested"
	Completed         Status = "completed"
	Cancelled         Status = "cancelled"

	// Unknown stands in for any value outside the vocabulary.
	Unknown Status = "unknown"
)

var known = []Status{Pending, ReadyToPost, Verifying, RevisionRequested, Completed, Cancelled}

var titler = cases.Title(language.Und)

// All returns the known statuses in lifecycle order.
func All() []Status {
	out := make([]Status, len(known))
	copy(out, known)
	return out
}

// Parse maps a raw backend value onto the vocabulary. Case, surrounding
// whitespace and "_"/" " separators are tolerated; anything else is Unknown.
func Parse(raw string) Status {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer("_", "-", " ", "-").Replace(s)
	for _, k := range known {
		if Status(s) == k {
			return k
		}
	}
	return Unknown
}

func (s Status) String() string {
	return string(s)
}

func (s Status) Known() bool {
	return s != Unknown && Parse(string(s)) == s
}

// Terminal statuses have no outgoing transitions.
func (s Status) Terminal() bool {
	return s == Completed || s == Cancelled
}

// Normalize strips separators and lowercases, the form list filters compare on.
func Normalize(raw string) string {
	return strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(strings.TrimSpace(raw)))
}

// Label renders a status for humans: "ready-to-post" becomes "Ready To Post".
func Label(raw string) string {
	s := Parse(raw)
	if s == Unknown {
		return "Unknown"
	}
	return titler.String(strings.ReplaceAll(string(s), "-", " "))
}

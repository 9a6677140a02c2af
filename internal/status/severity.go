package status

// Severity selects the badge style a status is rendered with.
type Severity string

const (
	SeverityDefault Severity = "default"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeveritySuccess Severity = "success"
	SeverityDanger  Severity = "danger"
)

func SeverityOf(raw string) Severity {
	switch Parse(raw) {
	case Completed:
		return SeveritySuccess
	case ReadyToPost:
		return SeverityInfo
	case Verifying, RevisionRequested:
		return SeverityWarning
	case Cancelled:
		return SeverityDanger
	default:
		return SeverityDefault
	}
}

// Filter keys used by the order list tabs.
const (
	FilterAll       = "all"
	FilterPending   = "pending"
	FilterReady     = "ready"
	FilterVerifying = "verifying"
	FilterRevision  = "revision"
	FilterCompleted = "completed"
	FilterCancelled = "cancelled"
)

var buckets = map[Status]string{
	Pending:           FilterPending,
	ReadyToPost:       FilterReady,
	Verifying:         FilterVerifying,
	RevisionRequested: FilterRevision,
	Completed:         FilterCompleted,
	Cancelled:         FilterCancelled,
}

// FilterKeys lists every tab key, "all" first.
func FilterKeys() []string {
	return []string{FilterAll, FilterPending, FilterReady, FilterVerifying, FilterRevision, FilterCompleted, FilterCancelled}
}

// Bucket returns the tab a status is counted under, or "" for unknown values.
func Bucket(raw string) string {
	return buckets[Parse(raw)]
}

// ForFilter resolves a tab key back to its status. Keys that are not tabs are
// tried as raw statuses, so "ready-to-post" and "ready" are equivalent.
func ForFilter(key string) (Status, bool) {
	n := Normalize(key)
	for s, b := range buckets {
		if b == n {
			return s, true
		}
	}
	s := Parse(key)
	return s, s != Unknown
}

package types

import (
	"fmt"
	"strings"
	"time"
)

// AddressObservation is the request volume seen for one address during an interval
type AddressObservation struct {
	Address string `json:"address"`
	Count   int    `json:"count"`
}

// ReputationResult is what the reputation provider knows about an address.
// LastReportedAt is nil when the provider has no report timestamp.
type ReputationResult struct {
	Address         string     `json:"address"`
	ConfidenceScore int        `json:"confidence_score"`
	TotalReports    int        `json:"total_reports"`
	LastReportedAt  *time.Time `json:"last_reported_at,omitempty"`
}

// ReportedWithin reports whether the most recent report is younger than window at now.
func (r ReputationResult) ReportedWithin(now time.Time, window time.Duration) bool {
	if r.LastReportedAt == nil {
		return false
	}
	return now.Sub(*r.LastReportedAt) < window
}

// Class is the outcome assigned to an address or a block
type Class int

const (
	ClassAllowed Class = iota + 1
	ClassFlagged
	ClassBanned
)

// Classes lists every class in ascending precedence.
var Classes = []Class{ClassAllowed, ClassFlagged, ClassBanned}

func (c Class) String() string {
	switch c {
	case ClassAllowed:
		return "allowed"
	case ClassFlagged:
		return "flagged"
	case ClassBanned:
		return "banned"
	default:
		return "unknown"
	}
}

// ParseClass accepts the names produced by String.
func ParseClass(s string) (Class, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "allowed", "allow":
		return ClassAllowed, nil
	case "flagged", "flag":
		return ClassFlagged, nil
	case "banned", "ban":
		return ClassBanned, nil
	}
	return 0, fmt.Errorf("unknown class %q", s)
}

// Scope tells whether a decision targets a single address or a whole block
type Scope string

const (
	ScopeAddress Scope = "address"
	ScopeBlock   Scope = "block"
)

// Decision is emitted once per classified target
type Decision struct {
	Target    string    `json:"target"`
	Scope     Scope     `json:"scope"`
	Class     Class     `json:"class"`
	Reason    string    `json:"reason"`
	DecidedAt time.Time `json:"decided_at"`
}

// Package query classifies free-form queries and resolves them against the notes.
package query

import (
	"fmt"

	"github.com/starford/ansuz/internal/models"
)

// IntentKind enumerates the resolution strategies.
type IntentKind int

const (
	IntentSemantic IntentKind = iota
	IntentExactID
	IntentSubstring
	IntentDateExact
	IntentDateRange
	IntentRollingWindow
)

var intentNames = map[IntentKind]string{
	IntentSemantic:      "semantic",
	IntentExactID:       "exact_id",
	IntentSubstring:     "substring",
	IntentDateExact:     "date_exact",
	IntentDateRange:     "date_range",
	IntentRollingWindow: "rolling_window",
}

func (k IntentKind) String() string {
	if s, ok := intentNames[k]; ok {
		return s
	}
	return fmt.Sprintf("intent(%d)", int(k))
}

// Intent is the classified form of a raw query. Which fields are set depends on Kind:
//
//	ExactID        ID
//	Substring      Term
//	DateExact      Start (== End)
//	DateRange      Start, End
//	RollingWindow  Days, SubQuery (may be empty)
//	Semantic       Text
//
// A date rule that matched a malformed date literal carries Err instead.
type Intent struct {
	Kind     IntentKind
	Raw      string
	ID       string
	Term     string
	Start    models.Date
	End      models.Date
	Days     int
	SubQuery string
	Text     string
	Err      error
}

package simulation

import (
	"fmt"
	"strings"
	"time"
)

const summaryTimeLayout = "Jan 02, 2006, 03:04 PM"

// SummaryInput is everything the summary builder reads
type SummaryInput struct {
	ScenarioName     string
	UserName         string
	StartedAt        time.Time
	EndedAt          time.Time
	CompletionReason string
	Actions          []ActionEntry
}

// BuildSummary renders the plain-text end-of-session report. Timestamps are
// shown in loc.
func BuildSummary(in SummaryInput, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	userName := in.UserName
	if userName == "" {
		userName = "Unknown user"
	}

	var b strings.Builder
	b.WriteString("Scenario Summary\n")
	fmt.Fprintf(&b, "Scenario: %s\n", in.ScenarioName)
	fmt.Fprintf(&b, "User: %s\n", userName)
	fmt.Fprintf(&b, "Started: %s\n", formatTimestamp(in.StartedAt, loc))
	fmt.Fprintf(&b, "Ended: %s\n", formatTimestamp(in.EndedAt, loc))
	if in.CompletionReason != "" {
		fmt.Fprintf(&b, "Completion: %s\n", in.CompletionReason)
	}
	fmt.Fprintf(&b, "Actions (%d):", len(in.Actions))
	if len(in.Actions) == 0 {
		b.WriteString("\n- No actions recorded.")
	}
	for i, a := range in.Actions {
		fmt.Fprintf(&b, "\n%d. %s: %s", i+1, formatTimestamp(a.CreatedAt, loc), a.ActionLabel)
	}
	return b.String()
}

func formatTimestamp(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.In(loc).Format(summaryTimeLayout)
}

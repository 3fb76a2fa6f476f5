package runner

import (
	"fmt"
	"strings"
)

type Summary struct {
	Status     Status `json:"status"`
	DurationMS int64  `json:"duration_ms"`
	Summary    string `json:"summary"`

	// BugSummary is empty for passing sessions.
	BugSummary          string `json:"bug_summary,omitempty"`
	VerificationsPassed int    `json:"verifications_passed"`
	VerificationsTotal  int    `json:"verifications_total"`
}

// Summarize renders the human-readable report of a finished session.
func Summarize(s *SessionState) *Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	passed := 0
	for _, r := range s.Results {
		if r.Passed {
			passed++
		}
	}
	total := len(s.Results)
	duration := s.EndedAt.Sub(s.StartedAt)
	if s.EndedAt.IsZero() {
		duration = 0
	}

	tally := ""
	if total > 0 {
		tally = fmt.Sprintf("\n\nVerification results: %d/%d passed", passed, total)
		if passed < total {
			tally += fmt.Sprintf(" (%d failed)", total-passed)
		}
	}

	var log []string
	for i, step := range s.Steps {
		line := fmt.Sprintf("Step %d: %s", i+1, step.GetText())
		if r := step.Meta().Reasoning; r != "" {
			line += " - " + r
		}
		log = append(log, line)
	}
	for _, r := range s.Results {
		log = append(log, r.String())
	}
	// Reasons built from coded errors already carry the "[CODE] " prefix.
	reason := strings.TrimPrefix(s.Reason, "["+s.ErrorCode+"] ")
	if s.FailedStep > 0 {
		log = append(log, fmt.Sprintf("Step %d failed at %s: [%s] %s", s.FailedStep, s.LastURL, s.ErrorCode, reason))
	}

	summary := &Summary{
		Status:              s.Status,
		DurationMS:          duration.Milliseconds(),
		VerificationsPassed: passed,
		VerificationsTotal:  total,
	}
	if s.Status == StatusPassed {
		summary.Summary = fmt.Sprintf("Successfully completed test on %s.%s\n%s", s.StartURL, tally, strings.Join(log, "\n"))
	} else {
		summary.Summary = fmt.Sprintf("Failed to complete test on %s.%s\n%s", s.StartURL, tally, strings.Join(log, "\n"))
		switch {
		case reason != "" && s.ErrorCode != "":
			summary.BugSummary = fmt.Sprintf("%s: %s", s.ErrorCode, reason)
		case reason != "":
			summary.BugSummary = reason
		case passed < total:
			summary.BugSummary = "Verification failed"
		default:
			summary.BugSummary = "Test execution incomplete"
		}
		if s.FailedStep > 0 {
			summary.BugSummary = fmt.Sprintf("Step %d failed at %s: %s", s.FailedStep, s.LastURL, summary.BugSummary)
		}
	}
	return summary
}

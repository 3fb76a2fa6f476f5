package trajectory

import (
	"fmt"
	"strings"

	"sentinelqa/verify"
)

// Observation is what the decision model sees of the page before a step.
type Observation struct {
	DontHandoff
	Render

	URL   string `json:"url"`
	Title string `json:"title,omitempty"`

	// Text is the interactive-element digest of the page.
	Text       string `json:"text"`
	Screenshot []byte `json:"-"`
}

func NewObservation(url string, title string, text string, screenshot []byte) *Observation {
	return &Observation{
		URL:        url,
		Title:      title,
		Text:       text,
		Screenshot: screenshot,
	}
}

func (o *Observation) GetText() string {
	return fmt.Sprintf("observation: %s", o.Text)
}

func (o *Observation) GetAbbreviatedText() string {
	return fmt.Sprintf("observation: Visited %s", o.URL)
}

// VerificationItem records assertion results, either from a mid-session
// verify action or from the final verification phase.
type VerificationItem struct {
	DontHandoff
	Render

	Results []verify.Result `json:"results"`
}

func NewVerificationItem(results []verify.Result) *VerificationItem {
	return &VerificationItem{Results: results}
}

func (v *VerificationItem) GetText() string {
	lines := make([]string, 0, len(v.Results))
	for _, r := range v.Results {
		status := "FAIL"
		if r.Passed {
			status = "PASS"
		}
		lines = append(lines, fmt.Sprintf("%s %s (%s confidence): %s", status, r.Assertion.String(), r.Confidence, r.Reason))
	}
	return fmt.Sprintf("verification:\n%s", strings.Join(lines, "\n"))
}

func (v *VerificationItem) GetAbbreviatedText() string {
	passed := 0
	for _, r := range v.Results {
		if r.Passed {
			passed++
		}
	}
	return fmt.Sprintf("verification: %d/%d passed", passed, len(v.Results))
}

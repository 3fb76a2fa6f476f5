package verify

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"sentinelqa/target"
)

type Kind string

const (
	KindExists       Kind = "exists"
	KindVisible      Kind = "visible"
	KindNotVisible   Kind = "not_visible"
	KindEnabled      Kind = "enabled"
	KindTextContains Kind = "text_contains"
	KindTextEquals   Kind = "text_equals"
	KindURLContains  Kind = "url_contains"
)

var Kinds = []Kind{KindExists, KindVisible, KindNotVisible, KindEnabled, KindTextContains, KindTextEquals, KindURLContains}

func (k Kind) Valid() bool {
	for _, kind := range Kinds {
		if kind == k {
			return true
		}
	}
	return false
}

// Assertion is one typed check against the current page.
type Assertion struct {
	Kind     Kind               `json:"kind" yaml:"kind"`
	Target   *target.Descriptor `json:"target,omitempty" yaml:"target,omitempty"`
	Expected string             `json:"expected,omitempty" yaml:"expected,omitempty"`

	// Description is the human phrasing, e.g. "success banner is shown".
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

func (a Assertion) String() string {
	if a.Description != "" {
		return a.Description
	}
	switch {
	case a.Target.IsEmpty() && a.Expected == "":
		return string(a.Kind)
	case a.Target.IsEmpty():
		return fmt.Sprintf("%s %q", a.Kind, a.Expected)
	case a.Expected == "":
		return fmt.Sprintf("%s [%s]", a.Kind, a.Target.String())
	default:
		return fmt.Sprintf("%s [%s] %q", a.Kind, a.Target.String(), a.Expected)
	}
}

type Result struct {
	Assertion    Assertion         `json:"assertion"`
	Passed       bool              `json:"passed"`
	Confidence   target.Confidence `json:"confidence"`
	Actual       string            `json:"actual"`
	Reason       string            `json:"reason"`
	SelectorUsed string            `json:"selector_used,omitempty"`
	Strategy     target.Strategy   `json:"strategy,omitempty"`

	// Code is set when the target could not be resolved.
	Code string `json:"code,omitempty"`
}

func (r Result) String() string {
	if r.Passed {
		return fmt.Sprintf("PASS [%s] %s: %s", r.Confidence, r.Assertion.String(), r.Reason)
	}
	return fmt.Sprintf("FAIL [%s] %s: expected %q, actual %q (%s)", r.Confidence, r.Assertion.String(), r.Assertion.Expected, r.Actual, r.Reason)
}

// Probe reads live element state for a resolved candidate.
type Probe interface {
	Count(ctx context.Context, c *target.Candidate) (int, error)
	Visible(ctx context.Context, c *target.Candidate) (bool, error)
	Enabled(ctx context.Context, c *target.Candidate) (bool, error)
	Text(ctx context.Context, c *target.Candidate) (string, error)
}

// Checker evaluates one assertion against a resolved candidate.
type Checker func(ctx context.Context, probe Probe, c *target.Candidate, a Assertion) (passed bool, actual string, reason string, err error)

var builtinCheckers = map[Kind]Checker{
	KindExists:       checkExists,
	KindVisible:      checkVisible,
	KindNotVisible:   checkNotVisible,
	KindEnabled:      checkEnabled,
	KindTextContains: checkTextContains,
	KindTextEquals:   checkTextEquals,
}

const maxActualLength = 100

func checkExists(ctx context.Context, probe Probe, c *target.Candidate, a Assertion) (bool, string, string, error) {
	n, err := probe.Count(ctx, c)
	if err != nil {
		return false, "", "", err
	}
	if n > 0 {
		return true, fmt.Sprintf("%d element(s) found", n), "element exists", nil
	}
	return false, "0 element(s) found", "element not found in DOM", nil
}

func checkVisible(ctx context.Context, probe Probe, c *target.Candidate, a Assertion) (bool, string, string, error) {
	visible, err := probe.Visible(ctx, c)
	if err != nil {
		return false, "", "", err
	} else if visible {
		return true, "visible", "element is visible", nil
	}
	return false, "not visible", "element exists but is not visible", nil
}

func checkNotVisible(ctx context.Context, probe Probe, c *target.Candidate, a Assertion) (bool, string, string, error) {
	visible, err := probe.Visible(ctx, c)
	if err != nil {
		return false, "", "", err
	} else if !visible {
		return true, "hidden", "element is hidden", nil
	}
	return false, "still visible", "element is still visible", nil
}

func checkEnabled(ctx context.Context, probe Probe, c *target.Candidate, a Assertion) (bool, string, string, error) {
	enabled, err := probe.Enabled(ctx, c)
	if err != nil {
		return false, "", "", err
	} else if enabled {
		return true, "enabled", "element is enabled", nil
	}
	return false, "disabled", "element is disabled or covered", nil
}

func checkTextContains(ctx context.Context, probe Probe, c *target.Candidate, a Assertion) (bool, string, string, error) {
	text, err := probe.Text(ctx, c)
	if err != nil {
		return false, "", "", err
	}
	text = strings.TrimSpace(text)
	if strings.Contains(strings.ToLower(text), strings.ToLower(a.Expected)) {
		return true, truncate(text), fmt.Sprintf("text contains %q", a.Expected), nil
	}
	return false, truncate(text), fmt.Sprintf("text does not contain %q", a.Expected), nil
}

func checkTextEquals(ctx context.Context, probe Probe, c *target.Candidate, a Assertion) (bool, string, string, error) {
	text, err := probe.Text(ctx, c)
	if err != nil {
		return false, "", "", err
	}
	text = strings.TrimSpace(text)
	if strings.EqualFold(text, strings.TrimSpace(a.Expected)) {
		return true, truncate(text), "text matches exactly", nil
	}
	return false, truncate(text), fmt.Sprintf("text mismatch: got %q", truncate(text)), nil
}

// truncate cuts s to maxActualLength runes.
func truncate(s string) string {
	if utf8.RuneCountInString(s) <= maxActualLength {
		return s
	}
	return string([]rune(s)[:maxActualLength])
}

// Package instruction turns a recorded action sequence into the natural
// language instruction the decision loop consumes.
package instruction

import (
	"fmt"
	"net/url"
	"strings"

	"sentinelqa/trajectory"
)

const partSeparator = ", then "

type field struct {
	label string
	value string
}

type synthesizer struct {
	parts []string
	form  []field
}

// Synthesize renders actions in order. Consecutive type actions merge into a
// single form part. The result is never empty: with nothing to render it
// falls back to "Test the page at <host><path>".
func Synthesize(actions []trajectory.Action, pageURL string) string {
	s := &synthesizer{}
	for _, a := range actions {
		if a == nil {
			continue
		}
		_ = a.Accept(s)
	}
	s.flush()
	if len(s.parts) == 0 {
		return fallback(pageURL)
	}
	return strings.Join(s.parts, partSeparator)
}

func fallback(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return fmt.Sprintf("Test the page at %s", pageURL)
	}
	return fmt.Sprintf("Test the page at %s%s", u.Host, u.Path)
}

func (s *synthesizer) add(part string) {
	s.flush()
	s.parts = append(s.parts, part)
}

func (s *synthesizer) flush() {
	if len(s.form) == 0 {
		return
	}
	fields := make([]string, len(s.form))
	for i, f := range s.form {
		fields[i] = fmt.Sprintf("%q in %s", f.value, f.label)
	}
	s.parts = append(s.parts, "Fill in "+strings.Join(fields, ", "))
	s.form = nil
}

func (s *synthesizer) VisitType(a *trajectory.TypeAction) error {
	s.form = append(s.form, field{label: a.Label(), value: a.Value})
	return nil
}

func (s *synthesizer) VisitClick(a *trajectory.ClickAction) error {
	s.add(fmt.Sprintf("Click on %q", clickText(a)))
	return nil
}

func (s *synthesizer) VisitSelect(a *trajectory.SelectAction) error {
	s.add(fmt.Sprintf("Select %q from %s", a.Value, a.Label()))
	return nil
}

func (s *synthesizer) VisitSubmit(a *trajectory.SubmitAction) error {
	s.add("Submit the form")
	return nil
}

func (s *synthesizer) VisitNavigate(a *trajectory.NavigateAction) error {
	s.add(fmt.Sprintf("Navigate to %s", a.URL))
	return nil
}

func (s *synthesizer) VisitPress(a *trajectory.PressAction) error {
	s.add(fmt.Sprintf("Press %s", a.Key))
	return nil
}

func (s *synthesizer) VisitVerify(a *trajectory.VerifyAction) error {
	s.add(fmt.Sprintf("Verify %s", a.Assertion.String()))
	return nil
}

// wait and complete render nothing, but still end a form group.
func (s *synthesizer) VisitWait(a *trajectory.WaitAction) error {
	s.flush()
	return nil
}

func (s *synthesizer) VisitComplete(a *trajectory.CompleteAction) error {
	s.flush()
	return nil
}

// clickText prefers the element's visible text over its description.
func clickText(a *trajectory.ClickAction) string {
	if a.Target != nil && a.Target.Text != "" {
		return a.Target.Text
	}
	return a.Label()
}

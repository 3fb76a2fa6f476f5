// Package completion decides when an autonomous session has reached a
// natural end.
package completion

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"sentinelqa/trajectory"
	"sentinelqa/utils/slicesx"
)

var DefaultSuccessPhrases = []string{
	"success",
	"successfully",
	"sent",
	"submitted",
	"thank you",
	"thanks",
	"confirmation",
	"confirmed",
	"check your email",
	"password reset email",
	"reset link",
	"completed",
	"done",
	"congratulations",
}

const (
	DefaultMaxNumSteps = 10
	DefaultTimeout     = 5 * time.Minute
)

type Options struct {
	SuccessPhrases []string

	// ExpectedURLs are substrings of the URL the flow should land on. With
	// none configured, navigation alone never ends a session.
	ExpectedURLs []string
	MaxNumSteps  int
	Timeout      time.Duration
}

type Reason string

const (
	ReasonNone       Reason = ""
	ReasonComplete   Reason = "complete"
	ReasonNavigation Reason = "navigation"
	ReasonPhrase     Reason = "success_phrase"
	ReasonMaxSteps   Reason = "max_steps"
	ReasonTimeout    Reason = "timeout"
)

type Signal struct {
	Reason Reason
	Detail string
}

// Done reports whether the session should leave the running phase.
func (s Signal) Done() bool {
	return s.Reason != ReasonNone
}

// Success is true for the signals that lead to verification. Ceilings are
// never a success.
func (s Signal) Success() bool {
	switch s.Reason {
	case ReasonComplete, ReasonNavigation, ReasonPhrase:
		return true
	}
	return false
}

type Input struct {
	Action   trajectory.Action
	StartURL string
	PrevURL  string
	CurURL   string
	PrevText string
	CurText  string

	// Step is the number of actions taken so far.
	Step    int
	Elapsed time.Duration
}

type Detector struct {
	phrases      []*regexp.Regexp
	phraseText   []string
	expectedURLs []string
	maxNumSteps  int
	timeout      time.Duration
}

func New(options *Options) *Detector {
	phrases := DefaultSuccessPhrases
	d := &Detector{
		maxNumSteps: DefaultMaxNumSteps,
		timeout:     DefaultTimeout,
	}
	if options != nil {
		if len(options.SuccessPhrases) > 0 {
			phrases = options.SuccessPhrases
		}
		if options.MaxNumSteps > 0 {
			d.maxNumSteps = options.MaxNumSteps
		}
		if options.Timeout > 0 {
			d.timeout = options.Timeout
		}
		for _, u := range options.ExpectedURLs {
			if u = strings.TrimSpace(u); u != "" {
				d.expectedURLs = append(d.expectedURLs, u)
			}
		}
		d.expectedURLs = slicesx.Unique(d.expectedURLs)
	}
	for _, phrase := range phrases {
		phrase = strings.ToLower(strings.TrimSpace(phrase))
		if phrase == "" {
			continue
		}
		d.phraseText = append(d.phraseText, phrase)
		d.phrases = append(d.phrases, phrasePattern(phrase))
	}
	return d
}

func phrasePattern(phrase string) *regexp.Regexp {
	words := strings.Fields(phrase)
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`(?i)\b` + strings.Join(words, `\s+`) + `\b`)
}

// Check runs the signals in priority order and returns the first that fires.
func (d *Detector) Check(in Input) Signal {
	if in.Action != nil && in.Action.Kind() == trajectory.ActionKindComplete {
		detail := "decision model reported completion"
		if c, ok := in.Action.(*trajectory.CompleteAction); ok && c.Reason != "" {
			detail = c.Reason
		}
		return Signal{Reason: ReasonComplete, Detail: detail}
	}
	if target, ok := d.navigated(in.StartURL, in.CurURL); ok {
		return Signal{Reason: ReasonNavigation, Detail: fmt.Sprintf("navigated to %s (expected %q)", in.CurURL, target)}
	}
	if phrase, ok := d.NewPhrase(in.PrevText, in.CurText); ok {
		return Signal{Reason: ReasonPhrase, Detail: fmt.Sprintf("page now shows %q", phrase)}
	}
	if in.Step >= d.maxNumSteps {
		return Signal{Reason: ReasonMaxSteps, Detail: fmt.Sprintf("reached %d steps without completion", d.maxNumSteps)}
	}
	if in.Elapsed >= d.timeout {
		return Signal{Reason: ReasonTimeout, Detail: fmt.Sprintf("no completion within %s", d.timeout)}
	}
	return Signal{}
}

func (d *Detector) navigated(startURL, curURL string) (string, bool) {
	if len(d.expectedURLs) == 0 || curURL == "" || samePage(startURL, curURL) {
		return "", false
	}
	for _, expected := range d.expectedURLs {
		if strings.Contains(curURL, expected) {
			return expected, true
		}
	}
	return "", false
}

// samePage compares host and path; query and fragment changes do not count
// as navigation.
func samePage(a, b string) bool {
	ua, errA := url.Parse(a)
	ub, errB := url.Parse(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return strings.EqualFold(ua.Host, ub.Host) && strings.TrimSuffix(ua.Path, "/") == strings.TrimSuffix(ub.Path, "/")
}

// NewPhrase returns the first success phrase present in cur but not in prev.
func (d *Detector) NewPhrase(prev, cur string) (string, bool) {
	for i, re := range d.phrases {
		if re.MatchString(cur) && !re.MatchString(prev) {
			return d.phraseText[i], true
		}
	}
	return "", false
}

func (d *Detector) MaxNumSteps() int {
	return d.maxNumSteps
}

func (d *Detector) Timeout() time.Duration {
	return d.timeout
}

// WithCeilings returns a copy of d with different step and time ceilings.
// Non-positive values keep the current ones.
func (d *Detector) WithCeilings(maxNumSteps int, timeout time.Duration) *Detector {
	c := *d
	if maxNumSteps > 0 {
		c.maxNumSteps = maxNumSteps
	}
	if timeout > 0 {
		c.timeout = timeout
	}
	return &c
}

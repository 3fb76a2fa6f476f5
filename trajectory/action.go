package trajectory

import (
	"fmt"
	"strings"
	"time"

	"sentinelqa/target"
	"sentinelqa/verify"
)

type ActionKind string

const (
	ActionKindClick    ActionKind = "click"
	ActionKindType     ActionKind = "type"
	ActionKindSelect   ActionKind = "select"
	ActionKindSubmit   ActionKind = "submit"
	ActionKindNavigate ActionKind = "navigate"
	ActionKindPress    ActionKind = "press"
	ActionKindWait     ActionKind = "wait"
	ActionKindVerify   ActionKind = "verify"
	ActionKindComplete ActionKind = "complete"
)

// Action is one step of a session. The set of kinds is closed: every
// consumer implements ActionVisitor, so a new kind has to be handled
// everywhere before the module compiles again.
type Action interface {
	TrajectoryItem
	Kind() ActionKind
	Meta() *ActionMeta
	Accept(v ActionVisitor) error
	action()
}

type ActionVisitor interface {
	VisitClick(a *ClickAction) error
	VisitType(a *TypeAction) error
	VisitSelect(a *SelectAction) error
	VisitSubmit(a *SubmitAction) error
	VisitNavigate(a *NavigateAction) error
	VisitPress(a *PressAction) error
	VisitWait(a *WaitAction) error
	VisitVerify(a *VerifyAction) error
	VisitComplete(a *CompleteAction) error
}

// ActionMeta is shared by every action kind.
type ActionMeta struct {
	ID         string              `json:"id,omitempty"`
	Target     *target.Descriptor  `json:"target,omitempty"`
	Candidates []*target.Candidate `json:"candidates,omitempty"`
	Value      string              `json:"value,omitempty"`

	// Description names the target for humans, e.g. a field's label.
	Description string    `json:"description,omitempty"`
	Reasoning   string    `json:"reasoning,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	PageURL     string    `json:"page_url,omitempty"`

	// set once the action has been executed
	SelectorUsed string          `json:"selector_used,omitempty"`
	StrategyUsed target.Strategy `json:"strategy_used,omitempty"`
}

func (m *ActionMeta) Meta() *ActionMeta {
	return m
}

func (m *ActionMeta) action() {}

// Label is the best short name for the action's target.
func (m *ActionMeta) Label() string {
	if m.Description != "" {
		return m.Description
	} else if m.Target != nil && m.Target.Text != "" {
		return m.Target.Text
	} else if len(m.Candidates) > 0 {
		return m.Candidates[0].Selector
	} else if !m.Target.IsEmpty() {
		return m.Target.String()
	}
	return "element"
}

func (m *ActionMeta) targetText() string {
	if !m.Target.IsEmpty() {
		return m.Target.String()
	} else if len(m.Candidates) > 0 {
		return m.Candidates[0].Selector
	}
	return m.Description
}

type ClickAction struct {
	ActionMeta
	DontHandoff
	Render
}

type TypeAction struct {
	ActionMeta
	DontHandoff
	Render
}

type SelectAction struct {
	ActionMeta
	DontHandoff
	Render
}

type SubmitAction struct {
	ActionMeta
	DontHandoff
	Render
}

type NavigateAction struct {
	ActionMeta
	DontHandoff
	Render
	URL string `json:"url"`
}

type PressAction struct {
	ActionMeta
	DontHandoff
	Render
	Key string `json:"key"`
}

type WaitAction struct {
	ActionMeta
	DontHandoff
	Render
	Duration time.Duration `json:"duration"`
}

// VerifyAction asks for one assertion to be evaluated mid-session.
type VerifyAction struct {
	ActionMeta
	DontHandoff
	Render
	Assertion verify.Assertion `json:"assertion"`
}

type CompleteAction struct {
	ActionMeta
	Handoff
	Render
	Reason string `json:"reason,omitempty"`
}

func NewClickAction(desc *target.Descriptor, description string) *ClickAction {
	return &ClickAction{ActionMeta: ActionMeta{Target: desc, Description: description, Timestamp: time.Now()}}
}

func NewTypeAction(desc *target.Descriptor, description string, value string) *TypeAction {
	return &TypeAction{ActionMeta: ActionMeta{Target: desc, Description: description, Value: value, Timestamp: time.Now()}}
}

func NewSelectAction(desc *target.Descriptor, description string, value string) *SelectAction {
	return &SelectAction{ActionMeta: ActionMeta{Target: desc, Description: description, Value: value, Timestamp: time.Now()}}
}

// NewSubmitAction submits the form containing desc, or the focused form when
// desc is nil.
func NewSubmitAction(desc *target.Descriptor) *SubmitAction {
	return &SubmitAction{ActionMeta: ActionMeta{Target: desc, Timestamp: time.Now()}}
}

func NewNavigateAction(url string) *NavigateAction {
	return &NavigateAction{ActionMeta: ActionMeta{Timestamp: time.Now()}, URL: url}
}

func NewPressAction(key string) *PressAction {
	return &PressAction{ActionMeta: ActionMeta{Timestamp: time.Now()}, Key: key}
}

func NewWaitAction(d time.Duration) *WaitAction {
	return &WaitAction{ActionMeta: ActionMeta{Timestamp: time.Now()}, Duration: d}
}

func NewVerifyAction(assertion verify.Assertion) *VerifyAction {
	return &VerifyAction{ActionMeta: ActionMeta{Target: assertion.Target, Description: assertion.Description, Timestamp: time.Now()}, Assertion: assertion}
}

func NewCompleteAction(reason string) *CompleteAction {
	return &CompleteAction{ActionMeta: ActionMeta{Timestamp: time.Now()}, Reason: reason}
}

func (a *ClickAction) Kind() ActionKind    { return ActionKindClick }
func (a *TypeAction) Kind() ActionKind     { return ActionKindType }
func (a *SelectAction) Kind() ActionKind   { return ActionKindSelect }
func (a *SubmitAction) Kind() ActionKind   { return ActionKindSubmit }
func (a *NavigateAction) Kind() ActionKind { return ActionKindNavigate }
func (a *PressAction) Kind() ActionKind    { return ActionKindPress }
func (a *WaitAction) Kind() ActionKind     { return ActionKindWait }
func (a *VerifyAction) Kind() ActionKind   { return ActionKindVerify }
func (a *CompleteAction) Kind() ActionKind { return ActionKindComplete }

func (a *ClickAction) Accept(v ActionVisitor) error    { return v.VisitClick(a) }
func (a *TypeAction) Accept(v ActionVisitor) error     { return v.VisitType(a) }
func (a *SelectAction) Accept(v ActionVisitor) error   { return v.VisitSelect(a) }
func (a *SubmitAction) Accept(v ActionVisitor) error   { return v.VisitSubmit(a) }
func (a *NavigateAction) Accept(v ActionVisitor) error { return v.VisitNavigate(a) }
func (a *PressAction) Accept(v ActionVisitor) error    { return v.VisitPress(a) }
func (a *WaitAction) Accept(v ActionVisitor) error     { return v.VisitWait(a) }
func (a *VerifyAction) Accept(v ActionVisitor) error   { return v.VisitVerify(a) }
func (a *CompleteAction) Accept(v ActionVisitor) error { return v.VisitComplete(a) }

func (a *ClickAction) GetText() string {
	return actionText(a.Kind(), "target=%q", a.targetText())
}

func (a *TypeAction) GetText() string {
	return actionText(a.Kind(), "target=%q, value=%q", a.targetText(), a.Value)
}

func (a *SelectAction) GetText() string {
	return actionText(a.Kind(), "target=%q, value=%q", a.targetText(), a.Value)
}

func (a *SubmitAction) GetText() string {
	if a.Target.IsEmpty() && len(a.Candidates) == 0 {
		return actionText(a.Kind(), "")
	}
	return actionText(a.Kind(), "target=%q", a.targetText())
}

func (a *NavigateAction) GetText() string {
	return actionText(a.Kind(), "url=%q", a.URL)
}

func (a *PressAction) GetText() string {
	return actionText(a.Kind(), "key=%q", a.Key)
}

func (a *WaitAction) GetText() string {
	return actionText(a.Kind(), "duration=%s", a.Duration)
}

func (a *VerifyAction) GetText() string {
	return actionText(a.Kind(), "assertion=%q", a.Assertion.String())
}

func (a *CompleteAction) GetText() string {
	return actionText(a.Kind(), "reason=%q", a.Reason)
}

func (a *ClickAction) GetAbbreviatedText() string    { return a.GetText() }
func (a *TypeAction) GetAbbreviatedText() string     { return a.GetText() }
func (a *SelectAction) GetAbbreviatedText() string   { return a.GetText() }
func (a *SubmitAction) GetAbbreviatedText() string   { return a.GetText() }
func (a *NavigateAction) GetAbbreviatedText() string { return a.GetText() }
func (a *PressAction) GetAbbreviatedText() string    { return a.GetText() }
func (a *WaitAction) GetAbbreviatedText() string     { return a.GetText() }
func (a *VerifyAction) GetAbbreviatedText() string   { return a.GetText() }
func (a *CompleteAction) GetAbbreviatedText() string { return a.GetText() }

func actionText(kind ActionKind, format string, args ...any) string {
	args = append([]any{kind}, args...)
	return fmt.Sprintf("action: %s("+format+")", args...)
}

// ParseActionKind accepts the kind names decision models tend to produce.
func ParseActionKind(s string) (ActionKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "click":
		return ActionKindClick, true
	case "type", "fill", "input", "send_keys":
		return ActionKindType, true
	case "select":
		return ActionKindSelect, true
	case "submit":
		return ActionKindSubmit, true
	case "navigate", "goto":
		return ActionKindNavigate, true
	case "press", "key":
		return ActionKindPress, true
	case "wait":
		return ActionKindWait, true
	case "verify", "assert":
		return ActionKindVerify, true
	case "complete", "done", "task_complete":
		return ActionKindComplete, true
	}
	return "", false
}

package trajectory

import (
	"strings"

	"sentinelqa/utils/slicesx"
)

type Trajectory struct {
	Items []TrajectoryItem
}

func (t *Trajectory) GetText() string {
	if len(t.Items) == 0 {
		return ""
	}
	itemTexts := slicesx.Map(t.Items, func(item TrajectoryItem, _ int) string {
		return item.GetAbbreviatedText()
	})
	return strings.Join(itemTexts, "\n")
}

func (t *Trajectory) AddItem(item TrajectoryItem) {
	t.Items = append(t.Items, item)
}

func (t *Trajectory) AddItems(items []TrajectoryItem) {
	t.Items = append(t.Items, items...)
}

// Actions returns the actions in the trajectory, in order.
func (t *Trajectory) Actions() []Action {
	var actions []Action
	for _, item := range t.Items {
		if action, ok := item.(Action); ok {
			actions = append(actions, action)
		}
	}
	return actions
}

func (t *Trajectory) Len() int {
	return len(t.Items)
}

type TrajectoryItem interface {
	GetAbbreviatedText() string
	GetText() string
	ShouldHandoff() bool
	ShouldRender() bool
}

type StreamEvent struct {
	Item  TrajectoryItem
	Error error
}

type Handoff struct{}
type DontHandoff struct{}
type Render struct{}
type DontRender struct{}

func (h Handoff) ShouldHandoff() bool {
	return true
}

func (d DontHandoff) ShouldHandoff() bool {
	return false
}

func (r Render) ShouldRender() bool {
	return true
}

func (d DontRender) ShouldRender() bool {
	return false
}

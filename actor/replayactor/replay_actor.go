package replayactor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sentinelqa/trajectory"
)

// ReplayActor plays back a recorded action list, one action per call, and
// then reports completion. Recorded targets are re-resolved by the executor
// against the live page, so stale candidates are harmless.
type ReplayActor struct {
	mu        sync.Mutex
	recording []trajectory.Action
	next      int
}

func New(recording []trajectory.Action) *ReplayActor {
	return &ReplayActor{recording: recording}
}

func (a *ReplayActor) NextAction(ctx context.Context, obs *trajectory.Observation, instruction string, history []trajectory.Action) (trajectory.Action, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.next >= len(a.recording) {
		return trajectory.NewCompleteAction(fmt.Sprintf("replayed %d recorded actions", len(a.recording))), nil
	}
	recorded := a.recording[a.next]
	a.next++
	action, err := clone(recorded)
	if err != nil {
		return nil, fmt.Errorf("error copying recorded action %d: %w", a.next, err)
	}
	meta := action.Meta()
	meta.Timestamp = time.Now()
	meta.SelectorUsed = ""
	meta.StrategyUsed = ""
	if obs != nil {
		meta.PageURL = obs.URL
	}
	return action, nil
}

func (a *ReplayActor) Remaining() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.recording) - a.next
}

func clone(action trajectory.Action) (trajectory.Action, error) {
	if b, err := trajectory.MarshalAction(action); err != nil {
		return nil, err
	} else {
		return trajectory.UnmarshalAction(b)
	}
}

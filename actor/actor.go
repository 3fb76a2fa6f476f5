package actor

import (
	"context"

	"sentinelqa/trajectory"
)

// Actor decides the next action of a session from what the page currently
// shows and what has already been done.
type Actor interface {
	NextAction(ctx context.Context, obs *trajectory.Observation, instruction string, history []trajectory.Action) (trajectory.Action, error)
}

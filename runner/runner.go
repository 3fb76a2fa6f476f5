package runner

import (
	"context"

	"sentinelqa/trajectory"
)

// Runner drives one session from a start URL to a terminal state.
type Runner interface {
	Run(ctx context.Context, startURL string, instruction string) (*SessionState, error)
	RunAndStream(ctx context.Context, startURL string, instruction string) <-chan *trajectory.StreamEvent
}

// Store persists sessions while they run. Implementations must be safe for
// concurrent use by independent sessions.
type Store interface {
	CreateSession(ctx context.Context, id string, kind string, url string, instruction string) error
	AppendAction(ctx context.Context, id string, action trajectory.Action) error
	SaveState(ctx context.Context, state *SessionState) error
}

const (
	SessionKindRun    = "run"
	SessionKindReplay = "replay"
	SessionKindRecord = "record"
)

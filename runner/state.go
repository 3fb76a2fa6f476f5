package runner

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"sentinelqa/trajectory"
	"sentinelqa/verify"
)

type Status string

const (
	StatusInitializing Status = "initializing"
	StatusRunning      Status = "running"
	StatusVerifying    Status = "verifying"
	StatusPassed       Status = "passed"
	StatusFailed       Status = "failed"
	StatusError        Status = "error"
)

func (s Status) Terminal() bool {
	return s == StatusPassed || s == StatusFailed || s == StatusError
}

const ReasonCancelled = "cancelled"

var ErrSessionFinalized = errors.New("session is finalized")

// SessionState is owned by the orchestrator for the lifetime of a session.
// Once a terminal status is set every mutator returns ErrSessionFinalized.
type SessionState struct {
	mu sync.RWMutex

	ID          string
	Status      Status
	StartURL    string
	Instruction string
	Steps       []trajectory.Action
	Results     []verify.Result
	StartedAt   time.Time
	EndedAt     time.Time

	// LastURL is the page the session was on when it ended.
	LastURL string

	// FailedStep is the 1-based index of the failing step, 0 when no step failed.
	FailedStep int
	Reason     string
	ErrorCode  string
}

func NewSessionState(id string, startURL string, instruction string) *SessionState {
	return &SessionState{
		ID:          id,
		Status:      StatusInitializing,
		StartURL:    startURL,
		Instruction: instruction,
		StartedAt:   time.Now(),
	}
}

// Transition moves a live session to a non-terminal status.
func (s *SessionState) Transition(status Status) error {
	if status.Terminal() {
		return fmt.Errorf("use Finish to reach %s", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Status.Terminal() {
		return ErrSessionFinalized
	}
	s.Status = status
	return nil
}

func (s *SessionState) AppendStep(action trajectory.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Status.Terminal() {
		return ErrSessionFinalized
	}
	s.Steps = append(s.Steps, action)
	return nil
}

func (s *SessionState) AppendResults(results ...verify.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Status.Terminal() {
		return ErrSessionFinalized
	}
	s.Results = append(s.Results, results...)
	return nil
}

func (s *SessionState) SetLastURL(url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Status.Terminal() {
		return ErrSessionFinalized
	}
	s.LastURL = url
	return nil
}

// FailStep records the failing step before the session is finished.
func (s *SessionState) FailStep(step int, url string, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Status.Terminal() {
		return ErrSessionFinalized
	}
	s.FailedStep = step
	s.ErrorCode = code
	if url != "" {
		s.LastURL = url
	}
	return nil
}

// Finish freezes the session in a terminal status.
func (s *SessionState) Finish(status Status, reason string, code string) error {
	if !status.Terminal() {
		return fmt.Errorf("%s is not a terminal status", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Status.Terminal() {
		return ErrSessionFinalized
	}
	s.Status = status
	s.Reason = reason
	if code != "" {
		s.ErrorCode = code
	}
	s.EndedAt = time.Now()
	return nil
}

func (s *SessionState) CurrentStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Status
}

func (s *SessionState) NumSteps() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.Steps)
}

func (s *SessionState) Duration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.EndedAt.IsZero() {
		return time.Since(s.StartedAt)
	}
	return s.EndedAt.Sub(s.StartedAt)
}

type sessionStateJSON struct {
	ID          string                           `json:"id"`
	Status      Status                           `json:"status"`
	StartURL    string                           `json:"start_url"`
	Instruction string                           `json:"instruction"`
	Steps       []*trajectory.TrajectoryItemJSON `json:"steps"`
	Results     []verify.Result                  `json:"results"`
	StartedAt   time.Time                        `json:"started_at"`
	EndedAt     time.Time                        `json:"ended_at"`
	LastURL     string                           `json:"last_url,omitempty"`
	FailedStep  int                              `json:"failed_step,omitempty"`
	Reason      string                           `json:"reason,omitempty"`
	ErrorCode   string                           `json:"error_code,omitempty"`
}

func (s *SessionState) MarshalJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	steps := make([]*trajectory.TrajectoryItemJSON, 0, len(s.Steps))
	for _, step := range s.Steps {
		stepJSON, err := trajectory.TrajectoryItemToJSON(step)
		if err != nil {
			return nil, err
		}
		steps = append(steps, stepJSON)
	}
	return json.Marshal(&sessionStateJSON{
		ID:          s.ID,
		Status:      s.Status,
		StartURL:    s.StartURL,
		Instruction: s.Instruction,
		Steps:       steps,
		Results:     s.Results,
		StartedAt:   s.StartedAt,
		EndedAt:     s.EndedAt,
		LastURL:     s.LastURL,
		FailedStep:  s.FailedStep,
		Reason:      s.Reason,
		ErrorCode:   s.ErrorCode,
	})
}

func (s *SessionState) UnmarshalJSON(data []byte) error {
	var stateJSON sessionStateJSON
	if err := json.Unmarshal(data, &stateJSON); err != nil {
		return err
	}
	steps := make([]trajectory.Action, 0, len(stateJSON.Steps))
	for _, stepJSON := range stateJSON.Steps {
		item, err := trajectory.JSONToTrajectoryItem(stepJSON)
		if err != nil {
			return err
		}
		action, ok := item.(trajectory.Action)
		if !ok {
			return fmt.Errorf("session step %T is not an action", item)
		}
		steps = append(steps, action)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ID = stateJSON.ID
	s.Status = stateJSON.Status
	s.StartURL = stateJSON.StartURL
	s.Instruction = stateJSON.Instruction
	s.Steps = steps
	s.Results = stateJSON.Results
	s.StartedAt = stateJSON.StartedAt
	s.EndedAt = stateJSON.EndedAt
	s.LastURL = stateJSON.LastURL
	s.FailedStep = stateJSON.FailedStep
	s.Reason = stateJSON.Reason
	s.ErrorCode = stateJSON.ErrorCode
	return nil
}

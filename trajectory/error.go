package trajectory

import (
	"fmt"
	"time"
)

type errorItem struct {
	Handoff
	Render
}

type ErrorMaxNumStepsReached struct {
	errorItem
	MaxNumSteps int `json:"max_num_steps"`
}

func NewErrorMaxNumStepsReached(maxNumSteps int) TrajectoryItem {
	return &ErrorMaxNumStepsReached{
		MaxNumSteps: maxNumSteps,
	}
}

type ErrorTimeout struct {
	errorItem
	Timeout time.Duration `json:"timeout"`
}

func NewErrorTimeout(timeout time.Duration) TrajectoryItem {
	return &ErrorTimeout{
		Timeout: timeout,
	}
}

// ErrorStepFailed ends a session on an unrecoverable step.
type ErrorStepFailed struct {
	errorItem
	Step    int    `json:"step"`
	URL     string `json:"url"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewErrorStepFailed(step int, url string, code string, message string) TrajectoryItem {
	return &ErrorStepFailed{
		Step:    step,
		URL:     url,
		Code:    code,
		Message: message,
	}
}

func (m *ErrorMaxNumStepsReached) GetText() string {
	return fmt.Sprintf("error: max num steps reached: %d", m.MaxNumSteps)
}

func (m *ErrorMaxNumStepsReached) GetAbbreviatedText() string {
	return m.GetText()
}

func (m *ErrorTimeout) GetText() string {
	return fmt.Sprintf("error: session timed out after %s", m.Timeout)
}

func (m *ErrorTimeout) GetAbbreviatedText() string {
	return m.GetText()
}

func (m *ErrorStepFailed) GetText() string {
	return fmt.Sprintf("error: step %d failed at %s: [%s] %s", m.Step, m.URL, m.Code, m.Message)
}

func (m *ErrorStepFailed) GetAbbreviatedText() string {
	return fmt.Sprintf("error: step %d failed: %s", m.Step, m.Code)
}

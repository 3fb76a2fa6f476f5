package finiterunner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sentinelqa/actor"
	"sentinelqa/browser"
	"sentinelqa/completion"
	"sentinelqa/errcode"
	"sentinelqa/metrics"
	"sentinelqa/runner"
	"sentinelqa/target"
	"sentinelqa/trajectory"
	"sentinelqa/translators"
	"sentinelqa/translators/html2text"
	"sentinelqa/verify"
)

// Page is the slice of the browser a session drives.
type Page interface {
	verify.Page
	Capture(ctx context.Context) (*browser.Snapshot, error)
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, c *target.Candidate) error
	Type(ctx context.Context, c *target.Candidate, value string) error
	Select(ctx context.Context, c *target.Candidate, value string) error
	Submit(ctx context.Context, c *target.Candidate) error
	Press(ctx context.Context, key string) error
	Close()
}

const DefaultMaxDecisionRetries = 2

type Options struct {
	SessionID string
	Kind      string

	// MaxNumSteps and Timeout default to the detector's ceilings.
	MaxNumSteps int
	Timeout     time.Duration

	// MaxDecisionRetries is how often an unusable decision is asked again.
	// Negative disables retries.
	MaxDecisionRetries int

	// Assertions are evaluated once the session completes.
	Assertions []verify.Assertion
	StepDelay  time.Duration
	Store      runner.Store
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

type FiniteRunner struct {
	page     Page
	actor    actor.Actor
	resolver *target.Resolver
	detector *completion.Detector
	engine   *verify.Engine
	text     translators.Translator

	sessionID          string
	kind               string
	maxNumSteps        int
	timeout            time.Duration
	maxDecisionRetries int
	assertions         []verify.Assertion
	stepDelay          time.Duration
	store              runner.Store
	metrics            *metrics.Metrics
	log                *zap.Logger
	trajectory         *trajectory.Trajectory
	state              *runner.SessionState
}

func New(page Page, act actor.Actor, resolver *target.Resolver, detector *completion.Detector, engine *verify.Engine, options *Options) *FiniteRunner {
	if resolver == nil {
		resolver = target.NewResolver(nil)
	}
	if detector == nil {
		detector = completion.New(nil)
	}
	if engine == nil {
		engine = verify.NewEngine(resolver)
	}
	r := &FiniteRunner{
		page:               page,
		actor:              act,
		resolver:           resolver,
		detector:           detector,
		engine:             engine,
		text:               html2text.NewHTML2TextTranslator(),
		kind:               runner.SessionKindRun,
		maxNumSteps:        detector.MaxNumSteps(),
		timeout:            detector.Timeout(),
		maxDecisionRetries: DefaultMaxDecisionRetries,
		log:                zap.NewNop(),
		trajectory:         &trajectory.Trajectory{},
	}
	if options != nil {
		r.sessionID = options.SessionID
		if options.Kind != "" {
			r.kind = options.Kind
		}
		if options.MaxNumSteps > 0 {
			r.maxNumSteps = options.MaxNumSteps
		}
		if options.Timeout > 0 {
			r.timeout = options.Timeout
		}
		if options.MaxDecisionRetries > 0 {
			r.maxDecisionRetries = options.MaxDecisionRetries
		} else if options.MaxDecisionRetries < 0 {
			r.maxDecisionRetries = 0
		}
		r.assertions = options.Assertions
		r.stepDelay = options.StepDelay
		r.store = options.Store
		r.metrics = options.Metrics
		if options.Logger != nil {
			r.log = options.Logger
		}
	}
	r.detector = r.detector.WithCeilings(r.maxNumSteps, r.timeout)
	if r.sessionID == "" {
		r.sessionID = NewRunID()
	}
	r.log = r.log.Named("runner").With(zap.String("session_id", r.sessionID))
	return r
}

// NewRunID returns an id of the form run_<12 hex>.
func NewRunID() string {
	return "run_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func (r *FiniteRunner) Run(ctx context.Context, startURL string, instruction string) (*runner.SessionState, error) {
	return r.run(ctx, startURL, instruction, func(trajectory.TrajectoryItem) {})
}

func (r *FiniteRunner) RunAndStream(ctx context.Context, startURL string, instruction string) <-chan *trajectory.StreamEvent {
	stream := make(chan *trajectory.StreamEvent)
	go func() {
		defer close(stream)
		send := func(item trajectory.TrajectoryItem) {
			select {
			case stream <- &trajectory.StreamEvent{Item: item}:
			case <-ctx.Done():
			}
		}
		if _, err := r.run(ctx, startURL, instruction, send); err != nil {
			select {
			case stream <- &trajectory.StreamEvent{Error: err}:
			case <-ctx.Done():
			}
		}
	}()
	return stream
}

func (r *FiniteRunner) Trajectory() *trajectory.Trajectory {
	return r.trajectory
}

func (r *FiniteRunner) SessionID() string {
	return r.sessionID
}

// State is nil until a run has started.
func (r *FiniteRunner) State() *runner.SessionState {
	return r.state
}

// session is the per-run bookkeeping of the loop.
type session struct {
	parent   context.Context
	ctx      context.Context
	state    *runner.SessionState
	emit     func(trajectory.TrajectoryItem)
	started  time.Time
	prevURL  string
	prevText string
}

// run returns an error only when the session could not be carried out at
// all; test failures are reported through the returned state.
func (r *FiniteRunner) run(parent context.Context, startURL string, instruction string, emit func(trajectory.TrajectoryItem)) (*runner.SessionState, error) {
	startURL, err := browser.GetCanonicalURL(startURL)
	if err != nil {
		return nil, errcode.Wrap(err, errcode.ConfigInvalid, "invalid start url")
	}
	ctx, cancel := context.WithTimeout(parent, r.timeout)
	defer cancel()

	s := &session{
		parent:  parent,
		ctx:     ctx,
		state:   runner.NewSessionState(r.sessionID, startURL, instruction),
		started: time.Now(),
	}
	r.state = s.state
	s.emit = func(item trajectory.TrajectoryItem) {
		r.trajectory.AddItem(item)
		emit(item)
	}
	r.metrics.SessionStarted()
	defer func() {
		r.metrics.SessionFinished(string(s.state.CurrentStatus()), s.state.Duration())
		r.saveState(s.state)
	}()

	if r.store != nil {
		if err := r.store.CreateSession(ctx, r.sessionID, r.kind, startURL, instruction); err != nil {
			r.log.Warn("failed to create session record", zap.Error(err))
		}
	}
	s.emit(trajectory.NewUserMessage(instruction))
	if err := s.state.Transition(runner.StatusRunning); err != nil {
		return s.state, err
	}
	r.log.Info("session started", zap.String("url", startURL))

	if err := r.page.Navigate(ctx, startURL); err != nil {
		r.endOnError(s, 0, startURL, err, "initial navigation failed")
		return s.state, nil
	}
	snapshot, err := r.capture(s)
	if err != nil {
		r.endOnError(s, 0, startURL, err, "capturing the start page failed")
		return s.state, nil
	}
	s.prevURL, s.prevText = snapshot.URL, r.visibleText(snapshot.HTML)

	executor := &executor{
		page:     r.page,
		resolver: r.resolver,
		engine:   r.engine,
		metrics:  r.metrics,
		log:      r.log,
	}
	for step := 1; ; step++ {
		if r.interrupted(s, step, s.prevURL) {
			return s.state, nil
		}
		obs := trajectory.NewObservation(snapshot.URL, snapshot.Title, snapshot.Digest, snapshot.Screenshot)
		s.emit(obs)

		action, err := r.decide(s, obs, instruction)
		if err != nil {
			if !r.interrupted(s, step, obs.URL) {
				code := string(errcode.CodeOf(err))
				s.state.FailStep(step, obs.URL, code)
				s.emit(trajectory.NewErrorStepFailed(step, obs.URL, code, err.Error()))
				r.finish(s, runner.StatusError, err.Error(), code)
			}
			return s.state, nil
		}
		if err := s.state.AppendStep(action); err != nil {
			return s.state, err
		}
		r.appendAction(action)
		s.emit(action)
		r.metrics.Step(string(action.Kind()))
		stepLog := r.log.With(zap.Int("step", step), zap.String("url", obs.URL))
		stepLog.Info("executing", zap.String("action", action.GetText()))

		if err := executor.execute(ctx, action); err != nil {
			if r.interrupted(s, step, obs.URL) {
				return s.state, nil
			}
			stepLog.Warn("step failed", zap.Error(err))
			code := string(errcode.CodeOf(err))
			s.state.FailStep(step, obs.URL, code)
			s.emit(trajectory.NewErrorStepFailed(step, obs.URL, code, err.Error()))
			r.finish(s, runner.StatusFailed, err.Error(), code)
			return s.state, nil
		}
		if len(executor.results) > 0 {
			s.state.AppendResults(executor.results...)
			s.emit(trajectory.NewVerificationItem(executor.results))
		}

		if action.Kind() != trajectory.ActionKindComplete {
			if r.stepDelay > 0 {
				select {
				case <-ctx.Done():
				case <-time.After(r.stepDelay):
				}
			}
			if snapshot, err = r.capture(s); err != nil {
				if r.interrupted(s, step, obs.URL) {
					return s.state, nil
				}
				r.endOnError(s, step, obs.URL, err, "capturing the page failed")
				return s.state, nil
			}
		}
		curText := s.prevText
		if action.Kind() != trajectory.ActionKindComplete {
			curText = r.visibleText(snapshot.HTML)
		}
		signal := r.detector.Check(completion.Input{
			Action:   action,
			StartURL: startURL,
			PrevURL:  s.prevURL,
			CurURL:   snapshot.URL,
			PrevText: s.prevText,
			CurText:  curText,
			Step:     step,
			Elapsed:  time.Since(s.started),
		})
		s.prevURL, s.prevText = snapshot.URL, curText
		if signal.Success() {
			stepLog.Info("completion detected", zap.String("reason", string(signal.Reason)), zap.String("detail", signal.Detail))
			r.verifyAndFinish(s, signal)
			return s.state, nil
		} else if signal.Done() {
			r.ceiling(s, step, signal.Reason, signal.Detail, snapshot.URL)
			return s.state, nil
		} else if step >= r.maxNumSteps {
			r.ceiling(s, step, completion.ReasonMaxSteps, fmt.Sprintf("reached %d steps without completion", r.maxNumSteps), snapshot.URL)
			return s.state, nil
		}
	}
}

// decide asks the actor, asking again after unusable decisions.
func (r *FiniteRunner) decide(s *session, obs *trajectory.Observation, instruction string) (trajectory.Action, error) {
	var lastErr error
	for attempt := 0; attempt <= r.maxDecisionRetries; attempt++ {
		if attempt > 0 {
			r.metrics.DecisionRetry()
			r.log.Info("retrying decision", zap.Int("attempt", attempt+1), zap.Error(lastErr))
			s.emit(trajectory.NewInternalFeedback(fmt.Sprintf("previous decision was unusable: %s", lastErr)))
		}
		action, err := r.actor.NextAction(s.ctx, obs, instruction, s.state.Steps)
		if err == nil {
			return action, nil
		}
		if s.ctx.Err() != nil {
			return nil, s.ctx.Err()
		}
		lastErr = err
		if !errcode.Has(err, errcode.DecisionParseError) && !errcode.IsRetryable(err) {
			break
		}
	}
	return nil, lastErr
}

func (r *FiniteRunner) capture(s *session) (*browser.Snapshot, error) {
	snapshot, err := r.page.Capture(s.ctx)
	if err != nil {
		return nil, err
	}
	s.state.SetLastURL(snapshot.URL)
	return snapshot, nil
}

func (r *FiniteRunner) visibleText(page string) string {
	text, err := r.text.Translate(page)
	if err != nil {
		r.log.Debug("visible text failed", zap.Error(err))
		return ""
	}
	return text
}

// interrupted ends the session when it was cancelled or ran out of time.
func (r *FiniteRunner) interrupted(s *session, step int, url string) bool {
	if s.parent.Err() != nil {
		r.log.Info("session cancelled", zap.Int("step", step))
		r.finish(s, runner.StatusError, runner.ReasonCancelled, string(errcode.SessionCancelled))
		r.page.Close()
		return true
	} else if s.ctx.Err() != nil || time.Since(s.started) >= r.timeout {
		r.ceiling(s, step, completion.ReasonTimeout, fmt.Sprintf("no completion within %s", r.timeout), url)
		return true
	}
	return false
}

// ceiling fails the session at step; url is the last page seen.
func (r *FiniteRunner) ceiling(s *session, step int, reason completion.Reason, detail string, url string) {
	if reason == completion.ReasonTimeout {
		s.emit(trajectory.NewErrorTimeout(r.timeout))
	} else {
		s.emit(trajectory.NewErrorMaxNumStepsReached(r.maxNumSteps))
	}
	s.state.FailStep(step, url, string(errcode.StepOrTimeCeilingExceeded))
	r.finish(s, runner.StatusFailed, detail, string(errcode.StepOrTimeCeilingExceeded))
}

func (r *FiniteRunner) endOnError(s *session, step int, url string, err error, message string) {
	if r.interrupted(s, step, url) {
		return
	}
	code := errcode.CodeOf(err)
	if code == errcode.Internal {
		code = errcode.ActionExecutionFailed
	}
	s.state.FailStep(step, url, string(code))
	s.emit(trajectory.NewErrorStepFailed(step, url, string(code), fmt.Sprintf("%s: %s", message, err)))
	r.finish(s, runner.StatusError, fmt.Sprintf("%s: %s", message, err), string(code))
}

// verifyAndFinish runs the final assertions. The session passes only when
// every result, including those of mid-session verify steps, passed.
func (r *FiniteRunner) verifyAndFinish(s *session, signal completion.Signal) {
	if err := s.state.Transition(runner.StatusVerifying); err != nil {
		return
	}
	if len(r.assertions) > 0 {
		results := r.engine.Evaluate(s.ctx, r.page, r.assertions)
		for _, res := range results {
			r.metrics.Verification(string(res.Assertion.Kind), res.Passed)
		}
		s.state.AppendResults(results...)
		s.emit(trajectory.NewVerificationItem(results))
	}
	if r.interrupted(s, s.state.NumSteps(), s.prevURL) {
		return
	}
	failed := verify.Failed(s.state.Results)
	if len(failed) == 0 {
		r.finish(s, runner.StatusPassed, signal.Detail, "")
		return
	}
	r.finish(s, runner.StatusFailed, fmt.Sprintf("%d of %d verifications failed", len(failed), len(s.state.Results)), "")
}

func (r *FiniteRunner) finish(s *session, status runner.Status, reason string, code string) {
	if err := s.state.Finish(status, reason, code); err != nil {
		if !errors.Is(err, runner.ErrSessionFinalized) {
			r.log.Error("failed to finish session", zap.Error(err))
		}
		return
	}
	r.log.Info("session finished", zap.String("status", string(status)), zap.String("reason", reason), zap.Duration("duration", s.state.Duration()))
}

func (r *FiniteRunner) appendAction(action trajectory.Action) {
	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.AppendAction(ctx, r.sessionID, action); err != nil {
		r.log.Warn("failed to store action", zap.Error(err))
	}
}

func (r *FiniteRunner) saveState(state *runner.SessionState) {
	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.SaveState(ctx, state); err != nil {
		r.log.Warn("failed to store session state", zap.Error(err))
	}
}

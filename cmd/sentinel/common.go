package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"sentinelqa/browser"
	"sentinelqa/completion"
	"sentinelqa/errcode"
	"sentinelqa/metrics"
	"sentinelqa/runner"
	"sentinelqa/runner/finiterunner"
	"sentinelqa/runner/pool"
	"sentinelqa/store"
	"sentinelqa/target"
	"sentinelqa/trajectory"
	iox "sentinelqa/utils/io"
	"sentinelqa/utils/printx"
	"sentinelqa/verify"
)

// errSessionsFailed marks a command whose sessions ran but did not all pass.
var errSessionsFailed = errors.New("one or more sessions did not pass")

func exitCode(err error) int {
	if errors.Is(err, errSessionsFailed) {
		return 1
	} else if errcode.Has(err, errcode.ConfigInvalid) {
		return 2
	}
	return 3
}

// harness holds what every session of one command shares.
type harness struct {
	resolver    *target.Resolver
	engine      *verify.Engine
	store       *store.SQLiteStore
	metrics     *metrics.Metrics
	stopMetrics func()
}

func newHarness() (*harness, error) {
	resolver := target.NewResolver(cfg.ResolverOptions())
	h := &harness{
		resolver:    resolver,
		engine:      verify.NewEngine(resolver, verify.WithLogger(log)),
		stopMetrics: func() {},
	}
	s, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	h.store = s
	if cfg.Metrics.Enabled {
		h.metrics = metrics.New()
		h.stopMetrics = serveMetrics(cfg.Metrics.Addr, h.metrics)
	}
	return h, nil
}

func (h *harness) Close() {
	h.stopMetrics()
	if err := h.store.Close(); err != nil {
		log.Warn("failed to close store", zap.Error(err))
	}
}

func (h *harness) detector() *completion.Detector {
	return completion.New(cfg.CompletionOptions())
}

func (h *harness) runnerOptions(sessionID string, kind string, assertions []verify.Assertion) *finiterunner.Options {
	return &finiterunner.Options{
		SessionID:          sessionID,
		Kind:               kind,
		MaxNumSteps:        cfg.Session.MaxNumSteps,
		Timeout:            cfg.Session.Timeout,
		MaxDecisionRetries: cfg.Session.MaxDecisionRetries,
		Assertions:         assertions,
		StepDelay:          cfg.Session.StepDelay,
		Store:              h.store,
		Metrics:            h.metrics,
		Logger:             log,
	}
}

func (h *harness) poolOptions() *pool.Options {
	return &pool.Options{
		Concurrency:        cfg.Session.Concurrency,
		MaxNumSteps:        cfg.Session.MaxNumSteps,
		Timeout:            cfg.Session.Timeout,
		MaxDecisionRetries: cfg.Session.MaxDecisionRetries,
		StepDelay:          cfg.Session.StepDelay,
		Resolver:           h.resolver,
		Detector:           h.detector(),
		Engine:             h.engine,
		Store:              h.store,
		Metrics:            h.metrics,
		Logger:             log,
	}
}

func newPage(ctx context.Context) (finiterunner.Page, error) {
	return browser.NewBrowser(ctx, cfg.BrowserOptions(log)), nil
}

func serveMetrics(addr string, m *metrics.Metrics) func() {
	srv := &http.Server{Addr: addr, Handler: m.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics server failed", zap.Error(err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// streamSession runs one session in the foreground, printing each rendered
// trajectory item as it happens.
func streamSession(ctx context.Context, w io.Writer, r *finiterunner.FiniteRunner, startURL string, instruction string) (*runner.SessionState, error) {
	printx.PrintStandardHeader(w, "TRAJECTORY "+r.SessionID())
	var streamErr error
	for event := range r.RunAndStream(ctx, startURL, instruction) {
		if event.Error != nil {
			streamErr = event.Error
			continue
		}
		if !event.Item.ShouldRender() {
			continue
		}
		if _, ok := event.Item.(*trajectory.Observation); ok {
			fmt.Fprintln(w, event.Item.GetAbbreviatedText())
		} else {
			fmt.Fprintln(w, event.Item.GetText())
		}
	}
	return r.State(), streamErr
}

func printSummary(w io.Writer, state *runner.SessionState) *runner.Summary {
	summary := runner.Summarize(state)
	printx.PrintStandardHeader(w, "SUMMARY")
	fmt.Fprintf(w, "session: %s\nstatus: %s\nduration: %s\n%s\n",
		state.ID, summary.Status, time.Duration(summary.DurationMS)*time.Millisecond, summary.Summary)
	if summary.BugSummary != "" {
		fmt.Fprintf(w, "bug: %s\n", summary.BugSummary)
	}
	return summary
}

type sessionLog struct {
	State   *runner.SessionState `json:"state"`
	Summary *runner.Summary      `json:"summary"`
}

// writeSessionLog writes <dir>/<session id>/{state,trajectory}.json.
func writeSessionLog(dir string, state *runner.SessionState, traj *trajectory.Trajectory) error {
	if dir == "" || state == nil {
		return nil
	}
	base := filepath.Join(dir, state.ID)
	if err := iox.WriteJSONFile(filepath.Join(base, "state.json"), sessionLog{State: state, Summary: runner.Summarize(state)}); err != nil {
		return err
	}
	if traj == nil {
		return nil
	}
	data, err := trajectory.MarshalTrajectory(traj)
	if err != nil {
		return fmt.Errorf("failed to marshal trajectory: %w", err)
	}
	return iox.WriteBytesToFile(filepath.Join(base, "trajectory.json"), data)
}

func passed(state *runner.SessionState) bool {
	return state != nil && state.CurrentStatus() == runner.StatusPassed
}

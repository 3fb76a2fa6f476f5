// Package pool runs many independent sessions at once, each in its own
// browser context.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sentinelqa/actor"
	"sentinelqa/completion"
	"sentinelqa/metrics"
	"sentinelqa/runner"
	"sentinelqa/runner/finiterunner"
	"sentinelqa/target"
	"sentinelqa/verify"
)

const DefaultConcurrency = 2

type Job struct {
	// ID becomes the session id; one is generated when empty.
	ID          string
	Kind        string
	StartURL    string
	Instruction string
	Assertions  []verify.Assertion
}

type Result struct {
	Job     *Job
	State   *runner.SessionState
	Summary *runner.Summary
	Err     error
}

// PageFactory opens a fresh browser context for one session.
type PageFactory func(ctx context.Context) (finiterunner.Page, error)

// ActorFactory builds the decision collaborator for one job. Actors that
// keep per-session state must not be shared.
type ActorFactory func(job *Job) (actor.Actor, error)

type Options struct {
	Concurrency int
	MaxNumSteps int
	Timeout     time.Duration
	// MaxDecisionRetries and StepDelay are passed to every session.
	MaxDecisionRetries int
	StepDelay          time.Duration
	Resolver           *target.Resolver
	Detector           *completion.Detector
	Engine             *verify.Engine
	Store              runner.Store
	Metrics            *metrics.Metrics
	Logger             *zap.Logger
}

type Pool struct {
	newPage     PageFactory
	newActor    ActorFactory
	concurrency int
	options     Options
	log         *zap.Logger
}

func New(newPage PageFactory, newActor ActorFactory, options *Options) *Pool {
	p := &Pool{
		newPage:     newPage,
		newActor:    newActor,
		concurrency: DefaultConcurrency,
		log:         zap.NewNop(),
	}
	if options != nil {
		p.options = *options
		if options.Concurrency > 0 {
			p.concurrency = options.Concurrency
		}
		if options.Logger != nil {
			p.log = options.Logger
		}
	}
	if p.options.Resolver == nil {
		p.options.Resolver = target.NewResolver(nil)
	}
	if p.options.Engine == nil {
		p.options.Engine = verify.NewEngine(p.options.Resolver)
	}
	p.log = p.log.Named("pool")
	return p
}

// Run executes every job and returns one result per job, in job order. A
// failing session never stops the others; only cancelling ctx does.
func (p *Pool) Run(ctx context.Context, jobs []*Job) ([]*Result, error) {
	results := make([]*Result, len(jobs))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		i, job := i, job
		g.Go(func() error {
			result := p.runOne(ctx, job)
			mu.Lock()
			results[i] = result
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	for i, job := range jobs {
		if results[i] == nil {
			results[i] = &Result{Job: job, Err: ctx.Err()}
		}
	}
	return results, ctx.Err()
}

func (p *Pool) runOne(ctx context.Context, job *Job) *Result {
	result := &Result{Job: job}
	if ctx.Err() != nil {
		result.Err = ctx.Err()
		return result
	}
	act, err := p.newActor(job)
	if err != nil {
		result.Err = fmt.Errorf("failed to create actor: %w", err)
		return result
	}
	page, err := p.newPage(ctx)
	if err != nil {
		result.Err = fmt.Errorf("failed to open browser: %w", err)
		return result
	}
	defer page.Close()

	detector := p.options.Detector
	if detector == nil {
		detector = completion.New(nil)
	}
	r := finiterunner.New(page, act, p.options.Resolver, detector, p.options.Engine, &finiterunner.Options{
		SessionID:          job.ID,
		Kind:               job.Kind,
		MaxNumSteps:        p.options.MaxNumSteps,
		Timeout:            p.options.Timeout,
		MaxDecisionRetries: p.options.MaxDecisionRetries,
		StepDelay:          p.options.StepDelay,
		Assertions:         job.Assertions,
		Store:              p.options.Store,
		Metrics:            p.options.Metrics,
		Logger:             p.log,
	})
	state, err := r.Run(ctx, job.StartURL, job.Instruction)
	if state != nil {
		result.State = state
		result.Summary = runner.Summarize(state)
		p.log.Info("session finished",
			zap.String("session_id", state.ID),
			zap.String("status", string(state.CurrentStatus())))
	}
	result.Err = err
	return result
}

// Failed returns the results whose session did not pass.
func Failed(results []*Result) []*Result {
	var failed []*Result
	for _, r := range results {
		if r == nil {
			continue
		}
		if r.Err != nil || r.State == nil || r.State.CurrentStatus() != runner.StatusPassed {
			failed = append(failed, r)
		}
	}
	return failed
}

// Err joins the errors of results that could not run at all.
func Err(results []*Result) error {
	var errs []error
	for _, r := range results {
		if r != nil && r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Job.StartURL, r.Err))
		}
	}
	return errors.Join(errs...)
}

package finiterunner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sentinelqa/errcode"
	"sentinelqa/metrics"
	"sentinelqa/target"
	"sentinelqa/trajectory"
	"sentinelqa/verify"
)

// executor carries out one action against the page. Element actions try
// every candidate in reliability order before giving up.
type executor struct {
	ctx      context.Context
	page     Page
	resolver *target.Resolver
	engine   *verify.Engine
	metrics  *metrics.Metrics
	log      *zap.Logger

	// results of the last verify action
	results []verify.Result
}

func (e *executor) execute(ctx context.Context, action trajectory.Action) error {
	e.ctx = ctx
	e.results = nil
	return action.Accept(e)
}

func (e *executor) VisitClick(a *trajectory.ClickAction) error {
	return e.attempt(&a.ActionMeta, func(c *target.Candidate) error {
		return e.page.Click(e.ctx, c)
	})
}

func (e *executor) VisitType(a *trajectory.TypeAction) error {
	return e.attempt(&a.ActionMeta, func(c *target.Candidate) error {
		return e.page.Type(e.ctx, c, a.Value)
	})
}

func (e *executor) VisitSelect(a *trajectory.SelectAction) error {
	return e.attempt(&a.ActionMeta, func(c *target.Candidate) error {
		return e.page.Select(e.ctx, c, a.Value)
	})
}

func (e *executor) VisitSubmit(a *trajectory.SubmitAction) error {
	if a.Target.IsEmpty() && len(a.Candidates) == 0 {
		if err := e.page.Submit(e.ctx, nil); err != nil {
			return stepError(err, "submit failed")
		}
		return nil
	}
	return e.attempt(&a.ActionMeta, func(c *target.Candidate) error {
		return e.page.Submit(e.ctx, c)
	})
}

func (e *executor) VisitNavigate(a *trajectory.NavigateAction) error {
	if err := e.page.Navigate(e.ctx, a.URL); err != nil {
		return stepError(err, fmt.Sprintf("navigation to %s failed", a.URL))
	}
	return nil
}

func (e *executor) VisitPress(a *trajectory.PressAction) error {
	if err := e.page.Press(e.ctx, a.Key); err != nil {
		return stepError(err, fmt.Sprintf("pressing %s failed", a.Key))
	}
	return nil
}

func (e *executor) VisitWait(a *trajectory.WaitAction) error {
	select {
	case <-e.ctx.Done():
		return e.ctx.Err()
	case <-time.After(a.Duration):
		return nil
	}
}

func (e *executor) VisitVerify(a *trajectory.VerifyAction) error {
	e.results = e.engine.Evaluate(e.ctx, e.page, []verify.Assertion{a.Assertion})
	for _, r := range e.results {
		e.metrics.Verification(string(r.Assertion.Kind), r.Passed)
		if r.SelectorUsed != "" {
			a.SelectorUsed = r.SelectorUsed
			a.StrategyUsed = r.Strategy
		}
	}
	return nil
}

func (e *executor) VisitComplete(a *trajectory.CompleteAction) error {
	return nil
}

// candidates resolves the target against the current snapshot and ranks the
// result together with the candidates carried by a recorded action.
func (e *executor) candidates(meta *trajectory.ActionMeta) ([]*target.Candidate, error) {
	var resolved []*target.Candidate
	var resolveErr error
	if !meta.Target.IsEmpty() {
		doc, err := e.page.Document(e.ctx)
		if err != nil {
			return nil, stepError(err, "reading page failed")
		}
		resolved, resolveErr = e.resolver.Resolve(doc, meta.Target)
	}
	resolved = target.Merge(resolved, meta.Candidates)
	if len(resolved) == 0 {
		if resolveErr != nil {
			return nil, resolveErr
		}
		return nil, errcode.Newf(errcode.TargetNotFound, "no element matches %s", meta.Target.String())
	}
	return resolved, nil
}

func (e *executor) attempt(meta *trajectory.ActionMeta, do func(c *target.Candidate) error) error {
	candidates, err := e.candidates(meta)
	if err != nil {
		return err
	}
	var lastErr error
	allMissing := true
	for i, c := range candidates {
		err := do(c)
		if err == nil {
			meta.Candidates = candidates
			meta.SelectorUsed = c.Selector
			meta.StrategyUsed = c.Strategy
			if i > 0 {
				e.metrics.CandidateFallback()
				e.log.Info("selector fallback", zap.String("selector", c.Selector), zap.Int("attempt", i+1))
			}
			return nil
		}
		if ctxErr := e.ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		e.log.Debug("candidate failed", zap.String("selector", c.Selector), zap.Error(err))
		if !errcode.Has(err, errcode.ElementNotFound) {
			allMissing = false
		}
		lastErr = err
	}
	if allMissing {
		return errcode.Wrap(lastErr, errcode.TargetNotFound, fmt.Sprintf("none of %d candidates matched %s", len(candidates), meta.Target.String()))
	}
	return errcode.Wrap(lastErr, errcode.ActionExecutionFailed, fmt.Sprintf("all %d candidates failed for %s", len(candidates), meta.Target.String()))
}

// stepError keeps cancellation and already-coded errors as they are.
func stepError(err error, message string) error {
	var coded *errcode.Error
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.As(err, &coded) {
		return err
	}
	return errcode.Wrap(err, errcode.ActionExecutionFailed, message)
}

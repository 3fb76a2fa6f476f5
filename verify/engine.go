package verify

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"sentinelqa/errcode"
	"sentinelqa/target"
	"sentinelqa/utils/slicesx"
)

// Page is the current state of the page under test. Document is a snapshot
// used for resolution; live state is read through the embedded Probe.
type Page interface {
	Probe
	URL(ctx context.Context) (string, error)
	Document(ctx context.Context) (*goquery.Document, error)
}

type Engine struct {
	resolver *target.Resolver
	checkers map[Kind]Checker
	log      *zap.Logger
}

type Option func(*Engine)

func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log.Named("verify")
		}
	}
}

// WithChecker overrides or adds the checker for one assertion kind.
func WithChecker(kind Kind, checker Checker) Option {
	return func(e *Engine) {
		e.RegisterChecker(kind, checker)
	}
}

func NewEngine(resolver *target.Resolver, opts ...Option) *Engine {
	if resolver == nil {
		resolver = target.NewResolver(nil)
	}
	e := &Engine{
		resolver: resolver,
		checkers: make(map[Kind]Checker, len(builtinCheckers)),
		log:      zap.NewNop(),
	}
	for kind, checker := range builtinCheckers {
		e.checkers[kind] = checker
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) RegisterChecker(kind Kind, checker Checker) {
	if checker == nil {
		delete(e.checkers, kind)
		return
	}
	e.checkers[kind] = checker
}

// Evaluate runs every assertion against the page and returns one result per
// assertion, in order. A failing assertion does not stop the rest.
func (e *Engine) Evaluate(ctx context.Context, page Page, assertions []Assertion) []Result {
	results := make([]Result, 0, len(assertions))
	var doc *goquery.Document
	for _, a := range assertions {
		if a.Kind == KindURLContains {
			results = append(results, e.checkURL(ctx, page, a))
			continue
		}
		if doc == nil {
			var err error
			if doc, err = page.Document(ctx); err != nil {
				results = append(results, Result{
					Assertion:  a,
					Confidence: target.ConfidenceLow,
					Reason:     fmt.Sprintf("could not read page: %v", err),
					Code:       string(errcode.CodeOf(err)),
				})
				continue
			}
		}
		results = append(results, e.evaluate(ctx, page, doc, a))
	}
	return results
}

func (e *Engine) evaluate(ctx context.Context, page Page, doc *goquery.Document, a Assertion) Result {
	checker, ok := e.checkers[a.Kind]
	if !ok {
		return Result{
			Assertion:  a,
			Confidence: target.ConfidenceLow,
			Reason:     fmt.Sprintf("unknown assertion kind %q", a.Kind),
		}
	}
	c, err := e.pick(ctx, page, doc, a.Target)
	if err != nil {
		e.log.Debug("verification target unresolved", zap.String("assertion", a.String()), zap.Error(err))
		return Result{
			Assertion:  a,
			Confidence: target.ConfidenceLow,
			Actual:     "target not found",
			Reason:     fmt.Sprintf("could not resolve target %s", a.Target.String()),
			Code:       string(errcode.VerificationTargetUnresolved),
		}
	}
	passed, actual, reason, err := checker(ctx, page, c, a)
	if err != nil {
		return Result{
			Assertion:    a,
			Confidence:   target.ConfidenceFor(c.Strategy),
			Reason:       fmt.Sprintf("check failed: %v", err),
			SelectorUsed: c.Selector,
			Strategy:     c.Strategy,
			Code:         string(errcode.CodeOf(err)),
		}
	}
	e.log.Debug("assertion evaluated",
		zap.String("assertion", a.String()),
		zap.Bool("passed", passed),
		zap.String("selector", c.Selector))
	return Result{
		Assertion:    a,
		Passed:       passed,
		Confidence:   target.ConfidenceFor(c.Strategy),
		Actual:       actual,
		Reason:       reason,
		SelectorUsed: c.Selector,
		Strategy:     c.Strategy,
	}
}

// pick resolves the target and returns the first candidate that matches at
// least one live element.
func (e *Engine) pick(ctx context.Context, page Page, doc *goquery.Document, desc *target.Descriptor) (*target.Candidate, error) {
	candidates, err := e.resolver.Resolve(doc, desc)
	if err != nil {
		return nil, err
	}
	for _, c := range candidates {
		n, err := page.Count(ctx, c)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if n >= 1 {
			return c, nil
		}
	}
	return nil, errcode.Newf(errcode.VerificationTargetUnresolved, "no candidate for %s matches the page", desc.String())
}

func (e *Engine) checkURL(ctx context.Context, page Page, a Assertion) Result {
	url, err := page.URL(ctx)
	if err != nil {
		return Result{
			Assertion:  a,
			Confidence: target.ConfidenceLow,
			Reason:     fmt.Sprintf("could not read url: %v", err),
			Code:       string(errcode.CodeOf(err)),
		}
	}
	result := Result{
		Assertion:  a,
		Confidence: target.ConfidenceHigh,
		Actual:     truncate(url),
	}
	if strings.Contains(url, a.Expected) {
		result.Passed = true
		result.Reason = fmt.Sprintf("url contains %q", a.Expected)
	} else {
		result.Reason = fmt.Sprintf("url does not contain %q", a.Expected)
	}
	return result
}

// Passed reports whether every result passed. An empty slice passes.
func Passed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	return slicesx.Filter(results, func(r Result) bool { return !r.Passed })
}

package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"sentinelqa/browser/js/primitives"
	"sentinelqa/errcode"
	"sentinelqa/target"
	"sentinelqa/translators"
	"sentinelqa/translators/html2ctx"
)

const (
	DefaultActionTimeout = 10 * time.Second
	DefaultNavTimeout    = 30 * time.Second
	DefaultSettleDelay   = 500 * time.Millisecond
	DefaultWindowWidth   = 1280
	DefaultWindowHeight  = 800
)

type Options struct {
	Headful bool

	// AttemptToDisableAutomationMessage hides the "controlled by automated
	// software" banner and automation user agent.
	AttemptToDisableAutomationMessage bool
	ActionTimeout                     time.Duration
	NavTimeout                        time.Duration

	// SettleDelay is waited after every interaction so that handlers and
	// client-side navigation can run before the next snapshot.
	SettleDelay  time.Duration
	WindowWidth  int
	WindowHeight int
	ExecPath     string
	Logger       *zap.Logger
}

// Browser owns one chromedp tab. It is the only thing that touches that tab,
// and calls are serialized.
type Browser struct {
	mu            *sync.Mutex
	ctx           context.Context
	cancel        context.CancelFunc
	allocCancel   context.CancelFunc
	actionTimeout time.Duration
	navTimeout    time.Duration
	settleDelay   time.Duration
	digester      translators.Translator
	log           *zap.Logger
}

// Snapshot is the page state handed to the decision model.
type Snapshot struct {
	URL        string
	Title      string
	HTML       string
	Digest     string
	Screenshot []byte
}

func NewBrowser(ctx context.Context, options *Options) *Browser {
	if options == nil {
		options = &Options{}
	}
	actionTimeout := DefaultActionTimeout
	navTimeout := DefaultNavTimeout
	settleDelay := DefaultSettleDelay
	width, height := DefaultWindowWidth, DefaultWindowHeight
	log := zap.NewNop()
	if options.ActionTimeout > 0 {
		actionTimeout = options.ActionTimeout
	}
	if options.NavTimeout > 0 {
		navTimeout = options.NavTimeout
	}
	if options.SettleDelay > 0 {
		settleDelay = options.SettleDelay
	}
	if options.WindowWidth > 0 && options.WindowHeight > 0 {
		width, height = options.WindowWidth, options.WindowHeight
	}
	if options.Logger != nil {
		log = options.Logger.Named("browser")
	}

	ops := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	ops = append(ops, chromedp.WindowSize(width, height))
	if options.Headful {
		ops = append(ops, chromedp.Flag("headless", false))
	}
	if options.AttemptToDisableAutomationMessage {
		ops = append(ops, chromedp.UserAgent("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/118.0.0.0 Safari/537.36"))
		ops = append(ops, chromedp.Flag("enable-automation", false))
	}
	if options.ExecPath != "" {
		ops = append(ops, chromedp.ExecPath(options.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, ops...)
	browserCtx, cancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(log.Sugar().Debugf), chromedp.WithErrorf(log.Sugar().Debugf))
	return &Browser{
		mu:            &sync.Mutex{},
		ctx:           browserCtx,
		cancel:        cancel,
		allocCancel:   allocCancel,
		actionTimeout: actionTimeout,
		navTimeout:    navTimeout,
		settleDelay:   settleDelay,
		digester:      html2ctx.NewHTML2CtxTranslator(nil),
		log:           log,
	}
}

// Context is the chromedp context of the tab, for attaching listeners.
func (b *Browser) Context() context.Context {
	return b.ctx
}

// Exec runs raw chromedp actions on the tab with the action timeout.
func (b *Browser) Exec(ctx context.Context, actions ...chromedp.Action) error {
	return b.run(ctx, b.actionTimeout, actions...)
}

// run executes actions on the tab, bounded by timeout and by ctx.
func (b *Browser) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	runCtx, cancel := context.WithTimeout(b.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// settle gives the page time to react to an action, then waits for a
// document the action navigated to.
func (b *Browser) settle(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(b.settleDelay):
	}
	if err := b.run(ctx, b.navTimeout, primitives.WaitForPageLoad(int(b.navTimeout.Milliseconds()))); err != nil {
		b.log.Debug("page did not finish loading", zap.Error(err))
	}
}

func (b *Browser) Navigate(ctx context.Context, URL string) error {
	if u, err := GetCanonicalURL(URL); err != nil {
		return fmt.Errorf("error ensuring scheme: %w", err)
	} else if valid, err := IsValidURL(u); !valid {
		return fmt.Errorf("invalid url %s: %w", u, err)
	} else if err := b.run(ctx, b.navTimeout, chromedp.Navigate(u), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return classify(err, u)
	}
	b.settle(ctx)
	return nil
}

func (b *Browser) URL(ctx context.Context) (string, error) {
	var url string
	if err := b.run(ctx, b.actionTimeout, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

func (b *Browser) HTML(ctx context.Context) (string, error) {
	var html string
	if err := b.run(ctx, b.actionTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		node, err := dom.GetDocument().Do(ctx)
		if err != nil {
			return err
		}
		html, err = dom.GetOuterHTML().WithNodeID(node.NodeID).Do(ctx)
		return err
	})); err != nil {
		return "", fmt.Errorf("error getting html: %w", err)
	}
	return html, nil
}

// Document parses the current DOM for the target resolver.
func (b *Browser) Document(ctx context.Context) (*goquery.Document, error) {
	html, err := b.HTML(ctx)
	if err != nil {
		return nil, err
	}
	return target.ParseHTML(html)
}

func (b *Browser) Capture(ctx context.Context) (*Snapshot, error) {
	snapshot := &Snapshot{}
	if err := b.run(ctx, b.actionTimeout,
		chromedp.Location(&snapshot.URL),
		chromedp.Title(&snapshot.Title),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, err := page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatPng).Do(ctx)
			if err != nil {
				return err
			}
			snapshot.Screenshot = buf
			return nil
		}),
	); err != nil {
		return nil, fmt.Errorf("error capturing page: %w", err)
	}
	html, err := b.HTML(ctx)
	if err != nil {
		return nil, err
	}
	snapshot.HTML = html
	if digest, err := b.digester.Translate(html); err != nil {
		b.log.Debug("digest failed", zap.String("url", snapshot.URL), zap.Error(err))
	} else {
		snapshot.Digest = digest
	}
	return snapshot, nil
}

func (b *Browser) inspect(ctx context.Context, c *target.Candidate) (*primitives.ElementState, error) {
	if c == nil || strings.TrimSpace(c.Selector) == "" {
		return nil, errcode.New(errcode.ElementNotFound, "empty selector")
	}
	state := &primitives.ElementState{}
	if err := b.run(ctx, b.actionTimeout, primitives.Inspect(normalizeSelector(c.Selector), state)); err != nil {
		return nil, classify(err, c.Selector)
	}
	return state, nil
}

func (b *Browser) Count(ctx context.Context, c *target.Candidate) (int, error) {
	if c == nil || strings.TrimSpace(c.Selector) == "" {
		return 0, nil
	}
	var n int
	if err := b.run(ctx, b.actionTimeout, primitives.Count(normalizeSelector(c.Selector), &n)); err != nil {
		return 0, classify(err, c.Selector)
	}
	return n, nil
}

func (b *Browser) Visible(ctx context.Context, c *target.Candidate) (bool, error) {
	state, err := b.inspect(ctx, c)
	if err != nil {
		return false, err
	}
	return state.Count > 0 && state.Visible, nil
}

func (b *Browser) Enabled(ctx context.Context, c *target.Candidate) (bool, error) {
	state, err := b.inspect(ctx, c)
	if err != nil {
		return false, err
	} else if state.Count == 0 {
		return false, errcode.Newf(errcode.ElementNotFound, "no element matches %s", c.Selector)
	}
	return state.Enabled, nil
}

func (b *Browser) Text(ctx context.Context, c *target.Candidate) (string, error) {
	state, err := b.inspect(ctx, c)
	if err != nil {
		return "", err
	} else if state.Count == 0 {
		return "", errcode.Newf(errcode.ElementNotFound, "no element matches %s", c.Selector)
	}
	return state.Text, nil
}

// present fails fast with ELEMENT_NOT_FOUND; chromedp queries would
// otherwise wait for the element until the action times out.
func (b *Browser) present(ctx context.Context, c *target.Candidate) (primitives.Query, error) {
	n, err := b.Count(ctx, c)
	if err != nil {
		return primitives.Query{}, err
	} else if n == 0 {
		return primitives.Query{}, errcode.Newf(errcode.ElementNotFound, "no element matches %s", c.Selector)
	}
	return normalizeSelector(c.Selector), nil
}

func (b *Browser) Click(ctx context.Context, c *target.Candidate) error {
	q, err := b.present(ctx, c)
	if err != nil {
		return err
	}
	opt := queryOption(q)
	if err := b.run(ctx, b.actionTimeout,
		chromedp.ScrollIntoView(q.Selector, opt),
		chromedp.Click(q.Selector, opt, chromedp.NodeVisible),
	); err != nil {
		return classify(err, c.Selector)
	}
	b.settle(ctx)
	return nil
}

func (b *Browser) Type(ctx context.Context, c *target.Candidate, value string) error {
	q, err := b.present(ctx, c)
	if err != nil {
		return err
	}
	opt := queryOption(q)
	if err := b.run(ctx, b.actionTimeout,
		chromedp.ScrollIntoView(q.Selector, opt),
		chromedp.Focus(q.Selector, opt),
		chromedp.SetValue(q.Selector, "", opt),
		chromedp.SendKeys(q.Selector, value, opt),
	); err != nil {
		return classify(err, c.Selector)
	}
	b.settle(ctx)
	return nil
}

func (b *Browser) Select(ctx context.Context, c *target.Candidate, value string) error {
	q, err := b.present(ctx, c)
	if err != nil {
		return err
	}
	var result string
	if err := b.run(ctx, b.actionTimeout, primitives.SelectOption(q, value, &result)); err != nil {
		return classify(err, c.Selector)
	}
	switch result {
	case "ok":
		b.settle(ctx)
		return nil
	case "not_found":
		return errcode.Newf(errcode.ElementDetached, "%s disappeared before selecting", c.Selector)
	default:
		return errcode.Newf(errcode.ActionExecutionFailed, "%s has no option %q", c.Selector, value)
	}
}

// Submit submits the form owning c, or the focused form when c is nil.
// Without any form it falls back to pressing Enter.
func (b *Browser) Submit(ctx context.Context, c *target.Candidate) error {
	var q *primitives.Query
	if c != nil {
		query, err := b.present(ctx, c)
		if err != nil {
			return err
		}
		q = &query
	}
	var result string
	if err := b.run(ctx, b.actionTimeout, primitives.SubmitForm(q, &result)); err != nil {
		return classify(err, "form")
	}
	switch result {
	case "ok":
		b.settle(ctx)
		return nil
	case "no_form":
		return b.Press(ctx, "Enter")
	default:
		return errcode.New(errcode.ElementDetached, "submit target disappeared")
	}
}

var namedKeys = map[string]string{
	"enter":      kb.Enter,
	"return":     kb.Enter,
	"tab":        kb.Tab,
	"escape":     kb.Escape,
	"esc":        kb.Escape,
	"backspace":  kb.Backspace,
	"delete":     kb.Delete,
	"arrowup":    kb.ArrowUp,
	"arrowdown":  kb.ArrowDown,
	"arrowleft":  kb.ArrowLeft,
	"arrowright": kb.ArrowRight,
	"space":      " ",
}

// Press sends a key to the focused element.
func (b *Browser) Press(ctx context.Context, key string) error {
	k, ok := namedKeys[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		if key == "" {
			return errcode.New(errcode.ActionExecutionFailed, "key cannot be empty")
		}
		k = key
	}
	if err := b.run(ctx, b.actionTimeout, chromedp.KeyEvent(k)); err != nil {
		return classify(err, key)
	}
	b.settle(ctx)
	return nil
}

func (b *Browser) Close() {
	b.cancel()
	b.allocCancel()
}

// classify maps chromedp failures onto the browser error codes.
func classify(err error, selector string) error {
	if err == nil {
		return nil
	}
	var coded *errcode.Error
	if errors.As(err, &coded) {
		return err
	}
	msg := err.Error()
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return errcode.Wrap(err, errcode.ActionTimeout, "timed out").WithContext("selector", selector).WithRetryable(true)
	case strings.Contains(msg, "Could not find node"), strings.Contains(msg, "No node with given id"),
		strings.Contains(msg, "detached"), strings.Contains(msg, "Cannot find context with specified id"):
		return errcode.Wrap(err, errcode.ElementDetached, "element detached").WithContext("selector", selector).WithRetryable(true)
	default:
		return errcode.Wrap(err, errcode.ActionExecutionFailed, "browser action failed").WithContext("selector", selector)
	}
}

// Package recorder turns DOM events from a live page into replayable actions.
package recorder

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"sentinelqa/errcode"
	"sentinelqa/instruction"
	"sentinelqa/metrics"
	"sentinelqa/target"
	"sentinelqa/trajectory"
)

const DefaultDebounce = 100 * time.Millisecond

type EventType string

const (
	EventClick  EventType = "click"
	EventInput  EventType = "input"
	EventChange EventType = "change"
	EventSubmit EventType = "submit"
	EventLoad   EventType = "load"
)

// RawEvent is one DOM event as reported by the page script.
type RawEvent struct {
	Type EventType `json:"type"`

	// Path is a css path to the event target.
	Path  string `json:"path"`
	Value string `json:"value"`
	URL   string `json:"url"`

	// HTML is the document at the time of the event.
	HTML string `json:"html"`

	// TimeMS is the page clock in milliseconds since the epoch.
	TimeMS int64 `json:"ts"`
}

func (e *RawEvent) time(now time.Time) time.Time {
	if e.TimeMS > 0 {
		return time.UnixMilli(e.TimeMS)
	}
	return now
}

type Options struct {
	// Debounce drops a click arriving this soon after the previous one.
	Debounce time.Duration
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	Now      func() time.Time
}

// Recorder is the source of truth for one recording session. Accepted
// actions are appended to host storage and published to subscribers.
type Recorder struct {
	id       string
	resolver *target.Resolver
	store    *HostStore
	debounce time.Duration
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time

	mu        sync.Mutex
	recording bool
	actions   []trajectory.Action
	startURL  string
	lastClick time.Time
	lastField string

	// submitClicked is set when the last recorded action came from a click
	// on a submit control, whose form submit event is then dropped.
	submitClicked bool

	subsMu sync.Mutex
	subs   []chan trajectory.Action
}

// New creates a stopped recorder. store may be nil for a recording that is
// kept only in memory.
func New(id string, resolver *target.Resolver, store *HostStore, options *Options) *Recorder {
	if resolver == nil {
		resolver = target.NewResolver(nil)
	}
	r := &Recorder{
		id:       id,
		resolver: resolver,
		store:    store,
		debounce: DefaultDebounce,
		log:      zap.NewNop(),
		now:      time.Now,
	}
	if options != nil {
		if options.Debounce > 0 {
			r.debounce = options.Debounce
		}
		r.metrics = options.Metrics
		if options.Logger != nil {
			r.log = options.Logger
		}
		if options.Now != nil {
			r.now = options.Now
		}
	}
	r.log = r.log.Named("recorder").With(zap.String("recording_id", id))
	return r
}

// Resume rebuilds a recorder from host storage, keeping its flag and actions.
func Resume(ctx context.Context, store *HostStore, id string, resolver *target.Resolver, options *Options) (*Recorder, error) {
	rec, err := store.LoadRecording(id)
	if err != nil {
		return nil, err
	}
	r := New(id, resolver, store, options)
	r.recording = rec.Active
	r.actions = rec.Actions
	for _, action := range rec.Actions {
		if nav, ok := action.(*trajectory.NavigateAction); ok {
			r.startURL = nav.URL
			break
		}
	}
	r.log.Info("resumed", zap.Bool("recording", rec.Active), zap.Int("actions", len(rec.Actions)))
	return r, nil
}

func (r *Recorder) ID() string {
	return r.id
}

func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recording = true
	r.lastClick = time.Time{}
	r.lastField = ""
	r.submitClicked = false
	r.log.Info("recording started")
	return r.persist(ctx, ChangeRecording)
}

func (r *Recorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recording = false
	r.log.Info("recording stopped", zap.Int("actions", len(r.actions)))
	return r.persist(ctx, ChangeRecording)
}

func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

func (r *Recorder) Actions() []trajectory.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]trajectory.Action{}, r.actions...)
}

// Instruction is the natural-language summary of what was recorded so far.
func (r *Recorder) Instruction() string {
	r.mu.Lock()
	startURL := r.startURL
	r.mu.Unlock()
	return instruction.Synthesize(r.Actions(), startURL)
}

// Subscribe returns a channel of accepted actions. Updates to an action
// already published are sent again. The channel is closed by Close.
func (r *Recorder) Subscribe() <-chan trajectory.Action {
	ch := make(chan trajectory.Action, 64)
	r.subsMu.Lock()
	r.subs = append(r.subs, ch)
	r.subsMu.Unlock()
	return ch
}

func (r *Recorder) Close() {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	for _, ch := range r.subs {
		close(ch)
	}
	r.subs = nil
}

func (r *Recorder) publish(action trajectory.Action) {
	// subscribers get their own copy since type actions are updated in place
	b, err := trajectory.MarshalAction(action)
	if err != nil {
		r.log.Warn("failed to copy action", zap.Error(err))
		return
	}
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	for _, ch := range r.subs {
		cp, err := trajectory.UnmarshalAction(b)
		if err != nil {
			return
		}
		select {
		case ch <- cp:
		default:
		}
	}
}

// HandleEvent records ev if it is meaningful. It returns the recorded or
// updated action, or nil when the event was ignored.
func (r *Recorder) HandleEvent(ctx context.Context, ev RawEvent) (trajectory.Action, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return nil, nil
	}
	at := ev.time(r.now())

	if ev.Type == EventLoad {
		return r.recordNavigate(ctx, ev, at)
	}

	doc, err := target.ParseHTML(ev.HTML)
	if err != nil {
		return nil, fmt.Errorf("error parsing page snapshot: %w", err)
	}
	el := doc.Find(ev.Path).First()
	if ev.Path == "" || el.Length() == 0 {
		return nil, errcode.Newf(errcode.TargetNotFound, "event target %q is not in the snapshot", ev.Path).
			WithContext("event", string(ev.Type))
	}
	tag := goquery.NodeName(el)

	switch ev.Type {
	case EventClick:
		if !r.lastClick.IsZero() && at.Sub(r.lastClick) < r.debounce {
			r.log.Debug("click debounced", zap.String("path", ev.Path))
			return nil, nil
		}
		r.lastClick = at
		if focusesField(el) {
			// the field's input or change event records what happens next
			return nil, nil
		}
		r.lastField = ""
		if isSubmitControl(el) {
			action := trajectory.NewSubmitAction(r.resolver.DescriptorFor(el))
			action.Description = r.resolver.Describe(doc, el)
			recorded, err := r.record(ctx, action, doc, el, ev, at)
			r.submitClicked = true
			return recorded, err
		}
		desc := r.resolver.DescriptorFor(el)
		action := trajectory.NewClickAction(desc, r.resolver.Describe(doc, el))
		return r.record(ctx, action, doc, el, ev, at)
	case EventInput, EventChange:
		if tag == "select" {
			if prev := r.lastSameField(trajectory.ActionKindSelect, ev.Path); prev != nil {
				return r.update(ctx, prev, ev.Value, at)
			}
			r.lastField = ev.Path
			action := trajectory.NewSelectAction(r.resolver.DescriptorFor(el), r.resolver.Describe(doc, el), ev.Value)
			return r.record(ctx, action, doc, el, ev, at)
		}
		if tag != "input" && tag != "textarea" && !isContentEditable(el) {
			return nil, nil
		} else if isToggle(el) {
			// the click already recorded the toggle
			return nil, nil
		}
		if prev := r.lastSameField(trajectory.ActionKindType, ev.Path); prev != nil {
			return r.update(ctx, prev, ev.Value, at)
		}
		r.lastField = ev.Path
		action := trajectory.NewTypeAction(r.resolver.DescriptorFor(el), r.resolver.Describe(doc, el), ev.Value)
		return r.record(ctx, action, doc, el, ev, at)
	case EventSubmit:
		r.lastField = ""
		if r.submitClicked {
			r.submitClicked = false
			return nil, nil
		}
		action := trajectory.NewSubmitAction(r.resolver.DescriptorFor(el))
		action.Description = r.resolver.Describe(doc, el)
		return r.record(ctx, action, doc, el, ev, at)
	}
	return nil, fmt.Errorf("unknown event type: %s", ev.Type)
}

func (r *Recorder) recordNavigate(ctx context.Context, ev RawEvent, at time.Time) (trajectory.Action, error) {
	r.lastField = ""
	if !replayable(ev.URL) {
		// about:blank and friends show up before the first real page
		return nil, nil
	}
	if n := len(r.actions); n > 0 {
		if nav, ok := r.actions[n-1].(*trajectory.NavigateAction); ok && nav.URL == ev.URL {
			return nil, nil
		}
	}
	if r.startURL == "" {
		r.startURL = ev.URL
	}
	action := trajectory.NewNavigateAction(ev.URL)
	return r.record(ctx, action, nil, nil, ev, at)
}

func replayable(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "http", "https":
		return u.Host != ""
	case "file":
		return true
	}
	return false
}

// lastSameField returns the previous action when it is a kind action on the
// field at path with nothing recorded since.
func (r *Recorder) lastSameField(kind trajectory.ActionKind, path string) trajectory.Action {
	n := len(r.actions)
	if n == 0 || r.lastField != path {
		return nil
	}
	if prev := r.actions[n-1]; prev.Kind() == kind {
		return prev
	}
	return nil
}

func (r *Recorder) update(ctx context.Context, action trajectory.Action, value string, at time.Time) (trajectory.Action, error) {
	meta := action.Meta()
	meta.Value = value
	meta.Timestamp = at
	if err := r.persist(ctx, ChangeAction); err != nil {
		return action, err
	}
	r.publish(action)
	return action, nil
}

func (r *Recorder) record(ctx context.Context, action trajectory.Action, doc *goquery.Document, el *goquery.Selection, ev RawEvent, at time.Time) (trajectory.Action, error) {
	r.submitClicked = false
	meta := action.Meta()
	meta.ID = ulid.Make().String()
	meta.Timestamp = at
	meta.PageURL = ev.URL
	if doc != nil && el != nil {
		meta.Candidates = r.resolver.Candidates(doc, el)
	}
	r.actions = append(r.actions, action)
	r.metrics.RecordedAction(string(action.Kind()))
	r.log.Debug("recorded", zap.String("action", action.GetText()))
	if err := r.persist(ctx, ChangeAction); err != nil {
		return action, err
	}
	r.publish(action)
	return action, nil
}

// persist must be called with mu held.
func (r *Recorder) persist(ctx context.Context, kind ChangeKind) error {
	if r.store == nil {
		return nil
	}
	return r.store.SaveRecording(ctx, &Recording{
		ID:      r.id,
		Active:  r.recording,
		Actions: r.actions,
	}, kind)
}

func focusesField(el *goquery.Selection) bool {
	switch goquery.NodeName(el) {
	case "textarea", "select":
		return true
	case "input":
		switch strings.ToLower(el.AttrOr("type", "text")) {
		case "submit", "button", "reset", "image", "checkbox", "radio", "file":
			return false
		}
		return true
	}
	return false
}

// isSubmitControl reports whether clicking el submits its form.
func isSubmitControl(el *goquery.Selection) bool {
	switch goquery.NodeName(el) {
	case "button":
		if t := strings.ToLower(el.AttrOr("type", "submit")); t != "submit" {
			return false
		}
	case "input":
		if t := strings.ToLower(el.AttrOr("type", "")); t != "submit" && t != "image" {
			return false
		}
	default:
		return false
	}
	if _, ok := el.Attr("form"); ok {
		return true
	}
	return el.Closest("form").Length() > 0
}

func isToggle(el *goquery.Selection) bool {
	if goquery.NodeName(el) != "input" {
		return false
	}
	t := strings.ToLower(el.AttrOr("type", ""))
	return t == "checkbox" || t == "radio"
}

func isContentEditable(el *goquery.Selection) bool {
	v, ok := el.Attr("contenteditable")
	return ok && !strings.EqualFold(v, "false")
}

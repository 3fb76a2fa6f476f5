package recorder

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinelqa/errcode"
	"sentinelqa/target"
	"sentinelqa/trajectory"
)

const signupPage = `<html><body>
<form id="signup">
  <label for="email">Email address</label>
  <input id="email" name="email" type="email">
  <label><input type="checkbox" name="terms"> I agree</label>
  <select name="plan"><option>Free</option><option>Pro</option></select>
  <button data-testid="signup-submit" type="submit">Create account</button>
</form>
</body></html>`

// clock advances by step on every call so debounce windows are predictable.
type clock struct {
	t    time.Time
	step time.Duration
}

func (c *clock) now() time.Time {
	c.t = c.t.Add(c.step)
	return c.t
}

func newTestRecorder(t *testing.T, store *HostStore) (*Recorder, *clock) {
	t.Helper()
	c := &clock{t: time.Unix(1700000000, 0), step: time.Second}
	r := New("rec_1", target.NewResolver(nil), store, &Options{Now: c.now})
	require.NoError(t, r.Start(context.Background()))
	return r, c
}

func event(typ EventType, path string, value string) RawEvent {
	return RawEvent{Type: typ, Path: path, Value: value, URL: "https://shop.test/signup", HTML: signupPage}
}

func openTestHostStore(t *testing.T) *HostStore {
	t.Helper()
	s, err := OpenHostStore(filepath.Join(t.TempDir(), "host.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordsAFormFlow(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRecorder(t, nil)

	steps := []RawEvent{
		{Type: EventLoad, URL: "https://shop.test/signup"},
		event(EventClick, "#email", ""),
		event(EventInput, "#email", "a"),
		event(EventInput, "#email", "ad"),
		event(EventInput, "#email", "ada@shop.test"),
		event(EventChange, "form > select", "Pro"),
		event(EventClick, "form > button", ""),
		event(EventSubmit, "#signup", ""),
	}
	for _, ev := range steps {
		_, err := r.HandleEvent(ctx, ev)
		require.NoError(t, err)
	}

	actions := r.Actions()
	require.Len(t, actions, 4)
	kinds := []trajectory.ActionKind{}
	for _, a := range actions {
		kinds = append(kinds, a.Kind())
		assert.NotEmpty(t, a.Meta().ID)
	}
	assert.Equal(t, []trajectory.ActionKind{
		trajectory.ActionKindNavigate,
		trajectory.ActionKindType,
		trajectory.ActionKindSelect,
		trajectory.ActionKindSubmit,
	}, kinds)

	typed := actions[1].(*trajectory.TypeAction)
	assert.Equal(t, "ada@shop.test", typed.Value)
	assert.Equal(t, "Email address", typed.Description)
	assert.Equal(t, "#email", typed.Candidates[0].Selector)

	submit := actions[3].(*trajectory.SubmitAction)
	require.NotEmpty(t, submit.Candidates)
	assert.Equal(t, target.StrategyTestID, submit.Candidates[0].Strategy)
	assert.Equal(t, 100, submit.Candidates[0].Reliability)
	assert.Equal(t, "https://shop.test/signup", submit.PageURL)

	assert.Equal(t,
		`Navigate to https://shop.test/signup, then Fill in "ada@shop.test" in Email address, then Select "Pro" from plan, then Submit the form`,
		r.Instruction())
}

const contactPage = `<html><body>
<form id="f">
  <label for="name">Name</label><input id="name" name="name">
  <label for="email">Email</label><input id="email" name="email" type="email">
  <button>Send</button>
</form>
<a id="help" href="/help">Help</a>
</body></html>`

func TestSubmitButtonClickRecordsOneSubmit(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRecorder(t, nil)
	for _, ev := range []RawEvent{
		{Type: EventInput, Path: "#name", Value: "Jane", HTML: contactPage},
		{Type: EventInput, Path: "#email", Value: "jane@x.com", HTML: contactPage},
		{Type: EventClick, Path: "form > button", HTML: contactPage},
		{Type: EventSubmit, Path: "#f", HTML: contactPage},
	} {
		_, err := r.HandleEvent(ctx, ev)
		require.NoError(t, err)
	}
	actions := r.Actions()
	require.Len(t, actions, 3)
	assert.Equal(t, trajectory.ActionKindSubmit, actions[2].Kind())
	assert.Equal(t, `Fill in "Jane" in Name, "jane@x.com" in Email, then Submit the form`, r.Instruction())
}

func TestEnterKeySubmitIsRecorded(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRecorder(t, nil)
	for _, ev := range []RawEvent{
		{Type: EventInput, Path: "#name", Value: "Jane", HTML: contactPage},
		{Type: EventSubmit, Path: "#f", HTML: contactPage},
		{Type: EventClick, Path: "#help", HTML: contactPage},
		{Type: EventSubmit, Path: "#f", HTML: contactPage},
	} {
		_, err := r.HandleEvent(ctx, ev)
		require.NoError(t, err)
	}
	kinds := []trajectory.ActionKind{}
	for _, a := range r.Actions() {
		kinds = append(kinds, a.Kind())
	}
	assert.Equal(t, []trajectory.ActionKind{
		trajectory.ActionKindType,
		trajectory.ActionKindSubmit,
		trajectory.ActionKindClick,
		trajectory.ActionKindSubmit,
	}, kinds)
}

func TestIsSubmitControl(t *testing.T) {
	doc, err := target.ParseHTML(`<html><body>
<form><button id="a">Go</button><button id="b" type="button">Menu</button><input id="c" type="submit"><input id="d" type="text"></form>
<button id="e">Outside</button><button id="f" form="other">Linked</button>
</body></html>`)
	require.NoError(t, err)
	for id, want := range map[string]bool{"a": true, "b": false, "c": true, "d": false, "e": false, "f": true} {
		assert.Equal(t, want, isSubmitControl(doc.Find("#"+id)), id)
	}
}

func TestClickDebounce(t *testing.T) {
	ctx := context.Background()
	r, c := newTestRecorder(t, nil)
	c.step = 30 * time.Millisecond

	first, err := r.HandleEvent(ctx, event(EventClick, "form > button", ""))
	require.NoError(t, err)
	require.NotNil(t, first)
	second, err := r.HandleEvent(ctx, event(EventClick, "form > button", ""))
	require.NoError(t, err)
	assert.Nil(t, second)

	c.step = 150 * time.Millisecond
	third, err := r.HandleEvent(ctx, event(EventClick, "form > button", ""))
	require.NoError(t, err)
	assert.NotNil(t, third)
	assert.Len(t, r.Actions(), 2)
}

func TestEventTimestampsFromPage(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRecorder(t, nil)
	ev := event(EventClick, "form > button", "")
	ev.TimeMS = 1700000000000
	_, err := r.HandleEvent(ctx, ev)
	require.NoError(t, err)
	ev.TimeMS += 50
	action, err := r.HandleEvent(ctx, ev)
	require.NoError(t, err)
	assert.Nil(t, action)
	assert.Equal(t, time.UnixMilli(1700000000000), r.Actions()[0].Meta().Timestamp)
}

func TestFieldClicksAndTogglesAreNotTyping(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRecorder(t, nil)

	action, err := r.HandleEvent(ctx, event(EventClick, "#email", ""))
	require.NoError(t, err)
	assert.Nil(t, action)

	action, err = r.HandleEvent(ctx, event(EventClick, "label > input", ""))
	require.NoError(t, err)
	require.NotNil(t, action)
	assert.Equal(t, trajectory.ActionKindClick, action.Kind())

	action, err = r.HandleEvent(ctx, event(EventChange, "label > input", "on"))
	require.NoError(t, err)
	assert.Nil(t, action)
	assert.Len(t, r.Actions(), 1)
}

func TestTypingAgainAfterAnotherActionStartsANewStep(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRecorder(t, nil)
	for _, ev := range []RawEvent{
		event(EventInput, "#email", "ada"),
		event(EventClick, "form > button", ""),
		event(EventInput, "#email", "grace"),
	} {
		_, err := r.HandleEvent(ctx, ev)
		require.NoError(t, err)
	}
	actions := r.Actions()
	require.Len(t, actions, 3)
	assert.Equal(t, "ada", actions[0].Meta().Value)
	assert.Equal(t, "grace", actions[2].Meta().Value)
}

func TestIgnoresEventsWhileStopped(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRecorder(t, nil)
	require.NoError(t, r.Stop(ctx))
	action, err := r.HandleEvent(ctx, event(EventClick, "form > button", ""))
	require.NoError(t, err)
	assert.Nil(t, action)
	assert.Empty(t, r.Actions())
	assert.False(t, r.Recording())
}

func TestUnknownTarget(t *testing.T) {
	r, _ := newTestRecorder(t, nil)
	_, err := r.HandleEvent(context.Background(), event(EventClick, "#nope", ""))
	assert.Equal(t, errcode.TargetNotFound, errcode.CodeOf(err))
}

func TestDuplicateLoadIsRecordedOnce(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRecorder(t, nil)
	for i := 0; i < 2; i++ {
		_, err := r.HandleEvent(ctx, RawEvent{Type: EventLoad, URL: "https://shop.test/"})
		require.NoError(t, err)
	}
	assert.Len(t, r.Actions(), 1)
}

func TestBlankAndInternalLoadsAreIgnored(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRecorder(t, nil)
	for _, u := range []string{"", "about:blank", "chrome-error://chromewebdata/", "data:text/html,hi", "https://shop.test/"} {
		_, err := r.HandleEvent(ctx, RawEvent{Type: EventLoad, URL: u})
		require.NoError(t, err)
	}
	actions := r.Actions()
	require.Len(t, actions, 1)
	assert.Equal(t, "https://shop.test/", actions[0].(*trajectory.NavigateAction).URL)
	assert.Equal(t, "Navigate to https://shop.test/", r.Instruction())
}

func TestSubscribersSeeUpdates(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRecorder(t, nil)
	ch := r.Subscribe()

	_, err := r.HandleEvent(ctx, event(EventInput, "#email", "a"))
	require.NoError(t, err)
	_, err = r.HandleEvent(ctx, event(EventInput, "#email", "ab"))
	require.NoError(t, err)

	first := <-ch
	second := <-ch
	assert.Equal(t, "a", first.Meta().Value)
	assert.Equal(t, "ab", second.Meta().Value)
	assert.Equal(t, first.Meta().ID, second.Meta().ID)

	r.Close()
	_, ok := <-ch
	assert.False(t, ok)
}

func TestResumeFromHostStore(t *testing.T) {
	ctx := context.Background()
	store := openTestHostStore(t)
	r, _ := newTestRecorder(t, store)
	for _, ev := range []RawEvent{
		{Type: EventLoad, URL: "https://shop.test/signup"},
		event(EventInput, "#email", "ada@shop.test"),
	} {
		_, err := r.HandleEvent(ctx, ev)
		require.NoError(t, err)
	}

	resumed, err := Resume(ctx, store, "rec_1", nil, nil)
	require.NoError(t, err)
	assert.True(t, resumed.Recording())
	actions := resumed.Actions()
	require.Len(t, actions, 2)
	assert.Equal(t, "ada@shop.test", actions[1].Meta().Value)
	assert.Equal(t, r.Instruction(), resumed.Instruction())

	require.NoError(t, resumed.Stop(ctx))
	again, err := Resume(ctx, store, "rec_1", nil, nil)
	require.NoError(t, err)
	assert.False(t, again.Recording())
}

package trajectory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinelqa/target"
	"sentinelqa/verify"
)

type kindRecorder struct {
	kinds []ActionKind
}

func (r *kindRecorder) VisitClick(a *ClickAction) error       { return r.add(a) }
func (r *kindRecorder) VisitType(a *TypeAction) error         { return r.add(a) }
func (r *kindRecorder) VisitSelect(a *SelectAction) error     { return r.add(a) }
func (r *kindRecorder) VisitSubmit(a *SubmitAction) error     { return r.add(a) }
func (r *kindRecorder) VisitNavigate(a *NavigateAction) error { return r.add(a) }
func (r *kindRecorder) VisitPress(a *PressAction) error       { return r.add(a) }
func (r *kindRecorder) VisitWait(a *WaitAction) error         { return r.add(a) }
func (r *kindRecorder) VisitVerify(a *VerifyAction) error     { return r.add(a) }
func (r *kindRecorder) VisitComplete(a *CompleteAction) error { return r.add(a) }

func (r *kindRecorder) add(a Action) error {
	r.kinds = append(r.kinds, a.Kind())
	return nil
}

func allActions() []Action {
	email := &target.Descriptor{Tag: "input", Name: "email"}
	typed := NewTypeAction(email, "Email", "jane@x.com")
	typed.Candidates = []*target.Candidate{{Selector: `input[name="email"]`, Strategy: target.StrategyName, Reliability: 85, Unique: true}}
	typed.PageURL = "https://shop.test/signup"
	return []Action{
		NewNavigateAction("https://shop.test/signup"),
		NewClickAction(&target.Descriptor{Text: "Sign up"}, "Sign up"),
		typed,
		NewSelectAction(&target.Descriptor{Name: "country"}, "Country", "France"),
		NewPressAction("Enter"),
		NewWaitAction(2 * time.Second),
		NewSubmitAction(nil),
		NewVerifyAction(verify.Assertion{Kind: verify.KindURLContains, Expected: "/welcome"}),
		NewCompleteAction("account created"),
	}
}

func TestAcceptDispatchesEveryKind(t *testing.T) {
	r := &kindRecorder{}
	for _, a := range allActions() {
		require.NoError(t, a.Accept(r))
	}
	assert.Equal(t, []ActionKind{
		ActionKindNavigate, ActionKindClick, ActionKindType, ActionKindSelect, ActionKindPress,
		ActionKindWait, ActionKindSubmit, ActionKindVerify, ActionKindComplete,
	}, r.kinds)
}

func TestTrajectoryJSONPreservesActions(t *testing.T) {
	traj := &Trajectory{}
	traj.AddItem(NewUserMessage("sign up as jane"))
	traj.AddItem(NewObservation("https://shop.test/signup", "Sign up", "[button] Sign up", []byte{1, 2}))
	for _, a := range allActions() {
		traj.AddItem(a)
	}
	traj.AddItem(NewVerificationItem([]verify.Result{{Passed: true, Confidence: target.ConfidenceHigh}}))
	traj.AddItem(NewErrorStepFailed(3, "https://shop.test/signup", "TARGET_NOT_FOUND", "no candidate"))

	data, err := MarshalTrajectory(traj)
	require.NoError(t, err)
	decoded, err := UnmarshalTrajectory(data)
	require.NoError(t, err)
	require.Equal(t, traj.Len(), decoded.Len())

	for i := range traj.Items {
		assert.IsType(t, traj.Items[i], decoded.Items[i])
		assert.Equal(t, traj.Items[i].GetText(), decoded.Items[i].GetText())
	}

	typed := decoded.Actions()[2].(*TypeAction)
	assert.Equal(t, "jane@x.com", typed.Value)
	assert.Equal(t, "Email", typed.Description)
	require.Len(t, typed.Candidates, 1)
	assert.Equal(t, target.StrategyName, typed.Candidates[0].Strategy)

	// screenshots are not persisted
	assert.Nil(t, decoded.Items[1].(*Observation).Screenshot)
}

func TestUnmarshalActionRejectsOtherItems(t *testing.T) {
	data, err := MarshalTrajectoryItem(NewUserMessage("hi"))
	require.NoError(t, err)
	_, err = UnmarshalAction(data)
	assert.Error(t, err)

	_, err = UnmarshalTrajectoryItem([]byte(`{"type":"teleport","data":{}}`))
	assert.Error(t, err)
}

func TestHandoff(t *testing.T) {
	assert.True(t, NewCompleteAction("done").ShouldHandoff())
	assert.False(t, NewClickAction(nil, "x").ShouldHandoff())
	assert.True(t, NewErrorMaxNumStepsReached(10).ShouldHandoff())
	assert.False(t, NewInternalFeedback("retry").ShouldHandoff())
}

func TestActionText(t *testing.T) {
	assert.Equal(t, `action: navigate(url="https://a.test")`, NewNavigateAction("https://a.test").GetText())
	assert.Equal(t, "action: submit()", NewSubmitAction(nil).GetText())
	assert.Equal(t, `action: type(target="name=\"q\"", value="shoes")`, NewTypeAction(&target.Descriptor{Name: "q"}, "", "shoes").GetText())
}

func TestParseActionKind(t *testing.T) {
	kind, ok := ParseActionKind(" Fill ")
	require.True(t, ok)
	assert.Equal(t, ActionKindType, kind)
	_, ok = ParseActionKind("hover")
	assert.False(t, ok)
}

package llmactor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinelqa/errcode"
	"sentinelqa/llm"
	"sentinelqa/target"
	"sentinelqa/trajectory"
	"sentinelqa/verify"
)

type fakeChatModel struct {
	replies  []string
	err      error
	received [][]*llm.Message
	options  []*llm.MessageOptions
}

func (m *fakeChatModel) Message(ctx context.Context, messages []*llm.Message, options *llm.MessageOptions) (*llm.Message, error) {
	m.received = append(m.received, messages)
	m.options = append(m.options, options)
	if m.err != nil {
		return nil, m.err
	}
	reply := m.replies[0]
	m.replies = m.replies[1:]
	return &llm.Message{Role: llm.MessageRoleAssistant, Content: reply}, nil
}

func (m *fakeChatModel) ContextLength() int {
	return 128000
}

func TestNextActionSendsScreenshotAndHistory(t *testing.T) {
	model := &fakeChatModel{replies: []string{"```json\n{\"action\": \"click\", \"selector\": \"text=Sign up\", \"reasoning\": \"open the form\"}\n```"}}
	a := New(model, nil)
	obs := trajectory.NewObservation("https://shop.test/", "Shop", `<button id="signup">Sign up</button>`, []byte{0x89, 'P', 'N', 'G'})
	history := []trajectory.Action{trajectory.NewNavigateAction("https://shop.test/")}

	action, err := a.NextAction(context.Background(), obs, "Sign up for the newsletter", history)
	require.NoError(t, err)

	click, ok := action.(*trajectory.ClickAction)
	require.True(t, ok)
	assert.Equal(t, "Sign up", click.Target.Text)
	assert.Equal(t, "open the form", click.Reasoning)
	assert.Equal(t, "https://shop.test/", click.PageURL)

	require.Len(t, model.received, 1)
	messages := model.received[0]
	require.Len(t, messages, 2)
	assert.Equal(t, llm.MessageRoleSystem, messages[0].Role)
	assert.Contains(t, messages[1].Content, `Instruction: "Sign up for the newsletter"`)
	assert.Contains(t, messages[1].Content, `1. action: navigate(url="https://shop.test/")`)
	assert.Contains(t, messages[1].Content, `<button id="signup">Sign up</button>`)
	require.Len(t, messages[1].Images, 1)
	assert.True(t, strings.HasPrefix(messages[1].Images[0], "data:image/png;base64,"))
	assert.Equal(t, llm.ResponseFormatJSON, model.options[0].ResponseFormat)
	assert.Equal(t, DefaultMaxTokens, model.options[0].MaxTokens)
}

func TestNextActionHistoryIsBounded(t *testing.T) {
	model := &fakeChatModel{replies: []string{`{"action": "complete"}`}}
	a := New(model, &Options{HistoryLength: 2})
	var history []trajectory.Action
	for i := 0; i < 5; i++ {
		history = append(history, trajectory.NewPressAction("Tab"))
	}
	_, err := a.NextAction(context.Background(), trajectory.NewObservation("https://a.test/", "", "", nil), "", history)
	require.NoError(t, err)
	content := model.received[0][1].Content
	assert.NotContains(t, content, "3. action")
	assert.Contains(t, content, "4. action")
	assert.Contains(t, content, "5. action")
	assert.Empty(t, model.received[0][1].Images)
}

func TestNextActionParseErrorIsTyped(t *testing.T) {
	model := &fakeChatModel{replies: []string{"I think you should click the button."}}
	_, err := New(model, nil).NextAction(context.Background(), trajectory.NewObservation("https://a.test/", "", "", nil), "", nil)
	require.Error(t, err)
	assert.Equal(t, errcode.DecisionParseError, errcode.CodeOf(err))
}

func TestNextActionModelError(t *testing.T) {
	model := &fakeChatModel{err: errors.New("503")}
	_, err := New(model, nil).NextAction(context.Background(), trajectory.NewObservation("https://a.test/", "", "", nil), "", nil)
	require.Error(t, err)
	assert.NotEqual(t, errcode.DecisionParseError, errcode.CodeOf(err))
}

func TestParseDecision(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		check func(t *testing.T, a trajectory.Action)
	}{
		{"type with structured target", `{"action": "type", "target": {"name": "email"}, "value": "jane@example.com"}`, func(t *testing.T, a trajectory.Action) {
			require.Equal(t, trajectory.ActionKindType, a.Kind())
			assert.Equal(t, "email", a.Meta().Target.Name)
			assert.Equal(t, "jane@example.com", a.Meta().Value)
		}},
		{"numeric value", `{"action": "type", "selector": "#qty", "value": 3}`, func(t *testing.T, a trajectory.Action) {
			assert.Equal(t, "#qty", a.Meta().Target.Selector)
			assert.Equal(t, "3", a.Meta().Value)
		}},
		{"contains selector", `{"action": "click", "selector": "button:contains(\"Buy now\")"}`, func(t *testing.T, a trajectory.Action) {
			assert.Equal(t, "button", a.Meta().Target.Tag)
			assert.Equal(t, "Buy now", a.Meta().Target.Text)
			assert.Empty(t, a.Meta().Target.Selector)
		}},
		{"press", `{"action": "press", "value": "Enter"}`, func(t *testing.T, a trajectory.Action) {
			assert.Equal(t, "Enter", a.(*trajectory.PressAction).Key)
		}},
		{"navigate", `{"action": "goto", "value": "https://shop.test/cart"}`, func(t *testing.T, a trajectory.Action) {
			assert.Equal(t, "https://shop.test/cart", a.(*trajectory.NavigateAction).URL)
		}},
		{"wait", `{"action": "wait", "value": "250ms"}`, func(t *testing.T, a trajectory.Action) {
			assert.Equal(t, 250*time.Millisecond, a.(*trajectory.WaitAction).Duration)
		}},
		{"submit without target", `{"action": "submit"}`, func(t *testing.T, a trajectory.Action) {
			assert.Nil(t, a.Meta().Target)
		}},
		{"verify text", `{"action": "verify", "selector": "#banner", "verify_type": "text_contains", "expected": "Thanks", "assertion": "banner thanks the user"}`, func(t *testing.T, a trajectory.Action) {
			v := a.(*trajectory.VerifyAction)
			assert.Equal(t, verify.KindTextContains, v.Assertion.Kind)
			assert.Equal(t, "#banner", v.Assertion.Target.Selector)
			assert.Equal(t, "Thanks", v.Assertion.Expected)
			assert.Equal(t, "banner thanks the user", v.Assertion.Description)
		}},
		{"verify url drops target", `{"action": "verify", "selector": "body", "verify_type": "url_contains", "expected": "/welcome"}`, func(t *testing.T, a trajectory.Action) {
			v := a.(*trajectory.VerifyAction)
			assert.Nil(t, v.Assertion.Target)
		}},
		{"complete", `{"action": "complete", "reasoning": "confirmation shown"}`, func(t *testing.T, a trajectory.Action) {
			assert.Equal(t, "confirmation shown", a.(*trajectory.CompleteAction).Reason)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := ParseDecision(tt.reply)
			require.NoError(t, err)
			tt.check(t, a)
		})
	}
}

func TestParseDecisionRejects(t *testing.T) {
	for _, reply := range []string{
		``,
		`{"action": "dance"}`,
		`{"action": "click"}`,
		`{"action": "select", "selector": "#size"}`,
		`{"action": "press"}`,
		`{"action": "navigate"}`,
		`{"action": "verify", "verify_type": "visible"}`,
		`{"action": "verify", "selector": "#a", "verify_type": "text_equals"}`,
		`{"action": "verify", "selector": "#a", "verify_type": "glows"}`,
		`{"action": "type", "selector": "#a", "value": {"nested": true}}`,
	} {
		_, err := ParseDecision(reply)
		assert.Equal(t, errcode.DecisionParseError, errcode.CodeOf(err), reply)
	}
}

func TestDescriptorPrefersStructuredText(t *testing.T) {
	d := &decision{Target: &target.Descriptor{Text: "Log in"}, Selector: "text=Sign in"}
	assert.Equal(t, "Log in", d.descriptor().Text)
	assert.Nil(t, (&decision{}).descriptor())
}

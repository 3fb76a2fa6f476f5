package llmactor

import (
	"context"
	_ "embed"
	"encoding/base64"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"sentinelqa/errcode"
	"sentinelqa/llm"
	"sentinelqa/trajectory"
)

//go:embed system_prompt_to_act_on_browser.txt
var systemPromptToActOnBrowser string

const (
	DefaultMaxDigestTokens = 1500
	DefaultHistoryLength   = 20
	DefaultMaxTokens       = 500
	DefaultTemperature     = 0.1
)

const maxTokenContextWindowMarginProportion float32 = 0.1

type Options struct {
	MaxDigestTokens int
	HistoryLength   int
	Temperature     float32
	MaxTokens       int
	Logger          *zap.Logger
}

type LLMActor struct {
	ChatModel    llm.ChatModel
	SystemPrompt string

	maxDigestTokens int
	historyLength   int
	temperature     float32
	maxTokens       int
	log             *zap.Logger
}

func New(chatModel llm.ChatModel, options *Options) *LLMActor {
	a := &LLMActor{
		ChatModel:       chatModel,
		SystemPrompt:    systemPromptToActOnBrowser,
		maxDigestTokens: DefaultMaxDigestTokens,
		historyLength:   DefaultHistoryLength,
		temperature:     DefaultTemperature,
		maxTokens:       DefaultMaxTokens,
		log:             zap.NewNop(),
	}
	if options != nil {
		if options.MaxDigestTokens > 0 {
			a.maxDigestTokens = options.MaxDigestTokens
		}
		if options.HistoryLength > 0 {
			a.historyLength = options.HistoryLength
		}
		if options.Temperature > 0 {
			a.temperature = options.Temperature
		}
		if options.MaxTokens > 0 {
			a.maxTokens = options.MaxTokens
		}
		if options.Logger != nil {
			a.log = options.Logger
		}
	}
	a.log = a.log.Named("llmactor")
	return a
}

func (a *LLMActor) NextAction(ctx context.Context, obs *trajectory.Observation, instruction string, history []trajectory.Action) (trajectory.Action, error) {
	if obs == nil {
		return nil, fmt.Errorf("no observation to act on")
	}
	messages := a.buildMessages(obs, instruction, history)
	approxNumTokens := llm.ApproxNumTokensInMessages(messages)
	if approxNumTokens > int(float32(a.ChatModel.ContextLength())*(1-maxTokenContextWindowMarginProportion)) {
		return nil, fmt.Errorf("prompt of ~%d tokens exceeds the context window of %d", approxNumTokens, a.ChatModel.ContextLength())
	}
	res, err := a.ChatModel.Message(ctx, messages, &llm.MessageOptions{
		Temperature:    a.temperature,
		MaxTokens:      a.maxTokens,
		ResponseFormat: llm.ResponseFormatJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate message: %w", err)
	}
	action, err := ParseDecision(res.Content)
	if err != nil {
		a.log.Debug("unparseable decision", zap.String("content", res.Content), zap.Error(err))
		return nil, err
	}
	action.Meta().PageURL = obs.URL
	a.log.Debug("decided", zap.String("action", action.GetText()), zap.String("reasoning", action.Meta().Reasoning))
	return action, nil
}

func (a *LLMActor) buildMessages(obs *trajectory.Observation, instruction string, history []trajectory.Action) []*llm.Message {
	user := &llm.Message{
		Role:    llm.MessageRoleUser,
		Content: a.renderState(obs, instruction, history),
	}
	if len(obs.Screenshot) > 0 {
		user.Images = []string{"data:image/png;base64," + base64.StdEncoding.EncodeToString(obs.Screenshot)}
	}
	return []*llm.Message{
		{
			Role:    llm.MessageRoleSystem,
			Content: a.SystemPrompt,
		},
		user,
	}
}

func (a *LLMActor) renderState(obs *trajectory.Observation, instruction string, history []trajectory.Action) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Instruction: %q\n", instruction)
	fmt.Fprintf(&b, "Current URL: %s\n", obs.URL)
	if obs.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", obs.Title)
	}
	if len(history) > 0 {
		b.WriteString("\n----- START HISTORY (do not repeat) -----\n")
		start := 0
		if len(history) > a.historyLength {
			start = len(history) - a.historyLength
		}
		for i, action := range history[start:] {
			fmt.Fprintf(&b, "%d. %s\n", start+i+1, action.GetText())
		}
		b.WriteString("----- END HISTORY -----\n")
	}
	fmt.Fprintf(&b, `
----- START PAGE -----
%s
----- END PAGE -----

Reply with the next action as JSON.`, llm.TruncateToTokens(obs.Text, a.maxDigestTokens))
	return b.String()
}

// decisionError marks model output that could not be turned into an action.
func decisionError(err error, content string) error {
	return errcode.Wrap(err, errcode.DecisionParseError, "unusable decision").
		WithContext("content", truncateContent(content)).
		WithRetryable(true)
}

func truncateContent(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

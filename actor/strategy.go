package actor

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"sentinelqa/actor/llmactor"
	"sentinelqa/actor/replayactor"
	"sentinelqa/llm"
	"sentinelqa/trajectory"
)

type ActorStrategyID string

const (
	ActorStrategyIDLLM    ActorStrategyID = "llm"
	ActorStrategyIDReplay ActorStrategyID = "replay"
)

const DefaultActorStrategyID = ActorStrategyIDLLM

type Options struct {
	// for llm
	Models          *llm.Models
	ChatModelID     llm.ChatModelID
	MaxDigestTokens int
	HistoryLength   int

	// for replay
	Recording []trajectory.Action

	Logger *zap.Logger
}

func ByID(strategyID ActorStrategyID, options *Options) (Actor, error) {
	if options == nil {
		options = &Options{}
	}
	switch strategyID {
	case ActorStrategyIDLLM:
		if options.Models == nil {
			return nil, errors.New("llm actor needs chat models")
		}
		model := options.Models.DefaultChatModel
		if options.ChatModelID != "" {
			if m, ok := options.Models.ChatModels[options.ChatModelID]; ok {
				model = m
			} else {
				return nil, fmt.Errorf("unknown chat model: %s", options.ChatModelID)
			}
		}
		return llmactor.New(model, &llmactor.Options{
			MaxDigestTokens: options.MaxDigestTokens,
			HistoryLength:   options.HistoryLength,
			Logger:          options.Logger,
		}), nil
	case ActorStrategyIDReplay:
		return replayactor.New(options.Recording), nil
	}
	return nil, fmt.Errorf("invalid actor strategy ID: %s", strategyID)
}

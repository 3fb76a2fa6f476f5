package llm

import (
	"context"
)

type ChatModelID string

const (
	ChatModelGPT4o     ChatModelID = "gpt-4o"
	ChatModelGPT4oMini ChatModelID = "gpt-4o-mini"
	ChatModelGPT4Turbo ChatModelID = "gpt-4-turbo"
)

const DefaultChatModelID = ChatModelGPT4o

var contextLengths = map[ChatModelID]int{
	ChatModelGPT4o:     128000,
	ChatModelGPT4oMini: 128000,
	ChatModelGPT4Turbo: 128000,
}

const defaultContextLength = 8192

func ContextLengthOf(id ChatModelID) int {
	if n, ok := contextLengths[id]; ok {
		return n
	}
	return defaultContextLength
}

func KnownChatModel(id ChatModelID) bool {
	_, ok := contextLengths[id]
	return ok
}

type Models struct {
	DefaultChatModel ChatModel
	ChatModels       map[ChatModelID]ChatModel
}

func AllModels(apiKey string, options *OpenAIOptions) Models {
	chatModels := map[ChatModelID]ChatModel{}
	for id := range contextLengths {
		chatModels[id] = NewOpenAIChatModel(id, apiKey, options)
	}
	return Models{
		DefaultChatModel: chatModels[DefaultChatModelID],
		ChatModels:       chatModels,
	}
}

type FunctionCall struct {
	Name      string
	Arguments string
}

type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
	Name    string      `json:"name"`

	// Images are attached as image_url content parts: data URLs or links.
	Images       []string      `json:"images,omitempty"`
	FunctionCall *FunctionCall `json:"function_call"`
}

type MessageRole string

const (
	MessageRoleSystem    MessageRole = "system"
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleFunction  MessageRole = "function"
)

type ResponseFormat string

const (
	ResponseFormatText ResponseFormat = "text"
	ResponseFormatJSON ResponseFormat = "json_object"
)

type MessageOptions struct {
	Temperature    float32        `json:"temperature"`
	MaxTokens      int            `json:"max_tokens"`
	StopSequences  []string       `json:"stop_sequences"`
	ResponseFormat ResponseFormat `json:"response_format"`
}

type ChatModel interface {
	Message(ctx context.Context, messages []*Message, options *MessageOptions) (*Message, error)
	ContextLength() int
}

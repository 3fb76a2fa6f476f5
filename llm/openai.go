package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const OPENAI_API_URL = "https://api.openai.com/v1"

const (
	DefaultRequestsPerMinute = 60
	DefaultRequestTimeout    = 60 * time.Second
)

type OpenAIOptions struct {
	BaseURL           string
	RequestsPerMinute int
	HTTPClient        *http.Client
}

type OpenAIModel struct {
	modelID ChatModelID
	apiKey  string
	baseURL string
	limiter *rate.Limiter
	client  *http.Client
}

func NewOpenAIChatModel(modelID ChatModelID, apiKey string, options *OpenAIOptions) ChatModel {
	baseURL := OPENAI_API_URL
	rpm := DefaultRequestsPerMinute
	client := &http.Client{Timeout: DefaultRequestTimeout}
	if options != nil {
		if options.BaseURL != "" {
			baseURL = options.BaseURL
		}
		if options.RequestsPerMinute > 0 {
			rpm = options.RequestsPerMinute
		}
		if options.HTTPClient != nil {
			client = options.HTTPClient
		}
	}
	return &OpenAIModel{
		modelID: modelID,
		apiKey:  apiKey,
		baseURL: baseURL,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1),
		client:  client,
	}
}

func (m *OpenAIModel) ContextLength() int {
	return ContextLengthOf(m.modelID)
}

func (m *OpenAIModel) Message(ctx context.Context, messages []*Message, options *MessageOptions) (*Message, error) {
	if options == nil {
		options = &MessageOptions{}
	}
	args := m.buildArgs(messages, options)
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	} else if response, err := m.apiRequest(ctx, "/chat/completions", args); err != nil {
		return nil, err
	} else {
		return parseResponse(response)
	}
}

func (m *OpenAIModel) buildArgs(messages []*Message, options *MessageOptions) map[string]any {
	jsonMessages := []map[string]any{}
	for _, message := range messages {
		jsonMessage := map[string]any{
			"role": string(message.Role),
		}
		if len(message.Images) == 0 {
			jsonMessage["content"] = message.Content
		} else {
			parts := []map[string]any{{"type": "text", "text": message.Content}}
			for _, image := range message.Images {
				parts = append(parts, map[string]any{
					"type":      "image_url",
					"image_url": map[string]string{"url": image},
				})
			}
			jsonMessage["content"] = parts
		}
		if message.Name != "" {
			jsonMessage["name"] = message.Name
		}
		jsonMessages = append(jsonMessages, jsonMessage)
	}
	args := map[string]any{
		"model":       m.modelID,
		"messages":    jsonMessages,
		"temperature": options.Temperature,
	}
	if options.MaxTokens > 0 {
		args["max_tokens"] = options.MaxTokens
	}
	if len(options.StopSequences) > 0 {
		args["stop"] = options.StopSequences
	}
	if options.ResponseFormat != "" {
		args["response_format"] = map[string]string{"type": string(options.ResponseFormat)}
	}
	return args
}

type Error struct {
	Code       string
	Message    string
	StatusCode int
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Code)
	}
	return e.Message
}

func parseResponse(response map[string]any) (*Message, error) {
	if choices, ok := response["choices"].([]any); !ok {
		return nil, &Error{Message: "invalid response, no choices"}
	} else if len(choices) != 1 {
		return nil, &Error{Message: "invalid response, expected 1 choice"}
	} else if choice, ok := choices[0].(map[string]any); !ok {
		return nil, &Error{Message: "invalid response, choice is not a map"}
	} else if message, ok := choice["message"].(map[string]any); !ok {
		return nil, &Error{Message: "invalid response, message is not a map"}
	} else if content, ok := message["content"].(string); ok {
		role, _ := message["role"].(string)
		return &Message{
			Role:    MessageRole(role),
			Content: content,
		}, nil
	}
	return nil, &Error{Message: "invalid response, no content"}
}

func (m *OpenAIModel) apiRequest(ctx context.Context, endpoint string, args map[string]any) (map[string]any, error) {
	if encoded, err := json.Marshal(args); err != nil {
		return nil, err
	} else if request, err := http.NewRequestWithContext(ctx, "POST", m.baseURL+endpoint, bytes.NewBuffer(encoded)); err != nil {
		return nil, err
	} else {
		request.Header.Set("Content-Type", "application/json; charset=utf-8")
		request.Header.Set("Authorization", "Bearer "+m.apiKey)
		response, err := m.client.Do(request)
		if err != nil {
			return nil, err
		}
		defer response.Body.Close()
		if responseBody, err := io.ReadAll(response.Body); err != nil {
			return nil, err
		} else {
			result := map[string]any{}
			if err := json.Unmarshal(responseBody, &result); err != nil {
				return nil, fmt.Errorf("error decoding response (status %d): %w", response.StatusCode, err)
			}
			if err, ok := result["error"].(map[string]any); ok {
				response := Error{Message: "OpenAI error", StatusCode: response.StatusCode}
				if value, ok := err["code"].(string); ok {
					response.Code = value
				}
				if value, ok := err["message"].(string); ok {
					response.Message = value
				}
				return nil, &response
			}
			return result, nil
		}
	}
}

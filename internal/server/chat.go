package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
)

// chatMessage is one entry of the OpenAI-shaped messages array.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      *bool         `json:"stream,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// chatUsage is an OpenAI-shaped token tally. Per spec.md §9's open
// question, these are word-count approximations of input and response, not
// a real tokenizer count; Advisory flags that explicitly for callers that
// might otherwise treat the numbers as billing-grade.
type chatUsage struct {
	PromptTokens     int  `json:"prompt_tokens"`
	CompletionTokens int  `json:"completion_tokens"`
	TotalTokens      int  `json:"total_tokens"`
	Advisory         bool `json:"advisory"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
	Intent  string       `json:"intent"`
}

// chatIntentRule is one entry of the ordered, case-insensitive
// substring-match table from spec.md §4.3. The first matching rule wins.
type chatIntentRule struct {
	intent     string
	substrings []string
	respond    func() string
}

var chatIntentRules = []chatIntentRule{
	{
		intent:     "compose",
		substrings: []string{"compose", "scaffold", "create system"},
		respond: func() string {
			return "Submit a manifest to POST /compose to scaffold a system. Sample manifest:\n" +
				`{"manifest_version":"1.0","system_name":"demo-x","org":"acme","components":{"backend":{"template":"fastapi"},"ai_agents":[{"template":"research"}]}}`
		},
	},
	{
		intent:     "list_templates",
		substrings: []string{"list templates", "show templates"},
		respond: func() string {
			return "The catalog exposes backend, frontend, ai_agent, business, infrastructure, governance, connector, and industry templates. " +
				"Call POST /discover with {\"operation\":\"list_categories\"} or {\"operation\":\"list_templates\",\"params\":{\"category\":\"backend\"}} to enumerate them."
		},
	},
	{
		intent:     "health",
		substrings: []string{"status", "health"},
		respond: func() string {
			return "This mirrors GET /health: the control plane is stateless and reports ok as long as it is running; compose job health lives in the job ledger, not here."
		},
	},
}

// chatGeneralResponse is returned when no intent rule matches.
const chatGeneralResponse = "I can scaffold systems from a manifest, list catalog templates, or report service health. " +
	"Ask to \"compose\" a system, \"list templates\", or check \"status\"."

func registerChat(api huma.API, s *Server) {
	huma.Register(api, huma.Operation{
		OperationID: "chat",
		Method:      http.MethodPost,
		Path:        "/chat",
		Summary:     "Deterministic, intent-routed chat completion",
		Errors:      []int{http.StatusUnauthorized, http.StatusBadRequest, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body chatRequest `json:"body"`
	}) (*struct {
		Body chatResponse `json:"body"`
	}, error) {
		resp, err := s.chat(ctx, &input.Body)
		if err != nil {
			return nil, err
		}
		return &struct {
			Body chatResponse `json:"body"`
		}{Body: *resp}, nil
	})
}

func (s *Server) chat(_ context.Context, req *chatRequest) (*chatResponse, huma.StatusError) {
	if len(req.Messages) == 0 {
		return nil, newAPIError(http.StatusUnprocessableEntity, "validation_failed", "messages must contain at least one entry", "messages", "revalidate_manifest", nil)
	}

	lastUser := lastUserMessage(req.Messages)
	intent, content := classifyIntent(lastUser)

	promptTokens := approximateTokens(concatContent(req.Messages))
	completionTokens := approximateTokens(content)

	return &chatResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().UTC().Unix(),
		Model:   req.Model,
		Intent:  intent,
		Choices: []chatChoice{{
			Index:        0,
			FinishReason: "stop",
			Message:      chatMessage{Role: "assistant", Content: content},
		}},
		Usage: chatUsage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
			Advisory:         true,
		},
	}, nil
}

func lastUserMessage(messages []chatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return messages[len(messages)-1].Content
}

// classifyIntent runs the ordered substring rules from spec.md §4.3 over a
// lower-cased copy of the message and returns the first match's intent and
// canned response body. No match falls through to "general".
func classifyIntent(message string) (intent, content string) {
	lower := strings.ToLower(message)
	for _, rule := range chatIntentRules {
		for _, needle := range rule.substrings {
			if strings.Contains(lower, needle) {
				return rule.intent, rule.respond()
			}
		}
	}
	return "general", chatGeneralResponse
}

func concatContent(messages []chatMessage) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(m.Content)
		b.WriteString(" ")
	}
	return b.String()
}

// approximateTokens is a word-count stand-in for a real tokenizer, per
// spec.md §4.3's "advisory" token usage semantics.
func approximateTokens(s string) int {
	return len(strings.Fields(s))
}

// Package turn implements the cadence-driven turn-taking engine: the
// periodic check that decides when the agent should speak, the two LLM
// services backing that check, and the controller that drives a session
// from Listening through Deciding and Speaking and back.
package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IcedCoffeeDrinker/Lucy/pkg/provider/llm"
)

// ErrMalformedResult is returned when a model reply carries no parseable
// JSON object of the expected shape. Callers treat it as "no action".
var ErrMalformedResult = errors.New("turn: malformed service result")

// DefaultServiceTimeout bounds a single decision or response call.
const DefaultServiceTimeout = 3 * time.Second

// decisionResult is the wire shape of the decision service's reply.
type decisionResult struct {
	Speak *bool `json:"speak"`
}

// responseResult is the wire shape of the response service's reply.
type responseResult struct {
	Text string `json:"text"`
}

// extractJSONObject pulls the first-to-last-brace span out of free text.
// Models wrap their JSON in prose or markdown fences often enough that a
// strict unmarshal of the whole reply would reject valid answers.
func extractJSONObject(content string) (string, error) {
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start < 0 || end <= start {
		return "", fmt.Errorf("%w: no JSON object in %q", ErrMalformedResult, content)
	}
	return content[start : end+1], nil
}

// DecisionService asks a small, fast model whether the agent should speak
// now or keep listening. Safe for concurrent use.
type DecisionService struct {
	provider llm.Provider
	timeout  time.Duration
}

// NewDecisionService wraps provider with the given per-call timeout
// (DefaultServiceTimeout when zero or less).
func NewDecisionService(provider llm.Provider, timeout time.Duration) *DecisionService {
	if timeout <= 0 {
		timeout = DefaultServiceTimeout
	}
	return &DecisionService{provider: provider, timeout: timeout}
}

// ShouldSpeak submits the caller's recent words and returns the model's
// verdict. A timeout, transport failure, or malformed reply returns an error
// and the caller takes no action.
func (d *DecisionService) ShouldSpeak(ctx context.Context, snippet string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	prompt := "You are an AI assistant deciding *only* whether to speak right now " +
		"or wait for the user to continue. Consider the last words spoken by the " +
		"caller. Respond ONLY with JSON: {\"speak\": true} or {\"speak\": false}. " +
		"Do not add any other text or explanation.\n" +
		fmt.Sprintf("Caller words: %q", snippet)

	resp, err := d.provider.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return false, fmt.Errorf("turn: decision call: %w", err)
	}

	raw, err := extractJSONObject(resp.Content)
	if err != nil {
		return false, err
	}
	var result decisionResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedResult, err)
	}
	if result.Speak == nil {
		return false, fmt.Errorf("%w: missing speak field", ErrMalformedResult)
	}
	return *result.Speak, nil
}

// ResponseService asks the conversational model what the agent should say.
// Safe for concurrent use.
type ResponseService struct {
	provider llm.Provider
	timeout  time.Duration
	persona  string
}

// NewResponseService wraps provider with the given per-call timeout
// (DefaultServiceTimeout when zero or less). persona overrides the default
// agent persona line in the prompt when non-empty.
func NewResponseService(provider llm.Provider, timeout time.Duration, persona string) *ResponseService {
	if timeout <= 0 {
		timeout = DefaultServiceTimeout
	}
	if persona == "" {
		persona = "You are Lucy, an emotional AI assistant."
	}
	return &ResponseService{provider: provider, timeout: timeout, persona: persona}
}

// Compose submits the caller's recent words and returns the reply text.
// A timeout, transport failure, malformed reply, or empty text returns an
// error and the caller takes no action.
func (r *ResponseService) Compose(ctx context.Context, snippet string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	prompt := r.persona + " Briefly respond to the user's last statement. " +
		"Be concise and natural. Respond ONLY with JSON containing the response " +
		"text: {\"text\": \"Your response here.\"}. " +
		"Do not add any other text or explanation.\n" +
		fmt.Sprintf("User said: %q", snippet)

	resp, err := r.provider.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("turn: response call: %w", err)
	}

	raw, err := extractJSONObject(resp.Content)
	if err != nil {
		return "", err
	}
	var result responseResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResult, err)
	}
	text := strings.TrimSpace(result.Text)
	if text == "" {
		return "", fmt.Errorf("%w: empty response text", ErrMalformedResult)
	}
	return text, nil
}

// Package ai wraps the LLM behind the small classifier/generator surface the
// engine needs. Callers treat it as a pure function with latency and
// occasionally malformed output; all parsing here is defensive.
package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"golang.org/x/time/rate"
)

// Role mirrors the chat roles the classifier understands.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of the conversation handed to the classifier.
type Message struct {
	Role    Role
	Content string
}

// Classifier runs short classification and generation prompts against an
// LLM with an explicit per-call timeout and a request rate limit. The
// timeout is deliberately separate from the surrounding job's retry budget
// so a slow model degrades into a retriable failure instead of hanging the
// job.
type Classifier struct {
	llm     llms.Model
	timeout time.Duration
	limiter *rate.Limiter
}

// NewClassifier wraps the given model.
func NewClassifier(llm llms.Model, timeout time.Duration, requestsPerMinute int) *Classifier {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	return &Classifier{
		llm:     llm,
		timeout: timeout,
		limiter: rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), requestsPerMinute),
	}
}

// Classify sends the message history plus a rubric prompt and returns the
// model's raw text response.
func (c *Classifier) Classify(ctx context.Context, messages []Message, rubric string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("classifier rate limit: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	content := make([]llms.MessageContent, 0, len(messages)+1)
	content = append(content, llms.TextParts(llms.ChatMessageTypeSystem, rubric))
	for _, msg := range messages {
		role := llms.ChatMessageTypeHuman
		if msg.Role == RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		content = append(content, llms.TextParts(role, msg.Content))
	}

	resp, err := c.llm.GenerateContent(ctx, content, llms.WithTemperature(0.1), llms.WithMaxTokens(100))
	if err != nil {
		return "", fmt.Errorf("classifier call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("classifier returned no choices")
	}
	return resp.Choices[0].Content, nil
}

// Generate produces free-form text from a single prompt, used for
// metadata-based auto replies.
func (c *Classifier) Generate(ctx context.Context, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("classifier rate limit: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	text, err := llms.GenerateFromSinglePrompt(ctx, c.llm, prompt, llms.WithTemperature(0.2))
	if err != nil {
		return "", fmt.Errorf("generation call failed: %w", err)
	}
	return text, nil
}

// ParseResolution interprets a "ok: reason" / "bad: reason" verdict. Any
// output that does not clearly say ok counts as not resolved: on garbage we
// take the conservative branch rather than auto-resolving a conversation.
func ParseResolution(text string) (resolved bool, reason string) {
	verdict, reason, _ := strings.Cut(strings.TrimSpace(strings.ToLower(text)), ":")
	return strings.TrimSpace(verdict) == "ok", strings.TrimSpace(reason)
}

// ParseYesNo interprets a yes/no verdict; anything other than a clear yes is
// treated as no.
func ParseYesNo(text string) bool {
	cleaned := strings.TrimSpace(strings.ToLower(text))
	cleaned = strings.Trim(cleaned, ".!\"'")
	return cleaned == "yes" || strings.HasPrefix(cleaned, "yes,") || strings.HasPrefix(cleaned, "yes ")
}

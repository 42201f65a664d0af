// Package ai forwards QA prompts to an OpenAI-compatible chat completion API.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"devqa/api/internal/store"
)

const (
	DefaultModel = "gpt-4o"

	suggestSystemPrompt = "You are a QA expert. Analyze test cases and suggest improvements, edge cases, and additional test scenarios."
	analyzeSystemPrompt = "You are a QA expert. Analyze test execution results, identify patterns, and provide insights."
)

var (
	ErrNotConfigured = errors.New("llm api key is not configured")
	ErrEmptyResponse = errors.New("llm returned no choices")
)

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

type Bridge struct {
	client *openai.Client
	model  string
}

// NewBridge returns a bridge that fails every call with ErrNotConfigured when
// no API key is set.
func NewBridge(cfg Config) *Bridge {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return &Bridge{model: model}
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientCfg.BaseURL = strings.TrimRight(base, "/")
	}
	return &Bridge{client: openai.NewClientWithConfig(clientCfg), model: model}
}

func (b *Bridge) Enabled() bool {
	return b != nil && b.client != nil
}

// SuggestTests asks for improvements to a test case, given the caller's prompt.
func (b *Bridge) SuggestTests(ctx context.Context, testCaseID, prompt string) (string, error) {
	return b.complete(ctx, "test-suggest-"+testCaseID, suggestSystemPrompt, prompt)
}

// AnalyzeResults asks for an analysis of one execution of tc.
func (b *Bridge) AnalyzeResults(ctx context.Context, tc store.TestCase, exec store.TestExecution) (string, error) {
	return b.complete(ctx, "analyze-"+exec.ID, analyzeSystemPrompt, AnalysisPrompt(tc, exec))
}

func (b *Bridge) complete(ctx context.Context, sessionID, system, user string) (string, error) {
	if !b.Enabled() {
		return "", ErrNotConfigured
	}
	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: b.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		User: sessionID,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

// AnalysisPrompt renders the user message sent for an execution analysis.
func AnalysisPrompt(tc store.TestCase, exec store.TestExecution) string {
	result := "N/A"
	if exec.Result != nil {
		result = *exec.Result
	}
	logs, err := json.Marshal(exec.Logs)
	if err != nil || exec.Logs == nil {
		logs = []byte("[]")
	}

	var b strings.Builder
	b.WriteString("Analyze this test execution:\n")
	fmt.Fprintf(&b, "Test Case: %s\n", tc.Name)
	fmt.Fprintf(&b, "Description: %s\n", tc.Description)
	fmt.Fprintf(&b, "Expected: %s\n", tc.ExpectedResult)
	fmt.Fprintf(&b, "Status: %s\n", exec.Status)
	fmt.Fprintf(&b, "Result: %s\n", result)
	fmt.Fprintf(&b, "Logs: %s\n\n", logs)
	b.WriteString("Provide detailed analysis and recommendations.")
	return b.String()
}

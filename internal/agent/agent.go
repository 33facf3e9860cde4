package agent

import (
	"context"
	"strings"

	"github.com/MimeLyc/cass/internal/llm"
	"github.com/MimeLyc/cass/internal/tools"
	"github.com/MimeLyc/cass/pkg/log"
)

// Agent answers questions by asking the model for SQL and running it through
// the registry's run_sql tool. Built once at startup and shared by all
// requests.
type Agent struct {
	provider     llm.Provider
	registry     *tools.Registry
	systemPrompt string
	retry        RetryPolicy
}

type Option func(*Agent)

// WithSystemPrompt replaces the prompt generated from the tool descriptions.
// Blank prompts are ignored.
func WithSystemPrompt(prompt string) Option {
	return func(a *Agent) {
		if strings.TrimSpace(prompt) != "" {
			a.systemPrompt = prompt
		}
	}
}

func WithRetryPolicy(policy RetryPolicy) Option {
	return func(a *Agent) {
		if policy != nil {
			a.retry = policy
		}
	}
}

func New(provider llm.Provider, registry *tools.Registry, opts ...Option) *Agent {
	a := &Agent{
		provider:     provider,
		registry:     registry,
		systemPrompt: DefaultSystemPrompt(registry.Descriptors()),
		retry:        CorrectionRetry{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Agent) SystemPrompt() string {
	return a.systemPrompt
}

// Chat runs one question to completion. Failures are reported in the
// returned Response, never as an error.
func (a *Agent) Chat(ctx context.Context, req Request) *Response {
	conversation := buildConversation(a.systemPrompt, req)

	answer, err := a.provider.Chat(ctx, conversation)
	if err != nil {
		log.Warn("LLM request failed: %v", err)
		return &Response{Answer: failedAnswer, Error: providerFailure(err), Attempts: 1}
	}

	resp := &Response{Answer: answer.Content, Attempts: 1}
	sql, ok := ExtractSQL(answer.Content)
	if !ok {
		return resp
	}
	resp.SQL = sql

	tool, ok := a.registry.Get(tools.RunSQLName)
	if !ok {
		return resp
	}

	result := tool.Execute(ctx, sql)
	if result.Success {
		resp.Data = records(result.Data)
		return resp
	}
	resp.Error = failureMessage(result)

	if retried := a.correct(ctx, tool, conversation, resp); retried != nil {
		return retried
	}
	return resp
}

// correct makes the single correction attempt for a failed execution. A nil
// return means the attempt was abandoned and the original failure stands.
func (a *Agent) correct(ctx context.Context, tool tools.Tool, conversation []llm.Message, failed *Response) *Response {
	next, ok := a.retry.Retry(conversation, failed.SQL, failed.Error)
	if !ok {
		return nil
	}
	log.Info("Query failed, asking the model for a correction: %s", failed.Error)

	failed.Attempts++
	answer, err := a.provider.Chat(ctx, next)
	if err != nil {
		log.Warn("Retry abandoned, LLM request failed: %v", err)
		return nil
	}

	sql, ok := ExtractSQL(answer.Content)
	if !ok {
		log.Warn("Retry abandoned, no SQL in corrected answer")
		return nil
	}

	result := tool.Execute(ctx, sql)
	if !result.Success {
		log.Warn("Retry abandoned, corrected query failed: %s", failureMessage(result))
		return nil
	}

	return &Response{
		Answer:   answer.Content,
		SQL:      sql,
		Data:     records(result.Data),
		Attempts: failed.Attempts,
	}
}

func failureMessage(result tools.Result) string {
	if result.Error == "" {
		return "query execution failed"
	}
	return result.Error
}

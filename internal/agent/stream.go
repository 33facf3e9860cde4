package agent

import (
	"context"
	"strings"

	"github.com/MimeLyc/cass/internal/tools"
	"github.com/MimeLyc/cass/pkg/log"
)

// StreamCoordinator runs the first pass of Agent.Chat incrementally. It
// never retries.
type StreamCoordinator struct {
	agent *Agent
}

func NewStreamCoordinator(a *Agent) *StreamCoordinator {
	return &StreamCoordinator{agent: a}
}

// Stream emits start, one token per model fragment, then sql and data or
// error when a query was produced, and finally end. The channel is closed
// when the sequence is complete or ctx is done. Once ctx is done no further
// fragments are read and no query is executed.
func (s *StreamCoordinator) Stream(ctx context.Context, req Request) <-chan Event {
	events := make(chan Event)
	go s.produce(ctx, req, events)
	return events
}

func (s *StreamCoordinator) produce(ctx context.Context, req Request, events chan<- Event) {
	defer close(events)

	emit := func(typ EventType, content any) bool {
		if ctx.Err() != nil {
			return false
		}
		select {
		case events <- Event{Type: typ, Content: content}:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !emit(EventStart, "") {
		return
	}

	conversation := buildConversation(s.agent.systemPrompt, req)
	var full strings.Builder
	for fragment, err := range s.agent.provider.ChatStream(ctx, conversation) {
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("LLM stream failed: %v", err)
			if emit(EventError, providerFailure(err)) {
				emit(EventEnd, "")
			}
			return
		}
		full.WriteString(fragment)
		if !emit(EventToken, fragment) {
			return
		}
	}

	if sql, ok := ExtractSQL(full.String()); ok {
		if !emit(EventSQL, sql) {
			return
		}
		if tool, ok := s.agent.registry.Get(tools.RunSQLName); ok {
			if ctx.Err() != nil {
				return
			}
			result := tool.Execute(ctx, sql)
			var sent bool
			if result.Success {
				sent = emit(EventData, records(result.Data))
			} else {
				sent = emit(EventError, failureMessage(result))
			}
			if !sent {
				return
			}
		}
	}

	emit(EventEnd, "")
}

package agent

import (
	"fmt"

	"github.com/MimeLyc/cass/internal/llm"
)

// RetryPolicy decides whether a failed execution is sent back to the model
// for a corrected query. The agent consults it at most once per request.
type RetryPolicy interface {
	// Retry returns the conversation for the correction attempt, or false to
	// keep the original failure.
	Retry(conversation []llm.Message, failedSQL, failure string) ([]llm.Message, bool)
}

// CorrectionRetry replays the failed query as the model's own turn and asks
// for a fix quoting the exact database error.
type CorrectionRetry struct{}

func (CorrectionRetry) Retry(conversation []llm.Message, failedSQL, failure string) ([]llm.Message, bool) {
	next := make([]llm.Message, 0, len(conversation)+2)
	next = append(next, conversation...)
	next = append(next,
		llm.AssistantMessage("```sql\n"+failedSQL+"\n```"),
		llm.UserMessage(fmt.Sprintf(
			"The SQL query failed with this error:\n%s\n\nPlease correct the query. Respond with ONLY the corrected SQL in a ```sql code block.",
			failure,
		)),
	)
	return next, true
}

// NoRetry reports the first execution failure as is.
type NoRetry struct{}

func (NoRetry) Retry([]llm.Message, string, string) ([]llm.Message, bool) {
	return nil, false
}

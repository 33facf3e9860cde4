package agent

import (
	"fmt"
	"strings"

	"github.com/MimeLyc/cass/internal/llm"
	"github.com/MimeLyc/cass/internal/tools"
)

const failedAnswer = "Failed to get response from AI"

// DefaultSystemPrompt lists the available tools and asks the model to reply
// with nothing but a fenced SQL block.
func DefaultSystemPrompt(descriptors []tools.Descriptor) string {
	var b strings.Builder
	b.WriteString("You are CASS, a helpful SQL assistant.\n")
	b.WriteString("You have access to these tools:\n")
	for _, d := range descriptors {
		fmt.Fprintf(&b, "- %s: %s\n", d.Name, d.Description)
	}
	b.WriteString(`
When user asks a data question:
1. Generate the SQL query
2. Respond with ONLY the SQL, wrapped in ` + "```sql" + ` code blocks
3. Do not explain, just give the SQL

Example:
User: How many customers are there?
You: ` + "```sql\nSELECT COUNT(*) FROM customers\n```")
	return b.String()
}

func buildConversation(systemPrompt string, req Request) []llm.Message {
	return []llm.Message{
		llm.SystemMessage(systemPrompt),
		llm.SystemMessage("Database Schema:\n" + req.Schema),
		llm.UserMessage(req.Question),
	}
}

func providerFailure(err error) string {
	return "LLM Error: " + err.Error()
}

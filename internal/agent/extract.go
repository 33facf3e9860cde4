package agent

import (
	"regexp"
	"strings"
)

var sqlFence = regexp.MustCompile("(?is)```sql\\b\\s*(.*?)\\s*```")

// ExtractSQL returns the body of the first ```sql fenced block in text,
// trimmed. It reports false when there is no such block or its body is
// blank.
func ExtractSQL(text string) (string, bool) {
	match := sqlFence.FindStringSubmatch(text)
	if match == nil {
		return "", false
	}
	sql := strings.TrimSpace(match[1])
	if sql == "" {
		return "", false
	}
	return sql, true
}

package tools

import (
	"fmt"
	"regexp"
	"strings"
)

var dangerousKeywords = []string{
	"DROP", "DELETE", "UPDATE", "INSERT", "ALTER", "TRUNCATE", "CREATE",
	"GRANT", "REVOKE", "ATTACH", "DETACH", "PRAGMA", "COPY", "VACUUM",
}

var dangerousPattern = regexp.MustCompile(`(?i)\b(` + strings.Join(dangerousKeywords, "|") + `)\b`)

// CheckReadOnly accepts a single statement that starts with SELECT (or a
// WITH clause) and contains none of the data-modifying or connection-level
// keywords as whole words. A trailing semicolon is allowed.
func CheckReadOnly(sql string) error {
	upper := strings.ToUpper(strings.TrimSpace(sql))
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return fmt.Errorf("Only SELECT queries are allowed")
	}
	if m := dangerousPattern.FindString(upper); m != "" {
		return fmt.Errorf("Dangerous keyword '%s' not allowed", m)
	}
	body := strings.TrimRight(upper, "; \t\r\n")
	if strings.Contains(body, ";") {
		return fmt.Errorf("Multiple statements are not allowed")
	}
	return nil
}

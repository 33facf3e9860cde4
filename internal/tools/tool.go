package tools

import "context"

// Record is one result row keyed by column name.
type Record = map[string]any

// Result represents the result of a tool execution
type Result struct {
	Success bool     `json:"success"`
	Data    []Record `json:"data,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// Failure builds an unsuccessful Result.
func Failure(msg string) Result {
	return Result{Success: false, Error: msg}
}

// Descriptor identifies a tool in the system prompt.
type Descriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Tool defines the interface for capabilities the agent can invoke
type Tool interface {
	// Name returns the unique name of the tool
	Name() string

	// Description returns a description of what the tool does
	Description() string

	// Execute runs the statement. Failures are reported through the Result,
	// never as a panic or a separate error value.
	Execute(ctx context.Context, sql string) Result
}

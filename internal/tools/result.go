// Package tools defines the tool-invocation contract: named tools
// with JSON-schema validated arguments, unified results, and external
// storage for oversized outputs.
package tools

// Result is the unified return type from tool execution.
type Result struct {
	ForLLM     string `json:"for_llm"`             // content sent to the LLM
	IsError    bool   `json:"is_error"`            // marks error
	Status     string `json:"status"`              // success | error | timeout
	Reference  string `json:"reference,omitempty"` // ref://<id> when output was externalized
	DurationMS int64  `json:"duration_ms"`
	Err        error  `json:"-"` // internal error (not serialized)
}

func NewResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM, Status: "success"}
}

func ErrorResult(message string) *Result {
	return &Result{ForLLM: message, IsError: true, Status: "error"}
}

func TimeoutResult(message string) *Result {
	return &Result{ForLLM: message, IsError: true, Status: "timeout"}
}

func (r *Result) WithError(err error) *Result {
	r.Err = err
	return r
}

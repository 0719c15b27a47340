package mcp

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// Result is what a tool reports back to the model. Failures are values, not
// errors.
type Result struct {
	Success bool   `json:"success" yaml:"success"`
	Message string `json:"message" yaml:"message"`
	Data    any    `json:"data,omitempty" yaml:"data,omitempty"`
}

func Success(message string, data any) Result {
	return Result{Success: true, Message: message, Data: data}
}

func Failure(message string) Result {
	return Result{Message: message}
}

func Failuref(format string, args ...any) Result {
	return Failure(fmt.Sprintf(format, args...))
}

// Output is the JSON sent as a function_call_output.
func (r Result) Output() string {
	data, err := sonic.Marshal(r)
	if err != nil {
		data, _ = sonic.Marshal(Result{Success: r.Success, Message: r.Message})
	}
	return string(data)
}

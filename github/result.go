package github

import "fmt"

// APIError is an HTTP level failure reported by the GitHub API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("GitHub API error %d: %s", e.StatusCode, e.Message)
}

// Result is either a value or an APIError. Ordinary HTTP error responses are
// returned as a failed Result; only transport problems surface as Go errors.
type Result[T any] struct {
	Data T
	Err  *APIError
}

func Success[T any](data T) Result[T] {
	return Result[T]{Data: data}
}

func Failure[T any](code int, message string) Result[T] {
	return Result[T]{Err: &APIError{StatusCode: code, Message: message}}
}

func (r Result[T]) OK() bool {
	return r.Err == nil
}

// StatusCode is 0 for a successful result.
func (r Result[T]) StatusCode() int {
	if r.Err == nil {
		return 0
	}
	return r.Err.StatusCode
}

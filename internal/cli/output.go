package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Module or scenario failure (load error, failed ticks, failed scenarios)
	ExitCommandError = 2 // Command error (bad flags, missing files, unreadable journal)
)

// Error codes carried in JSON error responses.
const (
	CodeLoad     = "E_LOAD"
	CodeTick     = "E_TICK"
	CodeJournal  = "E_JOURNAL"
	CodeScenario = "E_TEST_FAILED"
)

// ExitError is an error carrying the process exit code.
type ExitError struct {
	Code    int    // Exit code (ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates an ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps err with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from err. Errors that are not an
// ExitError map to ExitFailure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Response is the JSON envelope of every command in --format json.
type Response struct {
	Status string         `json:"status"` // "ok" or "error"
	Data   any            `json:"data,omitempty"`
	Error  *ResponseError `json:"error,omitempty"`
}

// ResponseError is the error part of a Response.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Output writes command results either as a JSON envelope or as text.
type Output struct {
	Format string
	Writer io.Writer
}

// JSON reports whether output is JSON.
func (o *Output) JSON() bool {
	return o.Format == "json"
}

// Emit writes data. In text mode text renders it; in JSON mode data is
// wrapped in an ok envelope.
func (o *Output) Emit(data any, text func(w io.Writer)) error {
	if o.JSON() {
		return o.encode(Response{Status: "ok", Data: data})
	}
	text(o.Writer)
	return nil
}

// Fail writes data with an error envelope in JSON mode, or the text
// rendering followed by the message otherwise.
func (o *Output) Fail(code, message string, data any, text func(w io.Writer)) error {
	if o.JSON() {
		return o.encode(Response{
			Status: "error",
			Data:   data,
			Error:  &ResponseError{Code: code, Message: message},
		})
	}
	if text != nil {
		text(o.Writer)
	}
	fmt.Fprintf(o.Writer, "Error [%s]: %s\n", code, message)
	return nil
}

func (o *Output) encode(resp Response) error {
	enc := json.NewEncoder(o.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/MikhailWahib/stablestore/internal/engine"
	"github.com/MikhailWahib/stablestore/internal/record"
)

// Exit codes for CLI commands.
const (
	ExitSuccess        = 0
	ExitFailure        = 1 // ticket not found
	ExitCommandError   = 2 // bad flags, config or payload
	ExitStorageFailure = 3 // the store could not be read or written
)

// Error codes reported in JSON output.
const (
	CodeNotFound     = "E001"
	CodeInvalidInput = "E002"
	CodeStorage      = "E003"
)

// ExitError carries the exit code a command wants the process to end with.
type ExitError struct {
	Code    int
	Message string
	Err     error
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

// WrapExitError wraps err with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Errors that are not an
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

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// CLIResponse is the JSON envelope of every command result.
type CLIResponse struct {
	Status string    `json:"status"`
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error part of a CLIResponse.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Success writes data. Text output uses the value's String method when it
// has one.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}
	if s, ok := data.(fmt.Stringer); ok {
		_, err := fmt.Fprintln(f.Writer, s.String())
		return err
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error writes an error result.
func (f *OutputFormatter) Error(code, message string) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message},
		})
	}
	_, err := fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	return err
}

type ticketOutput record.Ticket

func (t ticketOutput) String() string {
	updated := "-"
	if t.UpdatedAt != nil {
		updated = fmt.Sprint(*t.UpdatedAt)
	}
	return fmt.Sprintf("id=%d event=%q price=%d seat=%q created_at=%d updated_at=%s",
		t.ID, t.Event, t.Price, t.Seat, t.CreatedAt, updated)
}

type ticketListOutput []ticketOutput

func (l ticketListOutput) String() string {
	if len(l) == 0 {
		return "no tickets"
	}
	lines := make([]string, len(l))
	for i, t := range l {
		lines[i] = t.String()
	}
	return strings.Join(lines, "\n")
}

type statsOutput engine.Stats

func (s statsOutput) String() string {
	return fmt.Sprintf("tickets:            %d\nnext id:            %d\nregion pages:       %d\nbucket size:        %d pages\nallocated buckets:  %d\ncounter pages:      %d\nticket pages:       %d\nticket nodes:       %d",
		s.Tickets, s.NextID, s.RegionPages, s.BucketSizeInPages, s.AllocatedBuckets, s.CounterPages, s.TicketPages, s.TicketNodes)
}

// Package protocol defines the line-oriented JSON status protocol spoken
// between an agent worker process and the orchestrator.
//
// A worker writes one JSON object per line. Each line decodes to exactly one
// of the closed set of event variants: Starting, Processing, Completed, Error.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Status is the lifecycle state carried by a worker event.
type Status string

const (
	StatusStarting   Status = "starting"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Valid returns true if the status is a known value.
func (s Status) Valid() bool {
	switch s {
	case StatusStarting, StatusProcessing, StatusCompleted, StatusError:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further events are expected after s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Header carries the fields every event has.
type Header struct {
	RunID   string
	AgentID string
	Message string
}

// Event is one decoded worker status line.
type Event interface {
	Status() Status
	Head() Header
	isEvent()
}

// Starting is emitted once the worker has validated its invocation.
type Starting struct{ Header }

// Processing is emitted once the branch is ready and work is delegated.
type Processing struct{ Header }

// Completed is the successful terminal event.
type Completed struct {
	Header
	ResultSummary  string
	KeyFilePaths   []string
	CommittedFiles []string
}

// Error is the failed terminal event.
type Error struct {
	Header
	ErrorMessage string
	ErrorDetails string
}

func (Starting) Status() Status   { return StatusStarting }
func (Processing) Status() Status { return StatusProcessing }
func (Completed) Status() Status  { return StatusCompleted }
func (Error) Status() Status      { return StatusError }

func (e Starting) Head() Header   { return e.Header }
func (e Processing) Head() Header { return e.Header }
func (e Completed) Head() Header  { return e.Header }
func (e Error) Head() Header      { return e.Header }

func (Starting) isEvent()   {}
func (Processing) isEvent() {}
func (Completed) isEvent()  {}
func (Error) isEvent()      {}

// Wire is the JSON shape of a status line. Either Status or Type names the
// variant; older workers send "type".
type Wire struct {
	Status         Status   `json:"status,omitempty"`
	Type           Status   `json:"type,omitempty"`
	RunID          string   `json:"runId"`
	AgentID        string   `json:"agentId"`
	Message        string   `json:"message,omitempty"`
	ResultSummary  string   `json:"resultSummary,omitempty"`
	KeyFilePaths   []string `json:"keyFilePaths,omitempty"`
	CommittedFiles []string `json:"committedFiles,omitempty"`
	ErrorMessage   string   `json:"errorMessage,omitempty"`
	ErrorDetails   string   `json:"errorDetails,omitempty"`
}

// ProtocolError reports a line that is not a valid status event.
type ProtocolError struct {
	Line string
	Err  error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("invalid status line %q: %v", truncate(e.Line, 120), e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// Decode parses one status line.
func Decode(line []byte) (Event, error) {
	var w Wire
	if err := json.Unmarshal(line, &w); err != nil {
		return nil, &ProtocolError{Line: string(line), Err: err}
	}
	ev, err := w.Event()
	if err != nil {
		return nil, &ProtocolError{Line: string(line), Err: err}
	}
	return ev, nil
}

// Event converts the wire form into its variant.
func (w Wire) Event() (Event, error) {
	status := w.Status
	if status == "" {
		status = w.Type
	}
	if w.RunID == "" {
		return nil, fmt.Errorf("missing runId")
	}
	if w.AgentID == "" {
		return nil, fmt.Errorf("missing agentId")
	}

	h := Header{RunID: w.RunID, AgentID: w.AgentID, Message: w.Message}
	switch status {
	case StatusStarting:
		return Starting{h}, nil
	case StatusProcessing:
		return Processing{h}, nil
	case StatusCompleted:
		return Completed{
			Header:         h,
			ResultSummary:  w.ResultSummary,
			KeyFilePaths:   nonNil(w.KeyFilePaths),
			CommittedFiles: nonNil(w.CommittedFiles),
		}, nil
	case StatusError:
		return Error{Header: h, ErrorMessage: w.ErrorMessage, ErrorDetails: w.ErrorDetails}, nil
	case "":
		return nil, fmt.Errorf("missing status")
	default:
		return nil, fmt.Errorf("unknown status %q", status)
	}
}

// ToWire converts an event to its JSON shape.
func ToWire(ev Event) Wire {
	h := ev.Head()
	w := Wire{
		Status:  ev.Status(),
		RunID:   h.RunID,
		AgentID: h.AgentID,
		Message: h.Message,
	}
	switch e := ev.(type) {
	case Completed:
		w.ResultSummary = e.ResultSummary
		w.KeyFilePaths = nonNil(e.KeyFilePaths)
		w.CommittedFiles = nonNil(e.CommittedFiles)
	case Error:
		w.ErrorMessage = e.ErrorMessage
		w.ErrorDetails = e.ErrorDetails
	}
	return w
}

// Encode renders an event as a single JSON line without the trailing newline.
func Encode(ev Event) ([]byte, error) {
	return json.Marshal(ToWire(ev))
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

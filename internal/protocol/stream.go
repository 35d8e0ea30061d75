package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
)

// maxLineSize bounds a single status line.
const maxLineSize = 1024 * 1024

// Emitter writes events as JSON lines. It is safe for concurrent use.
type Emitter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEmitter creates an Emitter writing to w.
func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{w: w}
}

// Emit writes ev followed by a newline.
func (e *Emitter) Emit(ev Event) error {
	data, err := Encode(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Status(), err)
	}
	return e.WriteLine(data)
}

// WriteJSON marshals v and writes it as one line.
func (e *Emitter) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode line: %w", err)
	}
	return e.WriteLine(data)
}

// WriteLine writes data and a newline atomically with respect to other writers.
func (e *Emitter) WriteLine(data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	buf := make([]byte, 0, len(data)+1)
	buf = append(buf, data...)
	buf = append(buf, '\n')
	_, err := e.w.Write(buf)
	return err
}

// Stream names the descriptor a line was read from.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Line is one item read from a worker stream. Exactly one of Event or Err is set.
type Line struct {
	AgentID string
	Stream  Stream
	Event   Event
	Err     error
	Raw     string
}

// Drain reads r to EOF, decoding each non-empty line and sending it to out
// in read order. Undecodable lines are delivered with Err set; they do not
// stop the drain. Drain returns the read error, if any, once r is exhausted.
func Drain(r io.Reader, agentID string, stream Stream, out chan<- Line) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		ev, err := Decode([]byte(raw))
		out <- Line{
			AgentID: agentID,
			Stream:  stream,
			Event:   ev,
			Err:     err,
			Raw:     raw,
		}
	}

	if err := scanner.Err(); err != nil {
		// Keep the pipe flowing so the writer never blocks on a full buffer.
		_, _ = io.Copy(io.Discard, r)
		return err
	}
	return nil
}

// AgentUpdate wraps a worker event on the orchestrator's output stream.
type AgentUpdate struct {
	Type string `json:"type"`
	Data Wire   `json:"data"`
}

// NewAgentUpdate builds the agent_update envelope for ev.
func NewAgentUpdate(ev Event) AgentUpdate {
	return AgentUpdate{Type: "agent_update", Data: ToWire(ev)}
}

package orchestrator

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/witchcraftery/jarules-sub000/internal/protocol"
	"github.com/witchcraftery/jarules-sub000/pkg/models"
)

func header(agentID, msg string) protocol.Header {
	return protocol.Header{RunID: "run-1", AgentID: agentID, Message: msg}
}

func TestApplyEvent(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		from    models.AgentRunStatus
		event   protocol.Event
		applied bool
		want    models.AgentState
	}{
		{
			name:    "starting",
			from:    models.AgentQueued,
			event:   protocol.Starting{Header: header("a", "hello")},
			applied: true,
			want:    models.AgentState{Status: models.AgentStarting, Message: "hello"},
		},
		{
			name:    "processing",
			from:    models.AgentStarting,
			event:   protocol.Processing{Header: header("a", "working")},
			applied: true,
			want:    models.AgentState{Status: models.AgentProcessing, Message: "working"},
		},
		{
			name: "completed",
			from: models.AgentProcessing,
			event: protocol.Completed{
				Header:         header("a", "done"),
				ResultSummary:  "summary",
				KeyFilePaths:   []string{"out.txt"},
				CommittedFiles: []string{"SOLUTION_SUMMARY.md", "out.txt"},
			},
			applied: true,
			want: models.AgentState{
				Status:         models.AgentCompleted,
				Message:        "done",
				ResultSummary:  "summary",
				KeyFilePaths:   []string{"out.txt"},
				CommittedFiles: []string{"SOLUTION_SUMMARY.md", "out.txt"},
			},
		},
		{
			name:    "error",
			from:    models.AgentStarting,
			event:   protocol.Error{Header: header("a", "branch setup failed"), ErrorMessage: "boom", ErrorDetails: "git checkout (exit 128)"},
			applied: true,
			want: models.AgentState{
				Status:       models.AgentError,
				Message:      "branch setup failed",
				ErrorMessage: "boom",
				ErrorDetails: "git checkout (exit 128)",
			},
		},
		{
			name:    "events after completion are ignored",
			from:    models.AgentCompleted,
			event:   protocol.Error{Header: header("a", "late"), ErrorMessage: "late"},
			applied: false,
			want:    models.AgentState{Status: models.AgentCompleted},
		},
		{
			name:    "events after error are ignored",
			from:    models.AgentError,
			event:   protocol.Processing{Header: header("a", "late")},
			applied: false,
			want:    models.AgentState{Status: models.AgentError},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &models.AgentState{Status: tt.from, KeyFilePaths: []string{}, CommittedFiles: []string{}}
			if got := applyEvent(a, tt.event, now); got != tt.applied {
				t.Fatalf("applyEvent() = %v, want %v", got, tt.applied)
			}

			if a.Status != tt.want.Status || a.Message != tt.want.Message {
				t.Errorf("status/message = %s/%q, want %s/%q", a.Status, a.Message, tt.want.Status, tt.want.Message)
			}
			if a.ResultSummary != tt.want.ResultSummary || a.ErrorMessage != tt.want.ErrorMessage || a.ErrorDetails != tt.want.ErrorDetails {
				t.Errorf("state = %+v, want %+v", a, tt.want)
			}
			if tt.want.KeyFilePaths != nil && !reflect.DeepEqual(a.KeyFilePaths, tt.want.KeyFilePaths) {
				t.Errorf("KeyFilePaths = %v", a.KeyFilePaths)
			}
			if tt.want.CommittedFiles != nil && !reflect.DeepEqual(a.CommittedFiles, tt.want.CommittedFiles) {
				t.Errorf("CommittedFiles = %v", a.CommittedFiles)
			}
			if tt.applied && !a.UpdatedAt.Equal(now) {
				t.Errorf("UpdatedAt = %v", a.UpdatedAt)
			}
		})
	}
}

func newDispatchOrchestrator(t *testing.T, out *bytes.Buffer) *Orchestrator {
	t.Helper()
	o, err := New(t.TempDir(), WithWorkerCommand("unused"), WithOutput(out))
	if err != nil {
		t.Fatal(err)
	}
	run := &models.Run{
		ID:         "run-1",
		AgentOrder: []string{"a", "b"},
		Agents: map[string]*models.AgentState{
			"a": {AgentID: "a", Status: models.AgentQueued},
			"b": {AgentID: "b", Status: models.AgentQueued},
		},
	}
	if err := o.registry.Register(run); err != nil {
		t.Fatal(err)
	}
	return o
}

func TestDispatch(t *testing.T) {
	var out bytes.Buffer
	o := newDispatchOrchestrator(t, &out)

	lines := make(chan protocol.Line, 8)
	lines <- protocol.Line{AgentID: "a", Stream: protocol.Stdout, Event: protocol.Starting{Header: header("a", "go")}}
	lines <- protocol.Line{AgentID: "a", Stream: protocol.Stdout, Err: errors.New("bad json"), Raw: "not json"}
	lines <- protocol.Line{AgentID: "a", Stream: protocol.Stderr, Err: errors.New("bad json"), Raw: "log noise"}
	// Claims to be b, but arrived on a's stream.
	lines <- protocol.Line{AgentID: "a", Stream: protocol.Stdout, Event: protocol.Completed{Header: header("b", "spoof")}}
	// Wrong run.
	lines <- protocol.Line{AgentID: "b", Stream: protocol.Stdout, Event: protocol.Starting{Header: protocol.Header{RunID: "run-2", AgentID: "b"}}}
	lines <- protocol.Line{AgentID: "a", Stream: protocol.Stderr, Event: protocol.Completed{Header: header("a", "done"), KeyFilePaths: []string{"x"}}}
	lines <- protocol.Line{AgentID: "a", Stream: protocol.Stdout, Event: protocol.Processing{Header: header("a", "too late")}}
	close(lines)

	o.dispatch("run-1", lines)

	run := o.registry.Get("run-1")
	if a := run.Agents["a"]; a.Status != models.AgentCompleted || a.Message != "done" {
		t.Errorf("a = %+v", a)
	}
	if b := run.Agents["b"]; b.Status != models.AgentQueued {
		t.Errorf("b = %+v, want untouched", b)
	}

	got := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(got) != 2 {
		t.Fatalf("forwarded %d lines, want 2:\n%s", len(got), out.String())
	}
	for _, line := range got {
		if !strings.HasPrefix(line, `{"type":"agent_update","data":{`) || !strings.Contains(line, `"agentId":"a"`) {
			t.Errorf("unexpected forwarded line %s", line)
		}
	}
}

func TestDispatch_UnknownAgentIsDropped(t *testing.T) {
	var out bytes.Buffer
	o := newDispatchOrchestrator(t, &out)

	lines := make(chan protocol.Line, 1)
	lines <- protocol.Line{AgentID: "ghost", Stream: protocol.Stdout, Event: protocol.Starting{Header: header("ghost", "")}}
	close(lines)
	o.dispatch("run-1", lines)

	if out.Len() != 0 {
		t.Errorf("forwarded an event for an unknown agent: %s", out.String())
	}
}

func TestAgentIDs(t *testing.T) {
	ids, err := agentIDs(agents(" alpha ", "beta"))
	if err != nil || !reflect.DeepEqual(ids, []string{"alpha", "beta"}) {
		t.Errorf("agentIDs() = %v, %v", ids, err)
	}

	// Whitespace does not make two ids distinct.
	if _, err := agentIDs(agents("alpha", "alpha ")); !errors.Is(err, ErrDuplicateAgent) {
		t.Errorf("agentIDs(dup) error = %v", err)
	}
}

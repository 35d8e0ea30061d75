package collab

import (
	"path/filepath"
	"testing"
)

func TestStopSignal(t *testing.T) {
	dir := SignalsDir(t.TempDir())

	s, err := NewStopSignal(dir)
	if err != nil {
		t.Fatalf("NewStopSignal() error = %v", err)
	}
	defer s.Close()

	if s.ShouldStop() {
		t.Fatal("fresh signal should not be tripped")
	}
	if err := s.Send(); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !s.ShouldStop() {
		t.Error("ShouldStop() = false after Send")
	}

	other, err := NewStopSignal(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer other.Close()
	if !other.ShouldStop() {
		t.Error("a second watcher on the same directory should see the stop file")
	}

	s.Clear()
	if s.ShouldStop() {
		t.Error("ShouldStop() = true after Clear")
	}

	s.Close()
	s.Close()
}

func TestStopSignal_Nil(t *testing.T) {
	var s *StopSignal
	if s.ShouldStop() {
		t.Error("nil signal should never stop")
	}
	s.Close()
}

func TestSignalsDir(t *testing.T) {
	if got := SignalsDir("/repo"); got != filepath.Join("/repo", ".jarules", "signals") {
		t.Errorf("SignalsDir() = %q", got)
	}
}

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/witchcraftery/jarules-sub000/internal/collab"
	"github.com/witchcraftery/jarules-sub000/internal/config"
	"github.com/witchcraftery/jarules-sub000/internal/protocol"
	"github.com/witchcraftery/jarules-sub000/internal/worker"
)

// workerWaitDelay bounds how long Wait keeps copying output once the worker
// has exited or the run is cancelled. Descendants still holding the output
// pipes are cut off after it.
const workerWaitDelay = 5 * time.Second

// workerProc is one running worker process.
type workerProc struct {
	agentID string
	cmd     *exec.Cmd
	pipes   []*io.PipeWriter
	drains  sync.WaitGroup
}

// launch starts the worker for p and begins draining its stdout and stderr
// into lines.
func (o *Orchestrator) launch(ctx context.Context, p worker.Params, lines chan<- protocol.Line) (*workerProc, error) {
	argv := append(append([]string{}, o.workerCommand...), p.Args()...)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = p.RepoPath
	cmd.Env = o.workerEnv()
	cmd.WaitDelay = workerWaitDelay
	configureWorkerProcess(cmd)

	// Non-file writers make exec copy the output itself, which is what
	// WaitDelay applies to.
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		stdoutW.Close()
		stderrW.Close()
		return nil, fmt.Errorf("start worker %s: %w", argv[0], err)
	}
	o.logger.Log("agent %s worker started: pid=%d dir=%s", p.AgentID, cmd.Process.Pid, p.RepoPath)

	proc := &workerProc{agentID: p.AgentID, cmd: cmd, pipes: []*io.PipeWriter{stdoutW, stderrW}}
	proc.drains.Add(2)
	go proc.drain(stdoutR, protocol.Stdout, lines)
	go proc.drain(stderrR, protocol.Stderr, lines)
	return proc, nil
}

func (w *workerProc) drain(r *io.PipeReader, stream protocol.Stream, lines chan<- protocol.Line) {
	defer w.drains.Done()
	if err := protocol.Drain(r, w.agentID, stream, lines); err != nil {
		log.Printf("[orchestrator] agent %s %s read error: %v", w.agentID, stream, err)
	}
	// Unblock exec's copier if the drain stopped early.
	r.Close()
}

// wait blocks until the process has exited and its output is drained, and
// returns its exit code. A process killed by a signal reports -1.
func (w *workerProc) wait() int {
	err := w.cmd.Wait()
	for _, pw := range w.pipes {
		pw.Close()
	}
	w.drains.Wait()

	if w.cmd.ProcessState != nil {
		if errors.Is(err, exec.ErrWaitDelay) {
			log.Printf("[orchestrator] agent %s left output pipes open after exit; stopped reading", w.agentID)
		}
		return w.cmd.ProcessState.ExitCode()
	}
	log.Printf("[orchestrator] agent %s wait failed: %v", w.agentID, err)
	return -1
}

// workerEnv is the caller's environment plus what a worker needs to find the
// shared stop signal and the caller's config file.
func (o *Orchestrator) workerEnv() []string {
	env := append(os.Environ(), collab.EnvSignalsDir+"="+collab.SignalsDir(o.repoPath))
	if o.configPath != "" {
		env = append(env, config.EnvConfigPath+"="+o.configPath)
	}
	return append(env, o.env...)
}

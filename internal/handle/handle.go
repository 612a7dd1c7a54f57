// Package handle implements the supervisor.ManageProcess capability
// (spec.md § 4.3): stop a started process and run its post command.
// Grounded on the teacher's Process.Signal (process-group kill) and
// Process.Wait (exec.ExitError classification), generalized to the
// stop-descriptor / post-command contract this spec defines.
package handle

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/gosv-run/gosv/internal/config"
	"github.com/gosv-run/gosv/internal/procexec"
	"github.com/gosv-run/gosv/internal/supervisor"
	"go.uber.org/zap"
)

// Handle is the engine-facing handle for one started process. Daemon
// handles wrap a live *exec.Cmd; one-shot handles (Run absent) carry
// only the post command, since there is nothing to signal.
type Handle struct {
	name     string
	log      *zap.Logger
	daemon   bool
	cmd      *exec.Cmd
	waitDone chan struct{}
	waitErr  error
	stop     config.Stop
	post     *config.Command
}

// NewDaemon wraps an already-started long-lived command. WatchExit
// must be called exactly once to begin monitoring it.
func NewDaemon(log *zap.Logger, name string, cmd *exec.Cmd, stop config.Stop, post *config.Command) *Handle {
	return &Handle{
		name:     name,
		log:      log,
		daemon:   true,
		cmd:      cmd,
		waitDone: make(chan struct{}),
		stop:     stop,
		post:     post,
	}
}

// NewOneShot wraps a process spec with no run command: stopping it
// only executes post.
func NewOneShot(log *zap.Logger, name string, post *config.Command) *Handle {
	return &Handle{name: name, log: log, post: post}
}

// WatchExit spawns the single goroutine that reaps the daemon and
// forwards exactly one notification on notify. The send is
// non-blocking: notify is sized generously enough (by the caller) that
// it never blocks a real trigger, and any notification arriving after
// the engine has stopped reading (rollback/teardown already finished)
// is simply dropped rather than leaking this goroutine forever.
func (h *Handle) WatchExit(notify chan<- struct{}) {
	go func() {
		h.waitErr = h.cmd.Wait()
		close(h.waitDone)
		select {
		case notify <- struct{}{}:
		default:
		}
	}()
}

func (h *Handle) alreadyExited() bool {
	select {
	case <-h.waitDone:
		return true
	default:
		return false
	}
}

// Stop applies the configured stop mechanism (if this is a live
// daemon), waits for exit, and always runs post. Consuming: call at
// most once.
func (h *Handle) Stop(ctx context.Context) error {
	if !h.daemon {
		return h.runPost(ctx)
	}

	already := h.alreadyExited()
	var stopErr error
	if !already {
		stopErr = h.applyStop(ctx)
	} else {
		h.log.Warn("process already exited before stop; running post anyway",
			zap.String("process", h.name))
	}

	<-h.waitDone

	if postErr := h.runPost(ctx); postErr != nil {
		if stopErr != nil {
			h.log.Error("stop mechanism also failed", zap.String("process", h.name), zap.Error(stopErr))
		}
		return postErr
	}
	return stopErr
}

func (h *Handle) applyStop(ctx context.Context) error {
	if h.stop.IsSignal() {
		pid := h.cmd.Process.Pid
		if err := procexec.SignalGroup(pid, h.stop.Signal); err != nil {
			return &supervisor.StopProcessError{Kind: supervisor.StopFailed, Process: h.name, Cause: err}
		}
		return nil
	}

	cmd, err := procexec.Build(ctx, h.stop.Command)
	if err != nil {
		return &supervisor.StopProcessError{Kind: supervisor.StopFailed, Process: h.name, Cause: err}
	}
	if err := cmd.Run(); err != nil {
		return classifyStopCommand(h.name, err)
	}
	return nil
}

func (h *Handle) runPost(ctx context.Context) error {
	if h.post == nil {
		return nil
	}
	cmd, err := procexec.Build(ctx, h.post)
	if err != nil {
		return &supervisor.StopProcessError{Kind: supervisor.PostRunFailed, Process: h.name, Cause: err}
	}
	if err := cmd.Run(); err != nil {
		return &supervisor.StopProcessError{Kind: supervisor.PostRunFailed, Process: h.name, Cause: err}
	}
	return nil
}

func classifyStopCommand(name string, err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.ProcessState != nil && !exitErr.ProcessState.Exited() {
			return &supervisor.StopProcessError{Kind: supervisor.ProcessKilled, Process: name, Cause: err}
		}
		return &supervisor.StopProcessError{
			Kind: supervisor.ProcessAborted, Process: name, ExitCode: exitErr.ExitCode(), Cause: err,
		}
	}
	return &supervisor.StopProcessError{Kind: supervisor.StopFailed, Process: name, Cause: fmt.Errorf("running stop command: %w", err)}
}

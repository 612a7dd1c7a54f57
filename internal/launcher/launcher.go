// Package launcher implements the supervisor.StartProcess capability
// (spec.md § 4.2): run pre synchronously, launch run detached, return
// a handle. Grounded on the teacher's Process.Start (pgid creation,
// cmd.Start, pid capture).
package launcher

import (
	"context"
	"errors"
	"os/exec"

	"github.com/gosv-run/gosv/internal/config"
	"github.com/gosv-run/gosv/internal/handle"
	"github.com/gosv-run/gosv/internal/procexec"
	"github.com/gosv-run/gosv/internal/supervisor"
	"go.uber.org/zap"
)

// Launcher adapts one config.ProcessSpec to supervisor.StartProcess.
type Launcher struct {
	spec config.ProcessSpec
	log  *zap.Logger
}

// New returns a Launcher for spec, logging through log.
func New(spec config.ProcessSpec, log *zap.Logger) *Launcher {
	return &Launcher{spec: spec, log: log}
}

// Name returns the process's configured name, for log correlation
// only (spec.md does not require engine-level uniqueness).
func (l *Launcher) Name() string { return l.spec.Name }

// Start runs pre (if present) to completion, then — for a daemon spec
// — launches run detached and begins monitoring it; one-shot specs
// (no run) return a handle immediately.
func (l *Launcher) Start(ctx context.Context, notify chan<- struct{}) (supervisor.ManageProcess, error) {
	if l.spec.Pre != nil {
		if err := l.runPre(ctx); err != nil {
			return nil, err
		}
	}

	if !l.spec.IsDaemon() {
		return handle.NewOneShot(l.log, l.spec.Name, l.spec.Post), nil
	}

	cmd, err := procexec.Build(ctx, l.spec.Run)
	if err != nil {
		return nil, &supervisor.StartProcessError{Kind: supervisor.RunFailed, Process: l.spec.Name, Cause: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &supervisor.StartProcessError{Kind: supervisor.RunFailed, Process: l.spec.Name, Cause: err}
	}

	l.log.Info("started process",
		zap.String("process", l.spec.Name),
		zap.Int("pid", cmd.Process.Pid),
	)

	h := handle.NewDaemon(l.log, l.spec.Name, cmd, l.spec.Stop, l.spec.Post)
	h.WatchExit(notify)
	return h, nil
}

func (l *Launcher) runPre(ctx context.Context) error {
	cmd, err := procexec.Build(ctx, l.spec.Pre)
	if err != nil {
		return &supervisor.StartProcessError{Kind: supervisor.PreRunFailed, Process: l.spec.Name, Cause: err}
	}
	if err := cmd.Run(); err == nil {
		return nil
	} else {
		return classifyPre(l.spec.Name, err)
	}
}

func classifyPre(name string, err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.ProcessState != nil && !exitErr.ProcessState.Exited() {
			return &supervisor.StartProcessError{Kind: supervisor.PreRunKilled, Process: name, Cause: err}
		}
		return &supervisor.StartProcessError{
			Kind: supervisor.PreRunAborted, Process: name, ExitCode: exitErr.ExitCode(), Cause: err,
		}
	}
	return &supervisor.StartProcessError{Kind: supervisor.PreRunFailed, Process: name, Cause: err}
}

// Package procexec builds *exec.Cmd values from a config.Command:
// process-group isolation, user switching, and environment filtering,
// shared by internal/launcher (pre/run) and internal/handle (stop
// command/post). Grounded on the teacher's Process.Start, which sets
// SysProcAttr.Setpgid so the supervisor can later signal the whole
// process group rather than just the leader.
package procexec

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"syscall"

	"github.com/gosv-run/gosv/internal/config"
	"golang.org/x/sys/unix"
)

// Build constructs a not-yet-started command from c: a new process
// group (Pgid 0 means "use the child's own pid"), an optional
// credential switch, and an environment built by filtering the
// supervisor's own environ down to the names listed in c.EnvVars
// rather than inheriting everything.
func Build(ctx context.Context, c *config.Command) (*exec.Cmd, error) {
	cmd := exec.CommandContext(ctx, c.Program, c.Args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = filterEnv(c.EnvVars)

	attr := &syscall.SysProcAttr{Setpgid: true, Pgid: 0}
	if c.User != "" {
		cred, err := credentialFor(c.User)
		if err != nil {
			return nil, fmt.Errorf("resolving user %q: %w", c.User, err)
		}
		attr.Credential = cred
	}
	cmd.SysProcAttr = attr

	return cmd, nil
}

// filterEnv returns only the supervisor's own environment variables
// named in allowed — the command does not otherwise inherit the
// supervisor's environment. See SPEC_FULL.md's SUPPLEMENTED FEATURES.
func filterEnv(allowed []string) []string {
	if len(allowed) == 0 {
		return []string{}
	}
	env := make([]string, 0, len(allowed))
	for _, name := range allowed {
		if v, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+v)
		}
	}
	return env
}

func credentialFor(username string) (*syscall.Credential, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return nil, err
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("parsing uid %q: %w", u.Uid, err)
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("parsing gid %q: %w", u.Gid, err)
	}
	return &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid)}, nil
}

// signalByName maps the config-level signal name to its unix.Signal,
// used by internal/handle when applying a Signal-kind stop descriptor.
var signalByName = map[string]unix.Signal{
	config.SIGINT:  unix.SIGINT,
	config.SIGQUIT: unix.SIGQUIT,
	config.SIGTERM: unix.SIGTERM,
}

// SignalGroup sends sig to the entire process group led by pid — a
// negative pid in kill(2) targets the group, matching the teacher's
// Process.Signal.
func SignalGroup(pid int, name string) error {
	sig, ok := signalByName[name]
	if !ok {
		return fmt.Errorf("unrecognized signal name %q", name)
	}
	return unix.Kill(-pid, sig)
}

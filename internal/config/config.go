// Package config parses the supervisor's declarative process
// specification from YAML: an ordered list of named processes, each
// with an optional pre, run, stop and post command.
package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is the top-level config file shape: an ordered list of
// process specifications.
type Document struct {
	Processes []ProcessSpec `yaml:"processes"`
}

// ProcessSpec is one named process's four-phase description. Run
// absent means a one-shot process (only Pre/Post run); Run present
// means a daemon process.
type ProcessSpec struct {
	Name string   `yaml:"name"`
	Pre  *Command `yaml:"pre,omitempty"`
	Run  *Command `yaml:"run,omitempty"`
	Stop Stop     `yaml:"stop,omitempty"`
	Post *Command `yaml:"post,omitempty"`
}

// IsDaemon reports whether this spec has a long-lived run command.
func (p ProcessSpec) IsDaemon() bool { return p.Run != nil }

// Command is a single external command: the program to execute, its
// arguments, the user to run as (optional), and the set of
// environment variable names to pass through from the supervisor's
// own environment. It does not otherwise inherit the supervisor's
// environment.
type Command struct {
	User    string
	EnvVars []string
	Program string
	Args    []string
}

// Signal names accepted in a stop descriptor.
const (
	SIGINT  = "SIGINT"
	SIGQUIT = "SIGQUIT"
	SIGTERM = "SIGTERM"
)

var validSignals = map[string]bool{SIGINT: true, SIGQUIT: true, SIGTERM: true}

// Stop is a tagged value: either a termination signal name, or a stop
// command. The zero value is not valid on its own; ProcessSpec's
// UnmarshalYAML replaces it (no `stop` key present) with
// Signal(SIGTERM), as does a null `stop` value.
type Stop struct {
	Signal  string // one of SIGINT/SIGQUIT/SIGTERM, or "" if Command is set
	Command *Command
}

// IsSignal reports whether this stop descriptor is a bare signal.
func (s Stop) IsSignal() bool { return s.Command == nil }

func defaultStop() Stop { return Stop{Signal: SIGTERM} }

// UnmarshalYAML implements the two-shape stop grammar: a bare string
// naming one of SIGINT/SIGQUIT/SIGTERM, or any of the three command
// shapes.
func (s *Stop) UnmarshalYAML(value *yaml.Node) error {
	if value.Tag == "!!null" {
		*s = defaultStop()
		return nil
	}

	if value.Kind == yaml.ScalarNode {
		var name string
		if err := value.Decode(&name); err != nil {
			return err
		}
		if validSignals[name] {
			*s = Stop{Signal: name}
			return nil
		}
		// Fall through: a bare string that isn't a signal name is the
		// whitespace-split command shape.
	}

	var cmd Command
	if err := value.Decode(&cmd); err != nil {
		return fmt.Errorf("stop: must be one of %q, %q, %q, or a command: %w",
			SIGINT, SIGQUIT, SIGTERM, err)
	}
	*s = Stop{Command: &cmd}
	return nil
}

// MarshalYAML renders the stop descriptor back as a signal name or a
// command, whichever this value holds.
func (s Stop) MarshalYAML() (interface{}, error) {
	if s.IsSignal() {
		if s.Signal == "" {
			return defaultStop().Signal, nil
		}
		return s.Signal, nil
	}
	return s.Command, nil
}

// UnmarshalYAML implements the three-shape command grammar:
//  1. a bare string, whitespace-split into program + args (no
//     quoting support — see splitCommandLine for why this is
//     preserved, not fixed);
//  2. an array of strings, first element program, rest args;
//  3. an object with optional `user`, optional `env-vars`, and a
//     required `command` field holding shape 1 or 2.
//
// Unknown fields in the object shape are rejected.
func (c *Command) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var line string
		if err := value.Decode(&line); err != nil {
			return err
		}
		program, args, err := splitCommandLine(line)
		if err != nil {
			return err
		}
		*c = Command{Program: program, Args: args}
		return nil

	case yaml.SequenceNode:
		var parts []string
		if err := value.Decode(&parts); err != nil {
			return err
		}
		program, args, err := splitCommandVector(parts)
		if err != nil {
			return err
		}
		*c = Command{Program: program, Args: args}
		return nil

	case yaml.MappingNode:
		var detail detailedCommand
		if err := decodeStrict(value, &detail, []string{"user", "env-vars", "command"}); err != nil {
			return err
		}
		if detail.Command == nil {
			return fmt.Errorf("command: object form requires a \"command\" field")
		}
		*c = Command{
			User:    detail.User,
			EnvVars: detail.EnvVars,
			Program: detail.Command.Program,
			Args:    detail.Command.Args,
		}
		return nil

	default:
		return fmt.Errorf("command: unsupported YAML node kind %v", value.Kind)
	}
}

// detailedCommand is the object shape of a command (shape 3), decoded
// via its own Command for the nested `command` field (shapes 1/2).
type detailedCommand struct {
	User    string   `yaml:"user,omitempty"`
	EnvVars []string `yaml:"env-vars,omitempty"`
	Command *Command `yaml:"command"`
}

// splitCommandLine implements the bare-string command shape.
//
// Limitation (preserved intentionally, not a bug): this splits on
// single space characters with no quoting support, so a command line
// like `/bin/foo 'a b'` mis-parses into args ["'a", "b'"]. Complex
// commands should use the array or object shape instead.
func splitCommandLine(line string) (program string, args []string, err error) {
	fields := strings.Split(line, " ")
	fields = removeEmpty(fields)
	if len(fields) == 0 {
		return "", nil, fmt.Errorf("command: empty command line")
	}
	return fields[0], fields[1:], nil
}

func removeEmpty(fields []string) []string {
	out := fields[:0]
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func splitCommandVector(parts []string) (program string, args []string, err error) {
	if len(parts) == 0 {
		return "", nil, fmt.Errorf("command: empty command vector")
	}
	return parts[0], parts[1:], nil
}

// decodeStrict decodes a YAML mapping node into dst, rejecting any
// mapping key not present in allowed. yaml.v3 has no per-struct
// "deny unknown fields" tag (only a document-wide Decoder.KnownFields
// option), so this walks the raw mapping keys itself.
func decodeStrict(value *yaml.Node, dst interface{}, allowed []string) error {
	allowedSet := make(map[string]bool, len(allowed))
	for _, k := range allowed {
		allowedSet[k] = true
	}
	for i := 0; i < len(value.Content); i += 2 {
		key := value.Content[i].Value
		if !allowedSet[key] {
			return fmt.Errorf("unknown field %q", key)
		}
	}
	return value.Decode(dst)
}

// UnmarshalYAML rejects unknown fields on a process spec (name, pre,
// run, stop, post).
func (p *ProcessSpec) UnmarshalYAML(value *yaml.Node) error {
	type rawSpec ProcessSpec
	var raw rawSpec
	if err := decodeStrict(value, &raw, []string{"name", "pre", "run", "stop", "post"}); err != nil {
		return err
	}
	if raw.Name == "" {
		return fmt.Errorf("process spec: \"name\" is required")
	}
	if raw.Stop == (Stop{}) {
		raw.Stop = defaultStop()
	}
	*p = ProcessSpec(raw)
	return nil
}

// Parse decodes a YAML config document.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	for i := range doc.Processes {
		if doc.Processes[i].Program() == "" && doc.Processes[i].Run == nil && doc.Processes[i].Pre == nil && doc.Processes[i].Post == nil {
			return nil, fmt.Errorf("process %q: at least one of pre/run/post must be set", doc.Processes[i].Name)
		}
	}
	return &doc, nil
}

// Program is a convenience accessor used only for the Parse-time
// sanity check above (a spec with no pre/run/post does nothing).
func (p ProcessSpec) Program() string {
	if p.Run != nil {
		return p.Run.Program
	}
	return ""
}

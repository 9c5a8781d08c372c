package session

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Prefix marks a line as a session command.
const Prefix = "session."

// Handler implements the session.<get|set>_<field>[=<value>] protocol. It is
// the only runtime path that mutates a Config.
type Handler struct {
	cfg *Config
}

func NewHandler(cfg *Config) *Handler {
	return &Handler{cfg: cfg}
}

type field struct {
	name string
	get  func(Snapshot) string
	set  func(*Config, string) (string, error)
}

var fields = []field{
	{
		name: "timeout",
		get:  func(s Snapshot) string { return strconv.Itoa(s.TimeoutSeconds) },
		set: func(c *Config, v string) (string, error) {
			seconds, err := strconv.Atoi(v)
			if err != nil {
				return "", fmt.Errorf("timeout must be an integer number of seconds, got %q", v)
			}
			if err := c.SetTimeout(seconds); err != nil {
				return "", err
			}
			return fmt.Sprintf("timeout set to %d seconds (applies from the next cell)", seconds), nil
		},
	},
	{
		name: "cwd",
		get:  func(s Snapshot) string { return s.WorkingDirectory },
		set: func(c *Config, v string) (string, error) {
			if err := c.SetWorkingDirectory(v); err != nil {
				return "", err
			}
			return "working directory set to " + v, nil
		},
	},
	{
		name: "log_level",
		get:  func(s Snapshot) string { return s.LogLevel },
		set: func(c *Config, v string) (string, error) {
			if err := c.SetLogLevel(v); err != nil {
				return "", err
			}
			return "log level set to " + strings.ToLower(v), nil
		},
	},
	{
		name: "policy",
		get:  func(s Snapshot) string { return strconv.FormatBool(s.PolicyEnabled) },
		set: func(c *Config, v string) (string, error) {
			enabled, err := parseBool(v)
			if err != nil {
				return "", err
			}
			c.SetPolicyEnabled(enabled)
			if enabled {
				return "security policy enabled", nil
			}
			return "security policy disabled", nil
		},
	},
}

var aliases = map[string]string{
	"working_directory": "cwd",
	"wd":                "cwd",
	"loglevel":          "log_level",
	"security":          "policy",
}

// Handle runs one command line. Problems are written to stderr and never abort
// the surrounding cell.
func (h *Handler) Handle(line string, stdout, stderr io.Writer) {
	body := strings.TrimPrefix(strings.TrimSpace(line), Prefix)
	name, value, hasValue := strings.Cut(body, "=")
	name = strings.TrimSpace(name)
	value = strings.TrimSpace(value)

	switch name {
	case "help":
		h.writeHelp(stdout)
		return
	case "get_config":
		snap := h.cfg.Snapshot()
		for _, f := range fields {
			fmt.Fprintf(stdout, "%s=%s\n", f.name, f.get(snap))
		}
		fmt.Fprintf(stdout, "max_concurrent=%d\n", snap.MaxConcurrent)
		fmt.Fprintf(stdout, "max_output_bytes=%d\n", snap.MaxOutputBytes)
		return
	}

	op, fieldName, ok := strings.Cut(name, "_")
	if !ok || (op != "get" && op != "set") {
		fmt.Fprintf(stderr, "session error: unknown command %q (try session.help)\n", line)
		return
	}
	if alias, ok := aliases[fieldName]; ok {
		fieldName = alias
	}
	f, ok := lookupField(fieldName)
	if !ok {
		fmt.Fprintf(stderr, "session error: unknown setting %q (try session.help)\n", fieldName)
		return
	}

	switch op {
	case "get":
		if hasValue {
			fmt.Fprintf(stderr, "session error: %s%s takes no value\n", Prefix, name)
			return
		}
		fmt.Fprintf(stdout, "%s=%s\n", f.name, f.get(h.cfg.Snapshot()))
	case "set":
		if !hasValue || value == "" {
			fmt.Fprintf(stderr, "session error: missing value, use %sset_%s=<value>\n", Prefix, f.name)
			return
		}
		msg, err := f.set(h.cfg, value)
		if err != nil {
			fmt.Fprintf(stderr, "session error: %v\n", err)
			return
		}
		fmt.Fprintln(stdout, msg)
	}
}

func (h *Handler) writeHelp(w io.Writer) {
	fmt.Fprintln(w, "session commands:")
	for _, f := range fields {
		fmt.Fprintf(w, "  %sget_%s\n  %sset_%s=<value>\n", Prefix, f.name, Prefix, f.name)
	}
	fmt.Fprintf(w, "  %sget_config\n  %shelp\n", Prefix, Prefix)
}

func lookupField(name string) (field, bool) {
	for _, f := range fields {
		if f.name == name {
			return f, true
		}
	}
	return field{}, false
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "on", "yes", "enabled":
		return true, nil
	case "off", "no", "disabled":
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("expected a boolean (true/false), got %q", v)
	}
	return b, nil
}

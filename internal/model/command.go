package model

import (
	"encoding/base64"
	"strconv"
	"strings"
)

// Names of the bootstrap commands that are accepted even when not registered.
const (
	StartCommand      = "start"
	StartGroupCommand = "startgroup"
)

const (
	paramsAndSep   = '&'
	paramsEqualSep = '='
)

// Command is a slash command extracted from an interaction. Parameters keep
// insertion order, so positional access stays stable across round trips.
type Command struct {
	Name string

	// IsValid is set when the command addresses this bot and its name is
	// registered (start and startgroup are always accepted).
	IsValid bool

	// IsForAnotherBot is set when the command carries an @botname suffix that
	// names a different bot.
	IsForAnotherBot bool

	params []commandParam
}

type commandParam struct {
	name  string
	value string
}

// NewCommand builds a command from a name, stripping a leading slash.
func NewCommand(name string) *Command {
	c := &Command{}
	name = strings.TrimSpace(name)
	if strings.HasPrefix(name, "/") {
		c.Name = name[1:]
	} else {
		c.Name = name
	}
	return c
}

// IsStart reports whether the command is one of the bootstrap commands.
func (c *Command) IsStart() bool {
	return strings.EqualFold(c.Name, StartCommand) || strings.EqualFold(c.Name, StartGroupCommand)
}

// AddParameter adds or replaces a named parameter, preserving position for
// replaced ones.
func (c *Command) AddParameter(name, value string) {
	for i := range c.params {
		if c.params[i].name == name {
			c.params[i].value = value
			return
		}
	}
	c.params = append(c.params, commandParam{name: name, value: value})
}

// AddParameters parses a "name1=value1&name2=value2" block and adds each pair.
// Malformed pairs are skipped.
func (c *Command) AddParameters(namesValues string) {
	if strings.TrimSpace(namesValues) == "" {
		return
	}
	for _, tuple := range strings.Split(namesValues, string(paramsAndSep)) {
		if tuple == "" {
			continue
		}
		pair := strings.Split(tuple, string(paramsEqualSep))
		if len(pair) == 2 {
			c.AddParameter(pair[0], pair[1])
		}
	}
}

// RemoveParameter drops the named parameter if present.
func (c *Command) RemoveParameter(name string) {
	for i := range c.params {
		if c.params[i].name == name {
			c.params = append(c.params[:i], c.params[i+1:]...)
			return
		}
	}
}

// ParameterValue returns the value of the named parameter, and whether it is
// present.
func (c *Command) ParameterValue(name string) (string, bool) {
	for _, p := range c.params {
		if p.name == name {
			return p.value, true
		}
	}
	return "", false
}

// ParameterInt returns the named parameter parsed as an integer, or 0.
func (c *Command) ParameterInt(name string) int64 {
	v, ok := c.ParameterValue(name)
	if !ok {
		return 0
	}
	n, _ := strconv.ParseInt(v, 10, 64)
	return n
}

// ParameterAt returns the value of the parameter at the given position, and
// whether it exists.
func (c *Command) ParameterAt(idx int) (string, bool) {
	if idx < 0 || idx >= len(c.params) {
		return "", false
	}
	return c.params[idx].value, true
}

// ParameterCount returns the number of parameters.
func (c *Command) ParameterCount() int { return len(c.params) }

// Query joins all parameter values with spaces.
func (c *Command) Query() string {
	vals := make([]string, 0, len(c.params))
	for _, p := range c.params {
		vals = append(vals, p.value)
	}
	return strings.Join(vals, " ")
}

// NameValues serializes the parameters as "name1=value1&name2=value2".
func (c *Command) NameValues() string {
	pairs := make([]string, 0, len(c.params))
	for _, p := range c.params {
		pairs = append(pairs, p.name+string(paramsEqualSep)+p.value)
	}
	return strings.Join(pairs, string(paramsAndSep))
}

func (c *Command) String() string {
	return c.Name + c.NameValues() + " " + strconv.FormatBool(c.IsForAnotherBot)
}

// MakeBase64 encodes a parameter block so it survives as a single
// space-free command argument.
func MakeBase64(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return base64.StdEncoding.EncodeToString([]byte(value))
}

// FromBase64 reverses MakeBase64. Input that is not valid base64 is returned
// unchanged, since plain positional parameters share the same slot.
func FromBase64(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	decoded, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return value
	}
	return string(decoded)
}

// CommandDef declares a command the bot responds to, with the label shown
// when commands are presented as dashboard choices.
type CommandDef struct {
	Name            string `json:"name"`
	Label           string `json:"label,omitempty"`
	ShowOnDashboard bool   `json:"show_on_dashboard,omitempty"`
}

// DisplayLabel returns the label, falling back to the command name.
func (d CommandDef) DisplayLabel() string {
	if d.Label != "" {
		return d.Label
	}
	return d.Name
}

// Package command implements the parse phase: it turns one line of user
// input into a typed Command. Parsing is purely syntactic; whether a
// template or slot exists is decided later by the validators.
package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/HendryAvila/kmad/internal/schedule"
)

// Action is the trigger name carried by a command.
type Action string

const (
	ActionPlace          Action = "place"
	ActionCreateTemplate Action = "create_template"
	ActionCreateSlot     Action = "create_slot"
	ActionComplete       Action = "complete"
	ActionList           Action = "list"
)

// usages maps each action to its syntax, in the order help shows them.
var usages = []struct {
	action Action
	usage  string
}{
	{ActionPlace, "place <template> <time>"},
	{ActionCreateTemplate, "create_template <name> <weight>"},
	{ActionCreateSlot, "create_slot <time> <capacity>"},
	{ActionComplete, "complete <task_id>"},
	{ActionList, "list"},
}

// Usage returns the one-line syntax for an action, or "" if unknown.
func Usage(a Action) string {
	for _, u := range usages {
		if u.action == a {
			return u.usage
		}
	}
	return ""
}

// IsAction reports whether a names a known command.
func IsAction(a Action) bool {
	return Usage(a) != ""
}

// Help lists every command, one per line.
func Help() string {
	lines := make([]string, len(usages))
	for i, u := range usages {
		lines[i] = "  " + u.usage
	}
	return strings.Join(lines, "\n")
}

// Command is a parsed user command. Only the fields relevant to Action are
// set.
type Command struct {
	Action   Action `json:"action"`
	Template string `json:"template,omitempty"`
	Time     string `json:"time,omitempty"`
	Name     string `json:"name,omitempty"`
	Weight   int    `json:"weight,omitempty"`
	Capacity int    `json:"capacity,omitempty"`
	TaskID   int64  `json:"task_id,omitempty"`
}

// ReadOnly reports whether the command bypasses the claim phases entirely.
func (c Command) ReadOnly() bool {
	return c.Action == ActionList
}

// String renders the command back into its canonical text form.
func (c Command) String() string {
	switch c.Action {
	case ActionPlace:
		return fmt.Sprintf("place %s %s", c.Template, c.Time)
	case ActionCreateTemplate:
		return fmt.Sprintf("create_template %s %d", c.Name, c.Weight)
	case ActionCreateSlot:
		return fmt.Sprintf("create_slot %s %d", c.Time, c.Capacity)
	case ActionComplete:
		return fmt.Sprintf("complete %d", c.TaskID)
	default:
		return string(c.Action)
	}
}

// Check reports fields of a typed command that its text form could not
// carry. Single-word arguments must be non-empty and free of whitespace.
func (c Command) Check() error {
	var fields []struct{ label, value string }
	switch c.Action {
	case ActionPlace:
		fields = []struct{ label, value string }{{"template", c.Template}, {"time", c.Time}}
	case ActionCreateTemplate:
		fields = []struct{ label, value string }{{"name", c.Name}}
	case ActionCreateSlot:
		fields = []struct{ label, value string }{{"time", c.Time}}
	}
	for _, f := range fields {
		if f.value == "" {
			return parseErr(c.String(), "%s is required", f.label)
		}
		if strings.ContainsFunc(f.value, unicode.IsSpace) {
			return parseErr(c.String(), "%s must be a single word, got %q", f.label, f.value)
		}
	}
	return nil
}

// ErrParse is matched by every ParseError.
var ErrParse = errors.New("parse error")

// ParseError reports malformed input. Its message is safe to show users.
type ParseError struct {
	Input string
	Msg   string
}

func (e *ParseError) Error() string { return e.Msg }

// Is makes errors.Is(err, ErrParse) hold for any ParseError.
func (e *ParseError) Is(target error) bool { return target == ErrParse }

func parseErr(input, format string, args ...any) error {
	return &ParseError{Input: input, Msg: fmt.Sprintf(format, args...)}
}

// Parse converts one line of input into a Command.
func Parse(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, parseErr(line, "empty command")
	}

	action := Action(strings.ToLower(fields[0]))
	args := fields[1:]

	switch action {
	case ActionPlace:
		if len(args) != 2 {
			return Command{}, usageErr(line, action)
		}
		t, err := schedule.NormalizeTime(args[1])
		if err != nil {
			return Command{}, parseErr(line, "%v", err)
		}
		return Command{Action: action, Template: args[0], Time: t}, nil

	case ActionCreateTemplate:
		if len(args) != 2 {
			return Command{}, usageErr(line, action)
		}
		weight, err := strconv.Atoi(args[1])
		if err != nil {
			return Command{}, parseErr(line, "weight must be an integer, got %q", args[1])
		}
		return Command{Action: action, Name: args[0], Weight: weight}, nil

	case ActionCreateSlot:
		if len(args) != 2 {
			return Command{}, usageErr(line, action)
		}
		t, err := schedule.NormalizeTime(args[0])
		if err != nil {
			return Command{}, parseErr(line, "%v", err)
		}
		capacity, err := strconv.Atoi(args[1])
		if err != nil {
			return Command{}, parseErr(line, "capacity must be an integer, got %q", args[1])
		}
		return Command{Action: action, Time: t, Capacity: capacity}, nil

	case ActionComplete:
		if len(args) != 1 {
			return Command{}, usageErr(line, action)
		}
		id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
		if err != nil {
			return Command{}, parseErr(line, "task id must be an integer, got %q", args[0])
		}
		return Command{Action: action, TaskID: id}, nil

	case ActionList:
		if len(args) != 0 {
			return Command{}, usageErr(line, action)
		}
		return Command{Action: action}, nil

	default:
		return Command{}, parseErr(line, "unknown command %q\n\nCommands:\n%s", fields[0], Help())
	}
}

func usageErr(line string, a Action) error {
	return parseErr(line, "usage: %s", Usage(a))
}

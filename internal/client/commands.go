package client

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/Tyrowin/roomchat/internal/protocol"
)

// ErrUnknownCommand is returned by Dispatch for a slash command it doesn't know.
var ErrUnknownCommand = errors.New("unknown command")

// CommandFunc runs one slash command with its comma separated arguments.
type CommandFunc func(c *Client, args []string) error

type command struct {
	args   int
	// greedy makes the last argument take the remainder of the line, commas included.
	greedy bool
	run    CommandFunc
	help   string
}

var commands = map[string]command{
	"public": {
		args:   1,
		greedy: true,
		run:    func(c *Client, args []string) error { return c.Public(args[0]) },
		help:   "/public text    - say text to the room",
	},
	"go": {
		args: 1,
		run:  func(c *Client, args []string) error { return c.Go(args[0]) },
		help: "/go room        - walk through the door to room",
	},
	"list_doors": {
		args: 0,
		run:  func(c *Client, _ []string) error { return c.ListDoors() },
		help: "/list_doors     - list the doors of the current room",
	},
	"logout": {
		args: 0,
		run:  func(c *Client, _ []string) error { return c.Logout() },
		help: "/logout         - leave the chat",
	},
}

// Help describes the slash commands.
func Help() string {
	lines := make([]string, 0, len(commands))
	for _, name := range slices.Sorted(maps.Keys(commands)) {
		lines = append(lines, commands[name].help)
	}
	return "Commands:\n" + strings.Join(lines, "\n") + "\nAnything else is said to the room."
}

// Dispatch runs one input line: "/command arg1,arg2" calls the matching
// command and any line without a leading slash is sent as Public. The text
// of /public is taken whole, commas included.
func Dispatch(c *Client, line string) error {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, "/") {
		return c.Public(line)
	}

	name, rest, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}

	var args []string
	if rest = strings.TrimSpace(rest); rest != "" {
		if cmd.greedy {
			args = strings.SplitN(rest, ",", cmd.args)
		} else {
			args = strings.Split(rest, ",")
		}
	}
	if len(args) != cmd.args {
		return fmt.Errorf("/%s takes %d argument(s), got %d", name, cmd.args, len(args))
	}
	return cmd.run(c, args)
}

// Render formats a server message for display.
func Render(m protocol.Message) string {
	if s, ok := m.(fmt.Stringer); ok {
		return s.String()
	}
	return string(m.Kind())
}

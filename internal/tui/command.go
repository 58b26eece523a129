package tui

import (
	"strings"

	"github.com/hireme/chatsync/internal/tui/ui"
)

// Command is a parsed prompt line. Name is resolved through the alias
// table.
type Command struct {
	Name string
	Args string
}

// commandSpec describes one prompt command.
type commandSpec struct {
	name    string
	aliases []string
	usage   string
	help    string
}

var commands = []commandSpec{
	{name: "open", aliases: []string{"o"}, usage: "open <name|id>", help: "Open a conversation"},
	{name: "search", aliases: []string{"s"}, usage: "search <text>", help: "Search cached messages"},
	{name: "notifications", aliases: []string{"n"}, usage: "notifications", help: "Show notifications"},
	{name: "reload", aliases: []string{"r"}, usage: "reload", help: "Refresh conversations from the server"},
	{name: "help", aliases: []string{"h"}, usage: "help", help: "Show this page"},
	{name: "quit", aliases: []string{"q"}, usage: "quit", help: "Quit"},
}

// ParseCommand parses a prompt line without the leading ':'. Unknown names
// are returned lowercased as typed.
func ParseCommand(input string) Command {
	name, args, _ := strings.Cut(strings.TrimSpace(input), " ")
	cmd := Command{Name: strings.ToLower(name), Args: strings.TrimSpace(args)}
	for _, c := range commands {
		for _, a := range c.aliases {
			if cmd.Name == a {
				cmd.Name = c.name
			}
		}
	}
	return cmd
}

// commandHints lists the commands for the help page.
func commandHints() []ui.MenuHint {
	hints := make([]ui.MenuHint, 0, len(commands))
	for _, c := range commands {
		desc := c.help
		if len(c.aliases) > 0 {
			desc += " (:" + strings.Join(c.aliases, ", :") + ")"
		}
		hints = append(hints, ui.MenuHint{Key: ":" + c.usage, Description: desc})
	}
	return hints
}

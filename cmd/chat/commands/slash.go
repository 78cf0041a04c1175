package commands

import "strings"

const helpText = `Commands:
  /help                 Show this message
  /new                  Start a new conversation
  /rename <title>       Rename the saved conversation
  /bookmark             Toggle the bookmark on the saved conversation
  /delete               Delete the saved conversation
  /quit                 Quit
Press Ctrl-C while a reply is streaming to stop it. End a line with \ to continue typing.`

type slashCommand struct {
	Name string
	Arg  string
}

// parseSlash splits "/rename Weekly sync" into its name and argument. Unknown
// names are returned as they are; the caller reports them.
func parseSlash(input string) slashCommand {
	body := strings.TrimPrefix(strings.TrimSpace(input), "/")
	name, arg, _ := strings.Cut(body, " ")
	name = strings.ToLower(name)
	switch name {
	case "exit", "q":
		name = "quit"
	case "?":
		name = "help"
	}
	return slashCommand{Name: name, Arg: strings.TrimSpace(arg)}
}

// Package command parses and routes slash commands ("/name arg...").
package command

import "strings"

// Command is a parsed slash command: a lowercase name plus its
// arguments in order. Derived per message; never stored.
type Command struct {
	Name string
	Args []string
	Raw  string
}

// IsCommand reports whether the trimmed text starts with "/".
func IsCommand(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "/")
}

// Parse splits text into a Command. Returns nil when the text is not
// a command, including the bare "/" with nothing after it. Arguments
// are split on any run of whitespace; there is no quoting support.
func Parse(text string) *Command {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return nil
	}

	parts := strings.Fields(strings.TrimPrefix(text, "/"))
	if len(parts) == 0 {
		return nil
	}

	cmd := &Command{
		Name: strings.ToLower(parts[0]),
		Raw:  text,
	}
	if len(parts) > 1 {
		cmd.Args = parts[1:]
	}
	return cmd
}

package runner

import (
	"github.com/kballard/go-shellquote"

	"github.com/teranos/opsdeck/errors"
)

// Command is the program and arguments for one execution
type Command struct {
	Path string
	Args []string
}

// BuildCommand splits interpreter with shell word rules and appends the
// script path and parameter flags.
func BuildCommand(interpreter, scriptPath string, params map[string]interface{}) (*Command, error) {
	words, err := shellquote.Split(interpreter)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid interpreter %q", interpreter)
	}
	if len(words) == 0 {
		return nil, errors.New("interpreter is empty")
	}

	args := append([]string{}, words[1:]...)
	args = append(args, scriptPath)
	args = append(args, BuildArgs(params)...)
	return &Command{Path: words[0], Args: args}, nil
}

// String renders the command line so it can be pasted into a shell.
func (c *Command) String() string {
	return shellquote.Join(append([]string{c.Path}, c.Args...)...)
}

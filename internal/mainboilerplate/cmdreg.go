package mainboilerplate

import "github.com/jessevdk/go-flags"

// AddCommandFunc attaches one sub-command to its parent.
type AddCommandFunc func(*flags.Command) error

// CommandRegistry holds sub-commands by dotted parent path ("" is the root,
// "index" the index group, "index.add" a command below it). Each tool file
// registers its commands into the registry of a freshly built parser.
type CommandRegistry map[string][]AddCommandFunc

func NewCommandRegistry() CommandRegistry { return make(CommandRegistry) }

// AddCommand queues a go-flags command named command under parentName.
func (cr CommandRegistry) AddCommand(parentName, command, short, long string, data interface{}) {
	cr[parentName] = append(cr[parentName], func(parent *flags.Command) error {
		_, err := parent.AddCommand(command, short, long, data)
		return err
	})
}

// AddCommands attaches everything queued under name to cmd, then descends
// into each resulting child so nested groups are built top down.
func (cr CommandRegistry) AddCommands(name string, cmd *flags.Command) error {
	for _, add := range cr[name] {
		if err := add(cmd); err != nil {
			return err
		}
	}
	for _, child := range cmd.Commands() {
		var path = child.Name
		if name != "" {
			path = name + "." + path
		}
		if err := cr.AddCommands(path, child); err != nil {
			return err
		}
	}
	return nil
}

package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"
)

// Migrator applies schema migrations.
type Migrator interface {
	Up() error
	Down(steps int) error
	Version() (uint, bool, error)
}

// MigrateCommand runs "up", "down [steps]" or "version". It returns a process exit code.
func MigrateCommand(m Migrator, args []string, stdout, stderr io.Writer) int {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	action := "up"
	if len(args) > 0 {
		action = args[0]
	}
	var err error
	switch action {
	case "up":
		err = m.Up()
	case "down":
		steps := 1
		if len(args) > 1 {
			steps, err = strconv.Atoi(args[1])
			if err != nil {
				fmt.Fprintf(stderr, "invalid steps %q\n", args[1])
				return 2
			}
		}
		err = m.Down(steps)
	case "version":
		var (
			version uint
			dirty   bool
		)
		version, dirty, err = m.Version()
		if err == nil {
			fmt.Fprintf(stdout, "version %d dirty=%t\n", version, dirty)
			return 0
		}
	default:
		fmt.Fprintf(stderr, "unknown migrate action %q (want up, down or version)\n", action)
		return 2
	}
	if err != nil {
		fmt.Fprintf(stderr, "migrate %s: %v\n", action, err)
		return 1
	}
	fmt.Fprintf(stdout, "migrate %s: ok\n", action)
	return 0
}

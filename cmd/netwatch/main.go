package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hamed0406/netwatch/internal/registry"
)

// errInvalidConfig marks startup failures caused by user configuration.
var errInvalidConfig = errors.New("invalid configuration")

const (
	exitOK     = 0
	exitError  = 1
	exitConfig = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if err == nil {
		return exitOK
	}
	fmt.Fprintln(stderr, "error:", err)
	return exitCode(err)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errInvalidConfig), registry.IsConfigError(err):
		return exitConfig
	default:
		return exitError
	}
}

func configError(err error) error {
	return fmt.Errorf("%w: %w", errInvalidConfig, err)
}

// Package forward builds and runs invocations of the external trade
// program's "local" subcommand. It validates the two required
// positionals, echoes the command it is about to run, and hands the
// wrapped program's exit status back to the caller untouched.
package forward

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// UsageError reports missing or flag-shaped positional arguments.
type UsageError struct {
	Program string
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("usage: %s <place> <ly> ...", e.Program)
}

// Validate checks the two required positionals. A value is rejected
// when empty or when it starts with '-', which means the caller left
// a positional out and an option slid into its slot.
func Validate(program, place, ly string) error {
	if place == "" || strings.HasPrefix(place, "-") ||
		ly == "" || strings.HasPrefix(ly, "-") {
		return &UsageError{Program: program}
	}
	return nil
}

// Invocation is a fully resolved call to the trade program.
type Invocation struct {
	Trade string // program path
	Place string // system or station name
	LY    string // distance bound in light-years
	Extra []string
}

// Args returns the argument vector handed to the trade program. Place
// and ly are single tokens regardless of embedded whitespace, and the
// extra arguments ride along verbatim; nothing is re-parsed by a
// shell.
func (inv Invocation) Args() []string {
	args := []string{"local", inv.Place, "--ly", inv.LY}
	return append(args, inv.Extra...)
}

// String renders the command line as echoed before execution, with the
// two positionals quoted.
func (inv Invocation) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s local %q --ly %q", inv.Trade, inv.Place, inv.LY)
	for _, arg := range inv.Extra {
		b.WriteByte(' ')
		b.WriteString(arg)
	}
	return b.String()
}

// Streams are the stdio handles the wrapped program inherits.
type Streams struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// Run echoes the invocation to Out and executes it, blocking until the
// trade program exits. It returns the program's exit status; a program
// killed by a signal reports status 1. An error means the program
// could not be started at all.
func Run(ctx context.Context, inv Invocation, s Streams) (int, error) {
	fmt.Fprintf(s.Out, "$ %s\n", inv)

	cmd := exec.CommandContext(ctx, inv.Trade, inv.Args()...)
	cmd.Stdin = s.In
	cmd.Stdout = s.Out
	cmd.Stderr = s.Err

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if code < 0 {
			code = 1
		}
		return code, nil
	}
	return 0, fmt.Errorf("run %s: %w", inv.Trade, err)
}

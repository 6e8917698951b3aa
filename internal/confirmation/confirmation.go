package confirmation

import (
	"bufio"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"lims-backup/internal/errors"
)

// ErrCancelled is returned when the operator declines or interrupts a prompt.
var ErrCancelled = stderrors.New("operation cancelled by user")

// Operation describes a destructive action awaiting approval.
type Operation struct {
	Action   string
	Target   string
	Effects  []string
	Warnings []string
}

// Confirmer asks the operator before destructive operations run.
type Confirmer struct {
	in          *bufio.Reader
	out         io.Writer
	autoApprove bool
	signals     chan os.Signal
}

// NewConfirmer creates a confirmer reading answers from in. With autoApprove
// every operation is accepted without prompting.
func NewConfirmer(in io.Reader, out io.Writer, autoApprove bool) *Confirmer {
	return &Confirmer{
		in:          bufio.NewReader(in),
		out:         out,
		autoApprove: autoApprove,
	}
}

// Confirm prints the operation summary and waits for y or n. It returns
// ErrCancelled wrapped as an interruption error when the answer is no, input
// ends, or SIGINT/SIGTERM arrives while waiting.
func (c *Confirmer) Confirm(op Operation) error {
	c.summarize(op)
	if c.autoApprove {
		fmt.Fprintln(c.out, "Auto-approving.")
		return nil
	}

	interrupt := c.signals
	if interrupt == nil {
		interrupt = make(chan os.Signal, 1)
		signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(interrupt)
	}

	for {
		answer := make(chan string, 1)
		readErr := make(chan error, 1)
		fmt.Fprintf(c.out, "%s %s? [y/N]: ", op.Action, op.Target)
		go func() {
			line, err := c.in.ReadString('\n')
			if err != nil && line == "" {
				readErr <- err
				return
			}
			answer <- line
		}()

		select {
		case <-interrupt:
			fmt.Fprintln(c.out)
			return cancelled("interrupted")
		case err := <-readErr:
			if err == io.EOF {
				return cancelled("no answer")
			}
			return errors.NewIOError("failed to read confirmation", err)
		case line := <-answer:
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "y", "yes":
				return nil
			case "n", "no", "":
				return cancelled("declined")
			default:
				fmt.Fprintf(c.out, "Invalid input %q. Please enter 'y' for yes or 'n' for no.\n", strings.TrimSpace(line))
			}
		}
	}
}

func (c *Confirmer) summarize(op Operation) {
	fmt.Fprintf(c.out, "%s %s\n", op.Action, op.Target)
	fmt.Fprintln(c.out, strings.Repeat("=", 50))
	for _, effect := range op.Effects {
		fmt.Fprintf(c.out, "  - %s\n", effect)
	}
	if len(op.Warnings) > 0 {
		fmt.Fprintln(c.out, "WARNINGS")
		for i, w := range op.Warnings {
			fmt.Fprintf(c.out, "%d. %s\n", i+1, w)
		}
	}
	fmt.Fprintln(c.out)
}

func cancelled(reason string) error {
	return errors.NewAppError(errors.ErrorTypeInterruption, "operation cancelled by user", ErrCancelled).
		WithContext("reason", reason)
}

// IsCancelled reports whether err came from a declined or interrupted prompt.
func IsCancelled(err error) bool {
	return stderrors.Is(err, ErrCancelled)
}

package fault

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Report prints the outcome of a session and returns the process exit code.
//
// Interruption and ambiguous selection exit 0. A child exit status is passed
// through silently. Everything else is one "ERROR: " line and exit 1.
func Report(err error, stdout, stderr io.Writer) int {
	if err == nil || errors.Is(err, context.Canceled) {
		return 0
	}
	var amb *AmbiguousSelectionError
	if errors.As(err, &amb) {
		fmt.Fprintln(stdout, "Multiple databases available; use --identifier/-i to select one:")
		for _, id := range amb.Candidates {
			fmt.Fprintf(stdout, "- %s\n", id)
		}
		return 0
	}
	var exit *ExitError
	if errors.As(err, &exit) {
		if exit.Code <= 0 {
			return 1
		}
		return exit.Code
	}
	fmt.Fprintf(stderr, "ERROR: %v\n", err)
	return 1
}

package session

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// saveTerminal captures the terminal mode behind in, if it is one, and
// returns a func restoring it. Children such as ssh switch the terminal to
// raw mode and may die before switching it back.
func saveTerminal(in io.Reader, logger *slog.Logger) func() {
	f, ok := in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return func() {}
	}
	fd := int(f.Fd())
	state, err := term.GetState(fd)
	if err != nil {
		logger.Debug("save terminal state", "err", err)
		return func() {}
	}
	return func() {
		if err := term.Restore(fd, state); err != nil {
			logger.Debug("restore terminal state", "err", err)
		}
	}
}

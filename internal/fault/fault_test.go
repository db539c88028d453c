package fault

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	cause := errors.New("AccessDeniedException: not allowed")
	err := fmt.Errorf("run task: %w", E(ErrLaunch, cause, "launch bastion task"))

	require.Equal(t, ErrLaunch, KindOf(err))
	require.ErrorIs(t, err, cause)
	require.Equal(t, "run task: launch bastion task: AccessDeniedException: not allowed", err.Error())
	require.Nil(t, KindOf(errors.New("plain")))
}

func TestReportFatal(t *testing.T) {
	var out, errw bytes.Buffer
	code := Report(Setupf("parameters not found for installation %q", "default"), &out, &errw)
	require.Equal(t, 1, code)
	require.Empty(t, out.String())
	require.Equal(t, "ERROR: parameters not found for installation \"default\"\n", errw.String())
}

func TestReportAmbiguousSelectionExitsCleanly(t *testing.T) {
	var out, errw bytes.Buffer
	code := Report(&AmbiguousSelectionError{Candidates: []string{"orders", "billing"}}, &out, &errw)
	require.Equal(t, 0, code)
	require.Empty(t, errw.String())
	require.Equal(t, "Multiple databases available; use --identifier/-i to select one:\n- orders\n- billing\n", out.String())
}

func TestReportInterruptAndExitStatus(t *testing.T) {
	var out, errw bytes.Buffer
	require.Equal(t, 0, Report(context.Canceled, &out, &errw))
	require.Equal(t, 0, Report(nil, &out, &errw))
	require.Equal(t, 3, Report(&ExitError{Code: 3}, &out, &errw))
	require.Empty(t, out.String())
	require.Empty(t, errw.String())
}

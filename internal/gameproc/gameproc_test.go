package gameproc

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/rts-lobby/internal/spawn"
)

func shell(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("no sh available")
	}
	return sh
}

func TestRunWritesSpawnFileFirst(t *testing.T) {
	r := &Runner{
		Executable: shell(t),
		Args:       []string{"-c", "grep -q 'Name=host' spawn.ini"},
		Dir:        t.TempDir(),
	}
	require.NoError(t, r.Run(context.Background(), spawn.Settings{Name: "host"}))
}

func TestRunReportsExitStatus(t *testing.T) {
	r := &Runner{
		Executable: shell(t),
		Args:       []string{"-c", "exit 3"},
		Dir:        t.TempDir(),
		SpawnFile:  "custom.ini",
	}
	err := r.Run(context.Background(), spawn.Settings{})
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.ExitCode())
}

func TestRunWithoutExecutable(t *testing.T) {
	r := &Runner{Dir: t.TempDir()}
	assert.ErrorIs(t, r.Run(context.Background(), spawn.Settings{}), ErrNoExecutable)
}

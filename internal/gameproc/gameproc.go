// Package gameproc starts the game executable for a launched room and waits
// for it to exit.
package gameproc

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/rts-lobby/internal/spawn"
)

var ErrNoExecutable = errors.New("no game executable configured")

const DefaultSpawnFile = "spawn.ini"

type Runner struct {
	Executable string
	Args       []string
	Dir        string
	SpawnFile  string
	Log        *zap.Logger
}

// Run writes the spawn file into the game directory, starts the game and
// blocks until it exits. Cancelling ctx kills the process.
func (r *Runner) Run(ctx context.Context, settings spawn.Settings) error {
	if r.Executable == "" {
		return ErrNoExecutable
	}
	name := r.SpawnFile
	if name == "" {
		name = DefaultSpawnFile
	}
	if err := spawn.WriteFile(filepath.Join(r.Dir, name), settings); err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, r.Executable, r.Args...)
	cmd.Dir = r.Dir
	start := time.Now()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting game: %w", err)
	}
	r.logger().Info("game started",
		zap.String("executable", r.Executable),
		zap.Int("pid", cmd.Process.Pid),
		zap.Int("game_id", settings.GameID))

	err := cmd.Wait()
	r.logger().Info("game exited", zap.Duration("ran", time.Since(start)), zap.Error(err))
	if err != nil {
		return fmt.Errorf("game process: %w", err)
	}
	return nil
}

func (r *Runner) logger() *zap.Logger {
	if r.Log == nil {
		return zap.NewNop()
	}
	return r.Log
}

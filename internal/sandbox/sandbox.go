// Package sandbox provides the command execution and file workspace that
// code-producing agents run against.
package sandbox

import (
	"context"
	"errors"
	"time"

	"github.com/ShayCichocki/missionctl/pkg/models"
)

// ErrUnavailable means the sandbox itself cannot be used. Missions treat it
// as fatal.
var ErrUnavailable = errors.New("sandbox unavailable")

// ErrOutsideWorkspace is returned for paths that escape the sandbox root.
var ErrOutsideWorkspace = errors.New("path escapes sandbox workspace")

// ExecResult is the outcome of one command. A non-zero exit code is not an
// error.
type ExecResult struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// Succeeded reports a zero exit code.
func (r ExecResult) Succeeded() bool {
	return r.ExitCode == 0
}

// Sandbox runs commands and holds generated files.
type Sandbox interface {
	// Execute runs a shell command. cwd is relative to the sandbox root;
	// empty means the root. A missing cwd is created.
	Execute(ctx context.Context, cmd string, cwd string) (ExecResult, error)

	// WriteFiles creates or replaces files, creating parent directories.
	WriteFiles(ctx context.Context, files []models.File) error

	// ReadFile returns a file's content.
	ReadFile(ctx context.Context, path string) (string, error)

	// Root returns a human-readable location of the workspace.
	Root() string
}

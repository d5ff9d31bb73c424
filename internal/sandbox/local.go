package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/ShayCichocki/missionctl/pkg/models"
)

// Local runs commands with sh -c inside a directory on this machine.
type Local struct {
	root  string
	shell string
}

// NewLocal creates a local sandbox rooted at dir, creating it if needed.
func NewLocal(dir string) (*Local, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &Local{root: abs, shell: "sh"}, nil
}

// Root implements Sandbox.
func (l *Local) Root() string {
	return l.root
}

// resolve maps a workspace-relative path onto the filesystem, rejecting
// anything that would land outside the root.
func (l *Local) resolve(path string) (string, error) {
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, path)
	}
	full := filepath.Join(l.root, path)
	rel, err := filepath.Rel(l.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, path)
	}
	return full, nil
}

// Execute implements Sandbox.
func (l *Local) Execute(ctx context.Context, command string, cwd string) (ExecResult, error) {
	dir, err := l.resolve(cwd)
	if err != nil {
		return ExecResult{}, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return ExecResult{}, fmt.Errorf("%w: working directory: %v", ErrUnavailable, err)
	}

	cmd := exec.CommandContext(ctx, l.shell, "-c", command)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	res := ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) && ctx.Err() == nil {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, fmt.Errorf("%w: %v", ErrUnavailable, runErr)
	}
	return res, nil
}

// WriteFiles implements Sandbox. Paths are validated before anything is
// written.
func (l *Local) WriteFiles(ctx context.Context, files []models.File) error {
	targets := make([]string, len(files))
	for i, f := range files {
		full, err := l.resolve(f.Path)
		if err != nil {
			return err
		}
		targets[i] = full
	}

	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(targets[i]), 0755); err != nil {
			return fmt.Errorf("create directory for %s: %w", f.Path, err)
		}
		if err := os.WriteFile(targets[i], []byte(f.Content), 0644); err != nil {
			return fmt.Errorf("write %s: %w", f.Path, err)
		}
	}
	return nil
}

// ReadFile implements Sandbox.
func (l *Local) ReadFile(_ context.Context, path string) (string, error) {
	full, err := l.resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

// Verify Local implements Sandbox at compile time.
var _ Sandbox = (*Local)(nil)

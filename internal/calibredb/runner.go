package calibredb

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Status is the exit code of an external tool invocation
type Status int

const (
	StatusOK Status = 0
	// StatusNotStarted means the process could not be started at all
	StatusNotStarted Status = -1
)

// OK reports whether the invocation succeeded
func (s Status) OK() bool {
	return s == StatusOK
}

// Result is the observable outcome of one invocation
type Result struct {
	Status Status
	Stdout string
	Stderr string
	Err    error
}

// Runner runs an external program to completion
type Runner interface {
	Run(ctx context.Context, name string, args ...string) Result
}

// ExecRunner runs programs with os/exec
type ExecRunner struct {
	logger *zap.Logger
}

// NewExecRunner creates a runner that logs each invocation
func NewExecRunner(logger *zap.Logger) *ExecRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecRunner{logger: logger}
}

// Run executes name with args and captures its output
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) Result {
	start := time.Now()
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec // binaries come from configuration
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.Status = StatusOK
	case errors.As(err, &exitErr):
		res.Status = Status(exitErr.ExitCode())
	default:
		res.Status = StatusNotStarted
		res.Err = err
	}

	fields := []zap.Field{
		zap.String("cmd", name),
		zap.Strings("args", args),
		zap.Int("status", int(res.Status)),
		zap.Duration("elapsed", time.Since(start)),
	}
	if res.Status.OK() {
		r.logger.Debug("external tool finished", fields...)
	} else {
		r.logger.Warn("external tool failed", append(fields, zap.String("stderr", lastLine(res.Stderr)), zap.Error(res.Err))...)
	}
	return res
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

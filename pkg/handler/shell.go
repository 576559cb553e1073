package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"syscall"

	"taskqueue/pkg/job"
)

// ShellResult is the encoded payload a ShellHandler returns as a job's
// result bytes.
type ShellResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// ShellArgs is the decoded form of a shell job's Payload.
type ShellArgs struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

// ShellHandler runs its job's payload as a subprocess in its own
// process group, capturing stdout/stderr and exit code into a
// ShellResult.
type ShellHandler struct{}

func NewShellHandler() *ShellHandler {
	return &ShellHandler{}
}

func (s *ShellHandler) Handle(ctx context.Context, j *job.Job) ([]byte, error) {
	var args ShellArgs
	if err := json.Unmarshal(j.Payload, &args); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, args.Command, args.Args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	runErr := cmd.Run()

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	result, err := json.Marshal(ShellResult{
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	})
	if err != nil {
		return nil, err
	}

	if exitCode != 0 {
		return result, runErr
	}
	return result, nil
}

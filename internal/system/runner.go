package system

import (
	"context"
	"os/exec"
	"strings"

	"github.com/cockroachdb/errors"
)

// Runner executes external disk utilities (hdparm, nvme, cryptsetup).
// It is an interface so inspection and execution logic can be exercised in
// tests without real hardware.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout string, err error)
	// LookPath reports whether the named utility is installed.
	LookPath(name string) bool
}

// ExecRunner runs utilities through os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return string(out), errors.Wrapf(err, "%s %s", name, strings.Join(args, " "))
	}
	return string(out), nil
}

func (ExecRunner) LookPath(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// FakeRunner is a scripted Runner for tests. Outputs are keyed by command
// name; unknown commands return ErrNotScripted.
type FakeRunner struct {
	Outputs  map[string]string
	Errs     map[string]error
	Missing  map[string]bool
	Commands []string
}

// ErrNotScripted marks a command the fake was not prepared for.
var ErrNotScripted = errors.New("command not scripted")

func (f *FakeRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	f.Commands = append(f.Commands, name+" "+strings.Join(args, " "))
	if err, ok := f.Errs[name]; ok {
		return f.Outputs[name], err
	}
	out, ok := f.Outputs[name]
	if !ok {
		return "", ErrNotScripted
	}
	return out, nil
}

func (f *FakeRunner) LookPath(name string) bool {
	return !f.Missing[name]
}

package dispatch

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes one external command and returns its combined
// output. The scheduler and SSH calls go through it so tests can
// substitute a fake.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner runs commands through os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		trimmed := strings.TrimSpace(string(out))
		if trimmed != "" {
			return string(out), fmt.Errorf("%s: %w: %s", name, err, trimmed)
		}
		return string(out), fmt.Errorf("%s: %w", name, err)
	}
	return string(out), nil
}

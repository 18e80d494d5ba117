package dispatch

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// reservedNodeJobLimit bounds how many jobs may sit on the beamtime
// reservation before new work spills to the shared partitions.
const reservedNodeJobLimit = 25

// MaxPendingJobs caps the user's pending queue; past it the batch
// driver holds back further submissions.
const MaxPendingJobs = 200

var jobIDRe = regexp.MustCompile(`Submitted batch job (\d+)`)

// SlurmClient talks to SLURM through sbatch/squeue, optionally hopping
// over SSH to a login node that can see the reservation.
type SlurmClient struct {
	runner Runner
}

func NewSlurmClient(runner Runner) *SlurmClient {
	return &SlurmClient{runner: runner}
}

// Submit hands a script to sbatch and returns the scheduler job id.
// A non-nil login routes the call through SSH.
func (c *SlurmClient) Submit(ctx context.Context, script string, login *SSHLogin) (string, error) {
	var out string
	var err error
	if login != nil {
		args := append(sshArgs(*login), "sbatch", script)
		out, err = c.runner.Run(ctx, sshBinary, args...)
	} else {
		out, err = c.runner.Run(ctx, "sbatch", script)
	}
	if err != nil {
		return "", err
	}
	m := jobIDRe.FindStringSubmatch(out)
	if m == nil {
		return "", fmt.Errorf("sbatch accepted but no job id in output %q", strings.TrimSpace(out))
	}
	return m[1], nil
}

// PendingJobs counts the user's pending queue entries.
func (c *SlurmClient) PendingJobs(ctx context.Context, user string) (int, error) {
	out, err := c.runner.Run(ctx, "squeue", "-u", user, "-t", "pending")
	if err != nil {
		return 0, err
	}
	return countQueueLines(out), nil
}

// ReservedNodesOverloaded reports whether the reservation already
// carries more jobs than the limit. A failing squeue reads as "not
// overloaded": the reservation stays preferred when the probe is
// unavailable.
func (c *SlurmClient) ReservedNodesOverloaded(ctx context.Context, nodes string) bool {
	out, err := c.runner.Run(ctx, "squeue", "-w", nodes)
	if err != nil {
		return false
	}
	return countQueueLines(out) > reservedNodeJobLimit
}

// countQueueLines counts squeue data rows, skipping the header.
func countQueueLines(out string) int {
	n := 0
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "JOBID") {
			continue
		}
		n++
	}
	return n
}

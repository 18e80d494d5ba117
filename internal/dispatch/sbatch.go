package dispatch

import (
	"fmt"
	"os"
	"strings"
)

// BatchScript is one sbatch submission script. Render keeps the
// directive order stable so scripts diff cleanly between reruns.
type BatchScript struct {
	JobName     string
	Partition   string
	Reservation string
	Nodes       int
	Chdir       string
	Output      string
	Error       string
	Time        string
	Mem         string
	Nice        string
	Modules     []string
	Commands    []string
}

func (s BatchScript) Render() string {
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	fmt.Fprintf(&b, "#SBATCH --job-name=%s\n", s.JobName)
	fmt.Fprintf(&b, "#SBATCH --partition=%s\n", s.Partition)
	if s.Nodes > 0 {
		fmt.Fprintf(&b, "#SBATCH --nodes=%d\n", s.Nodes)
	}
	if s.Chdir != "" {
		fmt.Fprintf(&b, "#SBATCH --chdir=%s\n", s.Chdir)
	}
	fmt.Fprintf(&b, "#SBATCH --output=%s\n", s.Output)
	fmt.Fprintf(&b, "#SBATCH --error=%s\n", s.Error)
	if s.Reservation != "" {
		fmt.Fprintf(&b, "#SBATCH --reservation=%s\n", s.Reservation)
	}
	if s.Time != "" {
		fmt.Fprintf(&b, "#SBATCH --time=%s\n", s.Time)
	}
	if s.Mem != "" {
		fmt.Fprintf(&b, "#SBATCH --mem=%s\n", s.Mem)
	}
	if s.Nice != "" {
		fmt.Fprintf(&b, "#SBATCH --nice=%s\n", s.Nice)
	}
	if len(s.Modules) > 0 {
		b.WriteString("source /etc/profile.d/modules.sh\n")
		fmt.Fprintf(&b, "module load %s\n", strings.Join(s.Modules, " "))
	}
	for _, cmd := range s.Commands {
		b.WriteString(cmd)
		b.WriteString("\n")
	}
	return b.String()
}

// Write renders the script to path, executable so it can also be
// resubmitted by hand from the processed folder.
func (s BatchScript) Write(path string) error {
	if err := os.WriteFile(path, []byte(s.Render()), 0o755); err != nil {
		return fmt.Errorf("write sbatch script: %w", err)
	}
	return nil
}

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fakeRunner records every external command and answers sbatch with
// sequential job ids and squeue with a canned listing.
type fakeRunner struct {
	calls   [][]string
	nextJob int
	squeue  string
	fail    bool
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	call := append([]string{name}, args...)
	f.calls = append(f.calls, call)
	if f.fail {
		return "", errors.New("command failed")
	}
	for _, a := range call {
		if a == "squeue" {
			return f.squeue, nil
		}
	}
	f.nextJob++
	return fmt.Sprintf("Submitted batch job %d", f.nextJob), nil
}

func queueListing(jobs int) string {
	var b strings.Builder
	b.WriteString("JOBID PARTITION NAME USER ST TIME NODES NODELIST\n")
	for i := 0; i < jobs; i++ {
		fmt.Fprintf(&b, "%d ponline job%d user PD 0:00 1 node\n", 100+i, i)
	}
	return b.String()
}

func TestSubmitDirect(t *testing.T) {
	r := &fakeRunner{}
	c := NewSlurmClient(r)

	id, err := c.Submit(context.Background(), "/tmp/job.sh", nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id != "1" {
		t.Fatalf("job id = %q, want 1", id)
	}
	if got := r.calls[0]; got[0] != "sbatch" || got[1] != "/tmp/job.sh" {
		t.Fatalf("call = %v", got)
	}
}

func TestSubmitOverSSH(t *testing.T) {
	r := &fakeRunner{}
	c := NewSlurmClient(r)
	login := &SSHLogin{User: "bttest01", KeyPath: "/keys/id_rsa", Node: "max-p09-001"}

	if _, err := c.Submit(context.Background(), "/tmp/job.sh", login); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	call := r.calls[0]
	if call[0] != sshBinary {
		t.Fatalf("call[0] = %q, want ssh", call[0])
	}
	joined := strings.Join(call, " ")
	for _, want := range []string{"BatchMode=yes", "-l bttest01", "-i /keys/id_rsa", "max-p09-001 sbatch /tmp/job.sh"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("ssh call missing %q: %s", want, joined)
		}
	}
}

func TestSubmitNoJobID(t *testing.T) {
	c := NewSlurmClient(&plainRunner{out: "sbatch: error"})
	if _, err := c.Submit(context.Background(), "/tmp/job.sh", nil); err == nil {
		t.Fatal("missing job id should be an error")
	}
}

type plainRunner struct{ out string }

func (p *plainRunner) Run(context.Context, string, ...string) (string, error) {
	return p.out, nil
}

func TestPendingJobs(t *testing.T) {
	r := &fakeRunner{squeue: queueListing(3)}
	c := NewSlurmClient(r)
	n, err := c.PendingJobs(context.Background(), "bttest01")
	if err != nil {
		t.Fatalf("PendingJobs: %v", err)
	}
	if n != 3 {
		t.Fatalf("pending = %d, want 3", n)
	}
}

func TestReservedNodesOverloaded(t *testing.T) {
	under := NewSlurmClient(&fakeRunner{squeue: queueListing(reservedNodeJobLimit)})
	if under.ReservedNodesOverloaded(context.Background(), "node1,node2") {
		t.Fatal("at the limit should not be overloaded")
	}
	over := NewSlurmClient(&fakeRunner{squeue: queueListing(reservedNodeJobLimit + 1)})
	if !over.ReservedNodesOverloaded(context.Background(), "node1,node2") {
		t.Fatal("over the limit should be overloaded")
	}
	// A failing probe keeps the reservation preferred.
	broken := NewSlurmClient(&fakeRunner{fail: true})
	if broken.ReservedNodesOverloaded(context.Background(), "node1") {
		t.Fatal("failing probe should not count as overloaded")
	}
}

func TestBatchScriptRender(t *testing.T) {
	s := BatchScript{
		JobName:     "run_001_XDS",
		Partition:   "ponline",
		Reservation: "res_p09",
		Nodes:       1,
		Chdir:       "/processed/run_001/xds",
		Output:      "/processed/run_001/xds/run_001.out",
		Error:       "/processed/run_001/xds/run_001.err",
		Modules:     []string{"xray", "autoproc"},
		Commands:    []string{"xds_par"},
	}
	text := s.Render()

	if !strings.HasPrefix(text, "#!/bin/sh\n") {
		t.Fatalf("missing shebang: %q", text)
	}
	for _, want := range []string{
		"#SBATCH --job-name=run_001_XDS",
		"#SBATCH --partition=ponline",
		"#SBATCH --reservation=res_p09",
		"#SBATCH --chdir=/processed/run_001/xds",
		"module load xray autoproc",
		"xds_par\n",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("script missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "--time=") || strings.Contains(text, "--nice=") {
		t.Fatalf("empty directives should be omitted:\n%s", text)
	}
}

func TestBatchScriptWrite(t *testing.T) {
	s := BatchScript{JobName: "j", Partition: "p", Output: "o", Error: "e", Commands: []string{"true"}}
	path := filepath.Join(t.TempDir(), "job.sh")
	if err := s.Write(path); err != nil {
		t.Fatalf("Write: %v", err)
	}
	st, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if st.Mode()&0o111 == 0 {
		t.Fatal("script not executable")
	}
}

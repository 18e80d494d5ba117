package dispatch

// SSHLogin describes how to reach the login node that accepts sbatch
// for the beamtime reservation. Batch-mode public-key auth only: the
// orchestrator must never hang on a password prompt.
type SSHLogin struct {
	User    string
	KeyPath string
	Node    string
}

const sshBinary = "/usr/bin/ssh"

func sshArgs(login SSHLogin) []string {
	return []string{
		"-o", "BatchMode=yes",
		"-o", "CheckHostIP=no",
		"-o", "StrictHostKeyChecking=no",
		"-o", "GSSAPIAuthentication=no",
		"-o", "GSSAPIDelegateCredentials=no",
		"-o", "PasswordAuthentication=no",
		"-o", "PubkeyAuthentication=yes",
		"-o", "PreferredAuthentications=publickey",
		"-o", "ConnectTimeout=10",
		"-l", login.User,
		"-i", login.KeyPath,
		login.Node,
	}
}
